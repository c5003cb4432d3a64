// Package bmpenv extracts collector.UpdateMetadata and dispatch routing
// information from a raw BMP message's common header and per-peer header.
// It is a thin adapter over bgpfix/bgpfix/bmp: that package's envelope
// parsing (Bmp.FromBytes, Peer.FromBytes) is reused as-is, but its
// attribute-parsing subpackage is not — see DESIGN.md for why.
package bmpenv

import (
	"fmt"
	"net/netip"

	"github.com/bgpfix/bgpfix/bmp"

	"github.com/routebeacon/bmp-collector/internal/collector"
)

// MsgType re-exports the BMP message type codes this package's callers
// switch on, so the dispatcher need not import bgpfix/bgpfix/bmp directly.
type MsgType = bmp.MsgType

const (
	MsgRouteMonitoring  = bmp.MSG_ROUTE_MONITORING
	MsgStatisticsReport = bmp.MSG_STATISTICS_REPORT
	MsgPeerDown         = bmp.MSG_PEER_DOWN
	MsgPeerUp           = bmp.MSG_PEER_UP
	MsgInitiation       = bmp.MSG_INITIATION
	MsgTermination      = bmp.MSG_TERMINATION
	MsgRouteMirroring   = bmp.MSG_ROUTE_MIRRORING
)

// Envelope is a fully parsed BMP message: its type, the per-peer header
// (when present) translated into collector terms, and the raw BGP message
// payload for Route Monitoring.
type Envelope struct {
	Type MsgType

	HasPeer  bool
	Metadata collector.UpdateMetadata

	BGPData []byte
}

// Parse decodes one complete BMP message (as framed by the framer package)
// into an Envelope. routerAddr and routerPort identify the TCP connection
// the message arrived on; they are not carried inside the BMP message
// itself.
func Parse(data []byte, routerAddr netip.Addr, routerPort uint16) (*Envelope, error) {
	var msg bmp.Bmp
	if _, err := msg.FromBytes(data); err != nil {
		return nil, fmt.Errorf("bmpenv: %w", err)
	}

	env := &Envelope{Type: msg.Type}

	if msg.HasPerPeerHeader() {
		env.HasPeer = true
		env.Metadata = collector.UpdateMetadata{
			BMPTimestamp: msg.Peer.Time,
			RouterAddr:   routerAddr,
			RouterPort:   routerPort,
			PeerAddr:     collector.NormalizeToV4In6(msg.Peer.Address),
			PeerBGPID:    bgpIDToAddr(msg.Peer.ID),
			PeerASN:      msg.Peer.AS,
			PostPolicy:   msg.Peer.IsPostPolicy(),
			AdjRIBOut:    msg.Peer.Type == peerTypeLocRIB,
			HasAddPath:   false, // not negotiated/tracked: NLRI are always parsed without Add-Path identifiers
		}
	}

	if msg.Type == bmp.MSG_ROUTE_MONITORING {
		env.BGPData = msg.BgpData
	}

	return env, nil
}

// peerTypeLocRIB is the Loc-RIB peer type defined by RFC 9069, used to
// recognize adj-rib-out (post-policy, locally originated) feeds.
const peerTypeLocRIB = 3

func bgpIDToAddr(id uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{
		byte(id >> 24),
		byte(id >> 16),
		byte(id >> 8),
		byte(id),
	})
}
