// Package collector holds the data types shared by every stage of the BMP
// pipeline: the canonical Update record and the keys the RIB view indexes by.
package collector

import (
	"net/netip"
	"time"
)

// PeerKey identifies an independent BGP peering session observed through a
// single router's BMP feed. Two peers at the same router are independent
// entries in the RIB view; the same peer address at two routers is also
// independent.
type PeerKey struct {
	Router netip.Addr
	Peer   netip.Addr
}

// PrefixKey identifies a single NLRI entry within a peer's RIB, distinct by
// direction (post-policy, adj-rib-out) as well as by network. The router's
// notion of "this prefix observed under this policy view" is one PrefixKey.
type PrefixKey struct {
	Addr      netip.Addr
	Length    uint8
	PostPolicy bool
	AdjRIBOut  bool
}

// Community is a standard BGP community, (ASN, value).
type Community struct {
	ASN   uint32
	Value uint16
}

// Well-known community reserved encodings (RFC 1997).
var (
	CommunityNoExport          = Community{ASN: 0xFFFF, Value: 0xFF01}
	CommunityNoAdvertise       = Community{ASN: 0xFFFF, Value: 0xFF02}
	CommunityNoExportSubConfed = Community{ASN: 0xFFFF, Value: 0xFF03}
)

// ExtCommunity is an 8-byte extended community, kept as its type/subtype
// octets plus the 6-byte opaque value (RFC 4360).
type ExtCommunity struct {
	Type    byte
	Subtype byte
	Value   [6]byte
}

// LargeCommunity is a (global, local1, local2) triple (RFC 8092).
type LargeCommunity struct {
	Global uint32
	Local1 uint32
	Local2 uint32
}

// Update is the canonical route-change record emitted by the Decoder and
// handed through the RIB View, the Channel, and finally the Publisher.
type Update struct {
	ReceivedAt    time.Time // wall-clock receive time
	BMPTimestamp  time.Time // timestamp carried by the BMP per-peer header

	RouterAddr netip.Addr
	RouterPort uint16

	PeerAddr  netip.Addr
	PeerBGPID netip.Addr // always a 4-byte BGP identifier, rendered as an IPv4 address
	PeerASN   uint32

	PrefixAddr netip.Addr
	PrefixLen  uint8

	Announced bool
	PostPolicy bool
	AdjRIBOut  bool
	Synthetic  bool

	Origin string // "IGP", "EGP", or "INCOMPLETE"
	ASPath []uint32

	NextHop *netip.Addr
	MED     *uint32
	LocalPref *uint32

	OnlyToCustomer *uint32 // RFC 9234 OTC attribute; nil if absent

	AtomicAggregate bool
	AggregatorASN   *uint32
	AggregatorBGPID *netip.Addr

	OriginatorID *netip.Addr
	ClusterList  []netip.Addr

	Communities         []Community
	ExtendedCommunities []ExtCommunity
	LargeCommunities    []LargeCommunity

	MPReachAFI   uint16
	MPUnreachAFI uint16
}

// Key returns the PeerKey this update belongs to.
func (u *Update) Key() PeerKey {
	return PeerKey{Router: u.RouterAddr, Peer: u.PeerAddr}
}

// PrefixKeyOf returns the PrefixKey this update's prefix resolves to.
func (u *Update) PrefixKeyOf() PrefixKey {
	return PrefixKey{
		Addr:       u.PrefixAddr,
		Length:     u.PrefixLen,
		PostPolicy: u.PostPolicy,
		AdjRIBOut:  u.AdjRIBOut,
	}
}

// UpdateMetadata is what the Dispatcher extracts from a BMP message's common
// header and per-peer header before handing the body to the Decoder.
type UpdateMetadata struct {
	BMPTimestamp time.Time

	RouterAddr netip.Addr
	RouterPort uint16

	PeerAddr  netip.Addr
	PeerBGPID netip.Addr
	PeerASN   uint32

	PostPolicy bool
	AdjRIBOut  bool

	HasAddPath bool
}

// NormalizeToV4In6 maps an IPv4 address to its IPv4-in-IPv6 form
// (::ffff:a.b.c.d). IPv6 addresses are returned unchanged. This is applied
// universally to router, peer, prefix, and next-hop addresses per the RIB
// view's address-representation invariant.
func NormalizeToV4In6(addr netip.Addr) netip.Addr {
	if addr.Is4() {
		return netip.AddrFrom16(addr.As16())
	}
	return addr
}
