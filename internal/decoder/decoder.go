// Package decoder converts a BMP RouteMonitoring message's embedded BGP
// UPDATE into the collector's canonical Update records.
package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/routebeacon/bmp-collector/internal/bgpattr"
	"github.com/routebeacon/bmp-collector/internal/collector"
)

// bgpHeaderSize is the 16-byte marker + 2-byte length + 1-byte type BGP
// message header preceding every BGP message, including the UPDATE this
// decoder expects.
const bgpHeaderSize = 19

const bgpMsgTypeUpdate = 2

// Decode parses a full BGP message (including its 19-byte header) known to
// carry a RouteMonitoring payload, and returns the ordered Update records it
// produces: legacy announced, legacy withdrawn, MP-reach announced, then
// MP-unreach withdrawn. Within each group, parser order is preserved. This
// ordering is the emit order the rest of the pipeline depends on.
func Decode(data []byte, meta collector.UpdateMetadata) ([]collector.Update, error) {
	if len(data) < bgpHeaderSize {
		return nil, fmt.Errorf("decoder: message too short (%d bytes)", len(data))
	}
	if data[18] != bgpMsgTypeUpdate {
		return nil, nil
	}
	return decodePayload(data[bgpHeaderSize:], meta)
}

func decodePayload(data []byte, meta collector.UpdateMetadata) ([]collector.Update, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("decoder: update payload too short (%d bytes)", len(data))
	}

	offset := 0

	withdrawnLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+withdrawnLen > len(data) {
		return nil, fmt.Errorf("decoder: withdrawn length %d exceeds data", withdrawnLen)
	}
	withdrawn, err := bgpattr.ParsePrefixes(data[offset:offset+withdrawnLen], 4, meta.HasAddPath)
	if err != nil {
		return nil, fmt.Errorf("decoder: withdrawn prefixes: %w", err)
	}
	offset += withdrawnLen

	if offset+2 > len(data) {
		return nil, fmt.Errorf("decoder: no room for path attribute length")
	}
	totalAttrLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+totalAttrLen > len(data) {
		return nil, fmt.Errorf("decoder: path attribute length %d exceeds data", totalAttrLen)
	}
	attrs, err := bgpattr.Parse(data[offset:offset+totalAttrLen], meta.HasAddPath)
	if err != nil {
		return nil, fmt.Errorf("decoder: path attributes: %w", err)
	}
	offset += totalAttrLen

	announced, err := bgpattr.ParsePrefixes(data[offset:], 4, meta.HasAddPath)
	if err != nil {
		return nil, fmt.Errorf("decoder: announced prefixes: %w", err)
	}

	base := baseUpdate(meta, attrs)

	var out []collector.Update

	// (a) legacy announced
	for _, p := range announced {
		out = append(out, withPrefix(base, p.Addr, p.Length, true))
	}
	// (b) legacy withdrawn
	for _, p := range withdrawn {
		out = append(out, withPrefix(withdrawOnly(meta), p.Addr, p.Length, false))
	}
	// (c) MP-reach announced
	for _, p := range attrs.MPReachNLRI {
		out = append(out, withPrefix(base, p.Addr, p.Length, true))
	}
	// (d) MP-unreach withdrawn
	for _, p := range attrs.MPUnreachNLRI {
		out = append(out, withPrefix(withdrawOnly(meta), p.Addr, p.Length, false))
	}

	return out, nil
}

// baseUpdate builds the template Update carrying every attribute common to
// all announced prefixes in this message; per-prefix fields are filled in by
// withPrefix.
func baseUpdate(meta collector.UpdateMetadata, attrs *bgpattr.Attributes) collector.Update {
	u := collector.Update{
		ReceivedAt:   time.Now().UTC(),
		BMPTimestamp: meta.BMPTimestamp,
		RouterAddr:   collector.NormalizeToV4In6(meta.RouterAddr),
		RouterPort:   meta.RouterPort,
		PeerAddr:     collector.NormalizeToV4In6(meta.PeerAddr),
		PeerBGPID:    meta.PeerBGPID,
		PeerASN:      meta.PeerASN,
		PostPolicy:   meta.PostPolicy,
		AdjRIBOut:    meta.AdjRIBOut,
		Origin:       attrs.Origin,
		ASPath:       bgpattr.FlattenASPath(attrs.Segments),

		AtomicAggregate: attrs.AtomicAggregate,
		AggregatorASN:   attrs.AggregatorASN,
		OnlyToCustomer:  attrs.OnlyToCustomer,

		ClusterList: attrs.ClusterList,
	}

	if attrs.NextHop != nil {
		nh := collector.NormalizeToV4In6(*attrs.NextHop)
		u.NextHop = &nh
	}
	if attrs.MPReachNextHop != nil {
		nh := collector.NormalizeToV4In6(*attrs.MPReachNextHop)
		if u.NextHop == nil {
			u.NextHop = &nh
		}
	}
	if attrs.AggregatorBGPID != nil {
		id := collector.NormalizeToV4In6(*attrs.AggregatorBGPID)
		u.AggregatorBGPID = &id
	}
	if attrs.OriginatorID != nil {
		id := collector.NormalizeToV4In6(*attrs.OriginatorID)
		u.OriginatorID = &id
	}
	u.MED = attrs.MED
	u.LocalPref = attrs.LocalPref
	u.MPReachAFI = attrs.MPReachAFI
	u.MPUnreachAFI = attrs.MPUnreachAFI

	u.Communities = toCollectorCommunities(attrs.Communities)
	u.ExtendedCommunities = toCollectorExtCommunities(attrs.ExtendedCommunities)
	u.LargeCommunities = toCollectorLargeCommunities(attrs.LargeCommunities)

	return u
}

// withdrawOnly builds the minimal Update template used for withdrawn
// prefixes, which carry no meaningful path attributes.
func withdrawOnly(meta collector.UpdateMetadata) collector.Update {
	return collector.Update{
		ReceivedAt:   time.Now().UTC(),
		BMPTimestamp: meta.BMPTimestamp,
		RouterAddr:   collector.NormalizeToV4In6(meta.RouterAddr),
		RouterPort:   meta.RouterPort,
		PeerAddr:     collector.NormalizeToV4In6(meta.PeerAddr),
		PeerBGPID:    meta.PeerBGPID,
		PeerASN:      meta.PeerASN,
		PostPolicy:   meta.PostPolicy,
		AdjRIBOut:    meta.AdjRIBOut,
	}
}

func withPrefix(base collector.Update, addr netip.Addr, length uint8, announced bool) collector.Update {
	u := base
	u.PrefixAddr = collector.NormalizeToV4In6(addr)
	u.PrefixLen = length
	u.Announced = announced
	u.Synthetic = false
	return u
}

func toCollectorCommunities(in []bgpattr.Community) []collector.Community {
	if len(in) == 0 {
		return nil
	}
	out := make([]collector.Community, len(in))
	for i, c := range in {
		out[i] = collector.Community{ASN: c.ASN, Value: c.Value}
	}
	return out
}

func toCollectorExtCommunities(in []bgpattr.ExtCommunity) []collector.ExtCommunity {
	if len(in) == 0 {
		return nil
	}
	out := make([]collector.ExtCommunity, len(in))
	for i, c := range in {
		out[i] = collector.ExtCommunity{Type: c.Type, Subtype: c.Subtype, Value: c.Value}
	}
	return out
}

func toCollectorLargeCommunities(in []bgpattr.LargeCommunity) []collector.LargeCommunity {
	if len(in) == 0 {
		return nil
	}
	out := make([]collector.LargeCommunity, len(in))
	for i, c := range in {
		out[i] = collector.LargeCommunity{Global: c.Global, Local1: c.Local1, Local2: c.Local2}
	}
	return out
}
