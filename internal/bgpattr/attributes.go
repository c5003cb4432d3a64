// Package bgpattr parses the path-attribute section of a BGP UPDATE message
// into typed Go values. It is hand-written rather than built on a
// third-party attribute-decoding library; see DESIGN.md for why.
package bgpattr

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
)

// BGP path attribute type codes (RFC 4271, RFC 4360, RFC 6793, RFC 8092,
// RFC 9234).
const (
	TypeOrigin          uint8 = 1
	TypeASPath          uint8 = 2
	TypeNextHop         uint8 = 3
	TypeMED             uint8 = 4
	TypeLocalPref       uint8 = 5
	TypeAtomicAggregate uint8 = 6
	TypeAggregator      uint8 = 7
	TypeCommunity       uint8 = 8
	TypeOriginatorID    uint8 = 9
	TypeClusterList     uint8 = 10
	TypeMPReachNLRI     uint8 = 14
	TypeMPUnreachNLRI   uint8 = 15
	TypeExtCommunity    uint8 = 16
	TypeAS4Path         uint8 = 17
	TypeAS4Aggregator   uint8 = 18
	TypeLargeCommunity  uint8 = 32
	TypeOnlyToCustomer  uint8 = 35
)

// AFI/SAFI codes.
const (
	AFIIPv4 uint16 = 1
	AFIIPv6 uint16 = 2

	SAFIUnicast uint8 = 1
)

// AS_PATH segment types.
const (
	segmentSet      uint8 = 1
	segmentSequence uint8 = 2
)

// OriginValues maps the ORIGIN attribute's single byte value to its name.
var OriginValues = map[uint8]string{
	0: "IGP",
	1: "EGP",
	2: "INCOMPLETE",
}

// ASPathSegment is one segment of the AS_PATH attribute prior to flattening.
type ASPathSegment struct {
	IsSet bool
	ASNs  []uint32
}

// PrefixInfo is a single NLRI entry with an optional Add-Path identifier.
type PrefixInfo struct {
	Addr   netip.Addr
	Length uint8
	PathID uint32
}

// Attributes holds every path attribute this collector cares about, parsed
// once per BGP UPDATE and then cloned into each per-prefix Update record.
type Attributes struct {
	Origin   string
	Segments []ASPathSegment
	NextHop  *netip.Addr
	MED      *uint32
	LocalPref *uint32

	AtomicAggregate bool
	AggregatorASN   *uint32
	AggregatorBGPID *netip.Addr

	OriginatorID *netip.Addr
	ClusterList  []netip.Addr

	OnlyToCustomer *uint32

	Communities         []Community
	ExtendedCommunities []ExtCommunity
	LargeCommunities    []LargeCommunity

	MPReachAFI     uint16
	MPReachNextHop *netip.Addr
	MPReachNLRI    []PrefixInfo

	MPUnreachAFI uint16
	MPUnreachNLRI []PrefixInfo

	// Unknown carries attributes this decoder does not recognise, keyed by
	// type code, hex-encoded, for observability only.
	Unknown map[uint8]string
}

type Community struct {
	ASN   uint32
	Value uint16
}

type ExtCommunity struct {
	Type    byte
	Subtype byte
	Value   [6]byte
}

type LargeCommunity struct {
	Global uint32
	Local1 uint32
	Local2 uint32
}

// Parse walks the path-attribute TLV section of a BGP UPDATE (the bytes
// following the withdrawn-routes block and its length prefix) and returns
// the attributes found. hasAddPath controls whether NLRI parsing expects a
// leading 4-byte path identifier.
func Parse(data []byte, hasAddPath bool) (*Attributes, error) {
	attrs := &Attributes{Unknown: make(map[uint8]string)}

	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return attrs, fmt.Errorf("bgpattr: attr header truncated at offset %d", offset)
		}

		flags := data[offset]
		typeCode := data[offset+1]
		offset += 2

		var attrLen int
		if flags&0x10 != 0 { // Extended Length
			if offset+2 > len(data) {
				return attrs, fmt.Errorf("bgpattr: extended attr length truncated")
			}
			attrLen = int(binary.BigEndian.Uint16(data[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(data) {
				return attrs, fmt.Errorf("bgpattr: attr length truncated")
			}
			attrLen = int(data[offset])
			offset++
		}

		if offset+attrLen > len(data) {
			return attrs, fmt.Errorf("bgpattr: attr data truncated (type %d, need %d, have %d)", typeCode, attrLen, len(data)-offset)
		}

		attrData := data[offset : offset+attrLen]
		offset += attrLen

		switch typeCode {
		case TypeOrigin:
			parseOrigin(attrData, attrs)
		case TypeASPath, TypeAS4Path:
			parseASPath(attrData, attrs)
		case TypeNextHop:
			parseNextHop(attrData, attrs)
		case TypeMED:
			if v, ok := parseU32(attrData); ok {
				attrs.MED = &v
			}
		case TypeLocalPref:
			if v, ok := parseU32(attrData); ok {
				attrs.LocalPref = &v
			}
		case TypeAtomicAggregate:
			attrs.AtomicAggregate = true
		case TypeAggregator, TypeAS4Aggregator:
			parseAggregator(attrData, attrs)
		case TypeOriginatorID:
			parseOriginatorID(attrData, attrs)
		case TypeClusterList:
			parseClusterList(attrData, attrs)
		case TypeOnlyToCustomer:
			if v, ok := parseU32(attrData); ok {
				attrs.OnlyToCustomer = &v
			}
		case TypeCommunity:
			parseCommunity(attrData, attrs)
		case TypeExtCommunity:
			parseExtCommunity(attrData, attrs)
		case TypeLargeCommunity:
			parseLargeCommunity(attrData, attrs)
		case TypeMPReachNLRI:
			parseMPReachNLRI(attrData, attrs, hasAddPath)
		case TypeMPUnreachNLRI:
			parseMPUnreachNLRI(attrData, attrs, hasAddPath)
		default:
			attrs.Unknown[typeCode] = hex.EncodeToString(attrData)
		}
	}

	return attrs, nil
}

func parseU32(data []byte) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

func parseOrigin(data []byte, attrs *Attributes) {
	if len(data) < 1 {
		return
	}
	if v, ok := OriginValues[data[0]]; ok {
		attrs.Origin = v
	} else {
		attrs.Origin = fmt.Sprintf("UNKNOWN(%d)", data[0])
	}
}

// parseASPath walks AS_PATH/AS4_PATH segments into typed ASPathSegment
// values. Flattening (coalesce of contiguous duplicate segments, then
// dropping AS_SET segments) happens later in the decoder, matching the
// original collector's new_path behaviour.
func parseASPath(data []byte, attrs *Attributes) {
	var segments []ASPathSegment
	offset := 0
	for offset+2 <= len(data) {
		segType := data[offset]
		segLen := int(data[offset+1])
		offset += 2

		if offset+segLen*4 > len(data) {
			break
		}

		asns := make([]uint32, segLen)
		for i := 0; i < segLen; i++ {
			asns[i] = binary.BigEndian.Uint32(data[offset : offset+4])
			offset += 4
		}

		segments = append(segments, ASPathSegment{IsSet: segType == segmentSet, ASNs: asns})
	}
	attrs.Segments = segments
}

func parseNextHop(data []byte, attrs *Attributes) {
	if len(data) != 4 {
		return
	}
	addr := netip.AddrFrom4([4]byte(data))
	attrs.NextHop = &addr
}

func parseAggregator(data []byte, attrs *Attributes) {
	switch len(data) {
	case 6: // 2-byte ASN + 4-byte BGP ID
		asn := uint32(binary.BigEndian.Uint16(data[0:2]))
		id := netip.AddrFrom4([4]byte(data[2:6]))
		attrs.AggregatorASN = &asn
		attrs.AggregatorBGPID = &id
	case 8: // 4-byte ASN + 4-byte BGP ID
		asn := binary.BigEndian.Uint32(data[0:4])
		id := netip.AddrFrom4([4]byte(data[4:8]))
		attrs.AggregatorASN = &asn
		attrs.AggregatorBGPID = &id
	}
}

func parseOriginatorID(data []byte, attrs *Attributes) {
	if len(data) != 4 {
		return
	}
	id := netip.AddrFrom4([4]byte(data))
	attrs.OriginatorID = &id
}

func parseClusterList(data []byte, attrs *Attributes) {
	for i := 0; i+4 <= len(data); i += 4 {
		attrs.ClusterList = append(attrs.ClusterList, netip.AddrFrom4([4]byte(data[i:i+4])))
	}
}

func parseCommunity(data []byte, attrs *Attributes) {
	for i := 0; i+4 <= len(data); i += 4 {
		attrs.Communities = append(attrs.Communities, Community{
			ASN:   uint32(binary.BigEndian.Uint16(data[i : i+2])),
			Value: binary.BigEndian.Uint16(data[i+2 : i+4]),
		})
	}
}

func parseExtCommunity(data []byte, attrs *Attributes) {
	for i := 0; i+8 <= len(data); i += 8 {
		var val [6]byte
		copy(val[:], data[i+2:i+8])
		attrs.ExtendedCommunities = append(attrs.ExtendedCommunities, ExtCommunity{
			Type:    data[i],
			Subtype: data[i+1],
			Value:   val,
		})
	}
}

func parseLargeCommunity(data []byte, attrs *Attributes) {
	for i := 0; i+12 <= len(data); i += 12 {
		attrs.LargeCommunities = append(attrs.LargeCommunities, LargeCommunity{
			Global: binary.BigEndian.Uint32(data[i : i+4]),
			Local1: binary.BigEndian.Uint32(data[i+4 : i+8]),
			Local2: binary.BigEndian.Uint32(data[i+8 : i+12]),
		})
	}
}

func parseMPReachNLRI(data []byte, attrs *Attributes, hasAddPath bool) {
	if len(data) < 5 {
		return
	}

	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]
	if safi != SAFIUnicast {
		return // skip non-unicast AFI/SAFI silently
	}
	nhLen := int(data[3])

	attrs.MPReachAFI = afi
	offset := 4

	if offset+nhLen > len(data) {
		return
	}

	nhData := data[offset : offset+nhLen]
	switch nhLen {
	case 4:
		addr := netip.AddrFrom4([4]byte(nhData))
		attrs.MPReachNextHop = &addr
	case 16:
		addr := netip.AddrFrom16([16]byte(nhData))
		attrs.MPReachNextHop = &addr
	case 32:
		// Global + link-local; use the global address.
		addr := netip.AddrFrom16([16]byte(nhData[:16]))
		attrs.MPReachNextHop = &addr
	}
	if attrs.NextHop == nil {
		attrs.NextHop = attrs.MPReachNextHop
	}
	offset += nhLen

	// Skip SNPA entries (RFC 4760: 1-byte count, then N x {1-byte len, len bytes}).
	if offset >= len(data) {
		return
	}
	snpaCount := int(data[offset])
	offset++
	for i := 0; i < snpaCount; i++ {
		if offset >= len(data) {
			return
		}
		snpaLen := int(data[offset])
		offset++
		snpaByteLen := (snpaLen + 1) / 2
		if offset+snpaByteLen > len(data) {
			return
		}
		offset += snpaByteLen
	}

	if v := afiToVersion(afi); v != 0 {
		attrs.MPReachNLRI, _ = parsePrefixes(data[offset:], v, hasAddPath)
	}
}

func parseMPUnreachNLRI(data []byte, attrs *Attributes, hasAddPath bool) {
	if len(data) < 3 {
		return
	}

	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]
	if safi != SAFIUnicast {
		return // skip non-unicast AFI/SAFI silently
	}

	attrs.MPUnreachAFI = afi
	attrs.MPUnreachNLRI, _ = parsePrefixes(data[3:], afiToVersion(afi), hasAddPath)
}

// ParsePrefixes parses a legacy (non-MP) NLRI/withdrawn-routes block:
// sequences of {prefix-length byte, prefix bytes}, optionally prefixed by a
// 4-byte Add-Path identifier.
func ParsePrefixes(data []byte, ipVersion int, hasAddPath bool) ([]PrefixInfo, error) {
	return parsePrefixes(data, ipVersion, hasAddPath)
}

func parsePrefixes(data []byte, ipVersion int, hasAddPath bool) ([]PrefixInfo, error) {
	var prefixes []PrefixInfo
	offset := 0

	for offset < len(data) {
		var pathID uint32
		if hasAddPath {
			if offset+4 > len(data) {
				return prefixes, fmt.Errorf("bgpattr: prefix data truncated at offset %d", offset)
			}
			pathID = binary.BigEndian.Uint32(data[offset : offset+4])
			offset += 4
		}

		if offset >= len(data) {
			return prefixes, fmt.Errorf("bgpattr: prefix data truncated at offset %d", offset)
		}

		prefixLen := int(data[offset])
		offset++

		maxBits := maxIPLen(ipVersion) * 8
		if prefixLen > maxBits {
			return prefixes, fmt.Errorf("bgpattr: prefix length %d exceeds AFI maximum", prefixLen)
		}

		byteLen := (prefixLen + 7) / 8
		if offset+byteLen > len(data) {
			return prefixes, fmt.Errorf("bgpattr: prefix data truncated at offset %d", offset)
		}

		prefixBytes := make([]byte, maxIPLen(ipVersion))
		copy(prefixBytes, data[offset:offset+byteLen])
		offset += byteLen

		var addr netip.Addr
		if ipVersion == 4 {
			addr = netip.AddrFrom4([4]byte(prefixBytes[:4]))
		} else {
			addr = netip.AddrFrom16([16]byte(prefixBytes[:16]))
		}

		prefixes = append(prefixes, PrefixInfo{Addr: addr, Length: uint8(prefixLen), PathID: pathID})
	}

	return prefixes, nil
}

func afiToVersion(afi uint16) int {
	switch afi {
	case AFIIPv4:
		return 4
	case AFIIPv6:
		return 6
	default:
		return 0
	}
}

func maxIPLen(version int) int {
	if version == 4 {
		return 4
	}
	return 16
}

// FlattenASPath coalesces contiguous duplicate segments, then flattens only
// AS_SEQUENCE segments into a single ordered ASN list. AS_SET segments are
// dropped from the flat representation, matching the reference collector's
// new_path algorithm.
func FlattenASPath(segments []ASPathSegment) []uint32 {
	coalesced := coalesceSegments(segments)

	var out []uint32
	for _, seg := range coalesced {
		if !seg.IsSet {
			out = append(out, seg.ASNs...)
		}
	}
	return out
}

func coalesceSegments(segments []ASPathSegment) []ASPathSegment {
	if len(segments) == 0 {
		return nil
	}
	out := []ASPathSegment{segments[0]}
	for _, seg := range segments[1:] {
		last := &out[len(out)-1]
		if last.IsSet == seg.IsSet {
			last.ASNs = append(last.ASNs, seg.ASNs...)
		} else {
			out = append(out, seg)
		}
	}
	return out
}
