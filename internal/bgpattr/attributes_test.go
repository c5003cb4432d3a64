package bgpattr

import (
	"net/netip"
	"testing"
)

func TestFlattenASPath_SequenceOnly(t *testing.T) {
	segs := []ASPathSegment{
		{IsSet: false, ASNs: []uint32{100, 200}},
		{IsSet: false, ASNs: []uint32{300}},
	}
	got := FlattenASPath(segs)
	want := []uint32{100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFlattenASPath_DropsSets(t *testing.T) {
	segs := []ASPathSegment{
		{IsSet: false, ASNs: []uint32{100}},
		{IsSet: true, ASNs: []uint32{64496, 64497}},
		{IsSet: false, ASNs: []uint32{200}},
	}
	got := FlattenASPath(segs)
	want := []uint32{100, 200}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFlattenASPath_CoalescesContiguousDuplicates(t *testing.T) {
	segs := []ASPathSegment{
		{IsSet: false, ASNs: []uint32{100}},
		{IsSet: false, ASNs: []uint32{200}},
	}
	got := FlattenASPath(segs)
	if len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Fatalf("expected coalesced contiguous sequence segments to flatten as one run, got %v", got)
	}
}

func TestParseCommunity(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0x01} // NO_EXPORT
	attrs := &Attributes{}
	parseCommunity(data, attrs)
	if len(attrs.Communities) != 1 {
		t.Fatalf("expected 1 community, got %d", len(attrs.Communities))
	}
	if attrs.Communities[0].ASN != 0xFFFF || attrs.Communities[0].Value != 0xFF01 {
		t.Fatalf("unexpected community: %+v", attrs.Communities[0])
	}
}

func TestParsePrefixes_IPv4(t *testing.T) {
	// /24 prefix 10.0.1.0
	data := []byte{24, 10, 0, 1}
	prefixes, err := ParsePrefixes(data, 4, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prefixes) != 1 {
		t.Fatalf("expected 1 prefix, got %d", len(prefixes))
	}
	want := netip.AddrFrom4([4]byte{10, 0, 1, 0})
	if prefixes[0].Addr != want || prefixes[0].Length != 24 {
		t.Fatalf("unexpected prefix: %+v", prefixes[0])
	}
}

func TestParsePrefixes_AddPath(t *testing.T) {
	data := []byte{0, 0, 0, 7, 24, 10, 0, 2}
	prefixes, err := ParsePrefixes(data, 4, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prefixes) != 1 || prefixes[0].PathID != 7 {
		t.Fatalf("unexpected prefixes: %+v", prefixes)
	}
}

func TestParse_OnlyToCustomer(t *testing.T) {
	// flags=0x40 (optional transitive), type=35, len=4, value=65000
	data := []byte{0x40, TypeOnlyToCustomer, 4, 0, 0, 253, 232}
	attrs, err := Parse(data, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attrs.OnlyToCustomer == nil || *attrs.OnlyToCustomer != 65000 {
		t.Fatalf("expected OTC=65000, got %v", attrs.OnlyToCustomer)
	}
}
