package wire

import (
	"bytes"
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/routebeacon/bmp-collector/internal/collector"
)

func TestMarshal_EndsWithNewline(t *testing.T) {
	u := &collector.Update{
		ReceivedAt: time.Unix(0, 0),
		RouterAddr: netip.MustParseAddr("::ffff:10.0.0.1"),
		PeerAddr:   netip.MustParseAddr("::ffff:192.0.2.1"),
		PeerBGPID:  netip.MustParseAddr("192.0.2.1"),
		PrefixAddr: netip.MustParseAddr("::ffff:10.0.1.0"),
		PrefixLen:  24,
		Announced:  true,
		Origin:     "IGP",
	}

	b, err := Marshal(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasSuffix(b, []byte("\n")) {
		t.Fatal("expected marshaled record to end with a newline")
	}
	if bytes.Count(b, []byte("\n")) != 1 {
		t.Fatal("expected exactly one newline")
	}
}

func TestMarshal_PrefixIsCIDRString(t *testing.T) {
	u := &collector.Update{
		RouterAddr: netip.MustParseAddr("::ffff:10.0.0.1"),
		PeerAddr:   netip.MustParseAddr("::ffff:192.0.2.1"),
		PeerBGPID:  netip.MustParseAddr("192.0.2.1"),
		PrefixAddr: netip.MustParseAddr("::ffff:10.0.1.0"),
		PrefixLen:  24,
		Announced:  true,
	}

	b, err := Marshal(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if decoded["prefix"] != "::ffff:10.0.1.0/24" {
		t.Fatalf("expected prefix field, got %v", decoded["prefix"])
	}
}

func TestMarshal_OmitsAbsentOptionalFields(t *testing.T) {
	u := &collector.Update{
		RouterAddr: netip.MustParseAddr("::ffff:10.0.0.1"),
		PeerAddr:   netip.MustParseAddr("::ffff:192.0.2.1"),
		PeerBGPID:  netip.MustParseAddr("192.0.2.1"),
		PrefixAddr: netip.MustParseAddr("::ffff:10.0.1.0"),
		PrefixLen:  24,
		Announced:  false,
	}

	b, err := Marshal(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	for _, field := range []string{"next_hop", "med", "local_pref", "only_to_customer", "aggregator_asn"} {
		if _, present := decoded[field]; present {
			t.Fatalf("expected field %q to be omitted when nil, got %v", field, decoded[field])
		}
	}
}
