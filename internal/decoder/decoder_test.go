package decoder

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/routebeacon/bmp-collector/internal/collector"
)

func bgpHeader(msgType byte, bodyLen int) []byte {
	h := make([]byte, 19)
	binary.BigEndian.PutUint16(h[16:18], uint16(19+bodyLen))
	h[18] = msgType
	return h
}

// buildUpdate constructs a minimal legacy BGP UPDATE: withdrawn-len,
// withdrawn prefixes, attr-len, attrs, NLRI.
func buildUpdate(withdrawn, attrs, nlri []byte) []byte {
	body := make([]byte, 0)
	wl := make([]byte, 2)
	binary.BigEndian.PutUint16(wl, uint16(len(withdrawn)))
	body = append(body, wl...)
	body = append(body, withdrawn...)
	al := make([]byte, 2)
	binary.BigEndian.PutUint16(al, uint16(len(attrs)))
	body = append(body, al...)
	body = append(body, attrs...)
	body = append(body, nlri...)
	return append(bgpHeader(2, len(body)), body...)
}

func prefixBytes(prefix string) []byte {
	p := netip.MustParsePrefix(prefix)
	addr4 := p.Addr().As4()
	byteLen := (p.Bits() + 7) / 8
	out := []byte{byte(p.Bits())}
	return append(out, addr4[:byteLen]...)
}

func TestDecode_NovelAnnounce(t *testing.T) {
	originAttr := []byte{0x40, 1, 1, 0} // ORIGIN=IGP
	msg := buildUpdate(nil, originAttr, prefixBytes("10.0.1.0/24"))

	meta := collector.UpdateMetadata{
		BMPTimestamp: time.Unix(0, 0),
		RouterAddr:   netip.MustParseAddr("10.0.0.1"),
		RouterPort:   4000,
		PeerAddr:     netip.MustParseAddr("192.0.2.1"),
		PeerBGPID:    netip.MustParseAddr("192.0.2.1"),
		PeerASN:      65000,
	}

	updates, err := Decode(msg, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	u := updates[0]
	if !u.Announced {
		t.Fatal("expected announced=true")
	}
	if u.PrefixLen != 24 {
		t.Fatalf("expected /24, got /%d", u.PrefixLen)
	}
	want := netip.MustParseAddr("::ffff:10.0.1.0")
	if u.PrefixAddr != want {
		t.Fatalf("expected normalized prefix %s, got %s", want, u.PrefixAddr)
	}
	if u.Origin != "IGP" {
		t.Fatalf("expected origin IGP, got %s", u.Origin)
	}
}

func TestDecode_EmitOrder(t *testing.T) {
	originAttr := []byte{0x40, 1, 1, 0}
	msg := buildUpdate(prefixBytes("10.0.2.0/24"), originAttr, prefixBytes("10.0.1.0/24"))

	meta := collector.UpdateMetadata{
		RouterAddr: netip.MustParseAddr("10.0.0.1"),
		PeerAddr:   netip.MustParseAddr("192.0.2.1"),
		PeerBGPID:  netip.MustParseAddr("192.0.2.1"),
	}

	updates, err := Decode(msg, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if !updates[0].Announced {
		t.Fatal("expected announced update first (legacy announced before legacy withdrawn)")
	}
	if updates[1].Announced {
		t.Fatal("expected withdrawn update second")
	}
}
