package publisher

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/routebeacon/bmp-collector/internal/collector"
	"github.com/routebeacon/bmp-collector/internal/config"
	"github.com/routebeacon/bmp-collector/internal/wire"
)

func testUpdate() collector.Update {
	return collector.Update{
		RouterAddr: netip.MustParseAddr("::ffff:10.0.0.1"),
		PeerAddr:   netip.MustParseAddr("::ffff:192.0.2.1"),
		PeerBGPID:  netip.MustParseAddr("192.0.2.1"),
		PrefixAddr: netip.MustParseAddr("::ffff:10.0.1.0"),
		PrefixLen:  24,
		Announced:  true,
	}
}

func TestCollectBatch_StopsAtWallClockDeadline(t *testing.T) {
	p := &Publisher{cfg: config.KafkaConfig{MessageMaxBytes: 1 << 20}, log: zap.NewNop()}
	in := make(chan collector.Update)
	defer close(in)

	start := time.Now()
	batch, carry, n, ok := p.collectBatch(context.Background(), in, nil, 30*time.Millisecond, 5*time.Millisecond)
	elapsed := time.Since(start)

	if !ok {
		t.Fatal("expected ok=true when channel remains open past the deadline")
	}
	if n != 0 || len(batch) != 0 || carry != nil {
		t.Fatalf("expected an empty batch with no updates sent, got n=%d batch=%d carry=%v", n, len(batch), carry)
	}
	if elapsed < 30*time.Millisecond {
		t.Fatalf("expected collectBatch to run for at least the wait deadline, took %v", elapsed)
	}
}

func TestCollectBatch_CollectsAvailableUpdates(t *testing.T) {
	p := &Publisher{cfg: config.KafkaConfig{MessageMaxBytes: 1 << 20}, log: zap.NewNop()}
	in := make(chan collector.Update, 2)
	in <- testUpdate()
	in <- testUpdate()

	batch, _, n, ok := p.collectBatch(context.Background(), in, nil, 50*time.Millisecond, 5*time.Millisecond)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if n != 2 {
		t.Fatalf("expected 2 updates collected, got %d", n)
	}
	if len(batch) == 0 {
		t.Fatal("expected a non-empty serialized batch")
	}
}

func TestCollectBatch_OversizedUpdateCarriesOver(t *testing.T) {
	u := testUpdate()
	rec, err := wire.Marshal(&u)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}

	// message_max_bytes smaller than two records combined, but large
	// enough for one: the second record must carry over, not be dropped.
	p := &Publisher{cfg: config.KafkaConfig{MessageMaxBytes: len(rec) + 1}, log: zap.NewNop()}
	in := make(chan collector.Update, 2)
	in <- u
	in <- u

	batch, carry, n, ok := p.collectBatch(context.Background(), in, nil, 50*time.Millisecond, 2*time.Millisecond)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 update in the first batch, got %d", n)
	}
	if len(batch) == 0 {
		t.Fatal("expected a non-empty batch")
	}
	if carry == nil {
		t.Fatal("expected the second record to carry over, got nil carry")
	}
}

func TestCollectBatch_ChannelClosedEndsLoop(t *testing.T) {
	p := &Publisher{cfg: config.KafkaConfig{MessageMaxBytes: 1 << 20}, log: zap.NewNop()}
	in := make(chan collector.Update, 1)
	in <- testUpdate()
	close(in)

	batch, _, n, ok := p.collectBatch(context.Background(), in, nil, 50*time.Millisecond, 2*time.Millisecond)
	if ok {
		t.Fatal("expected ok=false once the channel is closed and drained")
	}
	if n != 1 || len(batch) == 0 {
		t.Fatalf("expected the buffered update to still be collected, got n=%d batch=%d", n, len(batch))
	}
}

func TestRun_DisabledDrainsWithoutBlocking(t *testing.T) {
	p := &Publisher{cfg: config.KafkaConfig{Enable: false}, log: zap.NewNop()}
	in := make(chan collector.Update, 3)
	in <- testUpdate()
	in <- testUpdate()
	close(in)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return once the disabled drain loop exhausts a closed channel")
	}
}

