// Package publisher batches collector.Update records and ships them to
// Kafka as newline-delimited JSON, grounded on the reference collector's
// dual-threshold batching producer loop.
package publisher

import (
	"context"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/routebeacon/bmp-collector/internal/collector"
	"github.com/routebeacon/bmp-collector/internal/config"
	"github.com/routebeacon/bmp-collector/internal/metrics"
	"github.com/routebeacon/bmp-collector/internal/wire"
)

// Publisher batches updates read off a channel and publishes them to a
// Kafka topic. Delivery is at-most-once: a failed publish is logged and
// counted, never retried, so a batch is never held past its deadline.
type Publisher struct {
	cfg    config.KafkaConfig
	client *kgo.Client
	log    *zap.Logger
}

// New constructs a Publisher. If cfg.Enable is false, the returned
// Publisher's Run drains and discards everything from in without ever
// touching the network, matching the reference collector's disabled-mode
// behavior of a producer that reads and throws away.
func New(cfg config.KafkaConfig, log *zap.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, log: log}
	if !cfg.Enable {
		return p, nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerBatchMaxBytes(int32(cfg.MessageMaxBytes)),
	}
	if strings.ToUpper(cfg.AuthProtocol) == "SASL_PLAINTEXT" {
		if mech := cfg.BuildSASLMechanism(); mech != nil {
			opts = append(opts, kgo.SASL(mech))
		}
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	p.client = client
	return p, nil
}

// Run batches updates from in and publishes them to the configured topic
// until in is closed. Each batch is bounded by two thresholds: a
// wall-clock deadline (batch_wait_time_ms) and a byte budget
// (message_max_bytes); while the channel is empty it sleeps
// batch_wait_interval_ms between reads. An update that would overflow
// message_max_bytes is carried over, unpublished, to the next batch rather
// than split or dropped.
func (p *Publisher) Run(ctx context.Context, in <-chan collector.Update) {
	if !p.cfg.Enable {
		p.log.Debug("publisher: disabled, draining updates")
		for range in {
		}
		return
	}
	defer p.client.Close()

	batchWait := time.Duration(p.cfg.BatchWaitTimeMs) * time.Millisecond
	pollInterval := time.Duration(p.cfg.BatchWaitIntervalMs) * time.Millisecond

	var carry []byte
	for {
		batch, nextCarry, n, ok := p.collectBatch(ctx, in, carry, batchWait, pollInterval)
		carry = nextCarry
		if n > 0 {
			p.publish(ctx, batch, n)
		}
		if !ok {
			return
		}
	}
}

// collectBatch assembles one batch of newline-delimited JSON payloads. It
// returns ok=false when in has been closed and fully drained, signaling
// the caller to stop after flushing whatever it collected.
func (p *Publisher) collectBatch(ctx context.Context, in <-chan collector.Update, carry []byte, batchWait, pollInterval time.Duration) ([]byte, []byte, int, bool) {
	deadline := time.Now().Add(batchWait)
	batch := make([]byte, 0, len(carry)+4096)
	n := 0

	if len(carry) > 0 {
		batch = append(batch, carry...)
		n++
		carry = nil
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return batch, nil, n, false
		case u, open := <-in:
			if !open {
				return batch, nil, n, false
			}
			msg, err := wire.Marshal(&u)
			if err != nil {
				p.log.Error("publisher: failed to serialize update", zap.Error(err))
				continue
			}
			if len(batch)+len(msg) > p.cfg.MessageMaxBytes && n > 0 {
				return batch, msg, n, true
			}
			batch = append(batch, msg...)
			n++
		default:
			select {
			case <-ctx.Done():
				return batch, nil, n, false
			case <-time.After(pollInterval):
			}
		}
	}
	return batch, nil, n, true
}

// publish sends one batch as a single Kafka record. Failures are logged
// and counted; there is no retry, matching the at-most-once delivery the
// batching loop is built around.
func (p *Publisher) publish(ctx context.Context, batch []byte, n int) {
	p.log.Debug("publisher: sending batch", zap.Int("updates", n), zap.Int("bytes", len(batch)))

	record := &kgo.Record{Topic: p.cfg.Topic, Value: batch}
	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		metrics.KafkaMessagesTotal.WithLabelValues("failed").Inc()
		p.log.Error("publisher: failed to send batch", zap.Error(err))
		return
	}
	metrics.KafkaMessagesTotal.WithLabelValues("success").Inc()
}
