// Package snapshot persists the RIB view to disk so that, after a restart,
// prefixes a router re-announces are recognised as already present instead
// of being emitted again, and prefixes it no longer announces can still be
// withdrawn by peer-up compensation.
// Encoding is gob wrapped in zstd, grounded on the reference collector's
// zstd-compressed on-disk technique, repurposed here from raw BMP payload
// blobs to whole-view snapshots.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/routebeacon/bmp-collector/internal/metrics"
	"github.com/routebeacon/bmp-collector/internal/rib"
)

var zstdEncoder *zstd.Encoder
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("snapshot: zstd encoder init: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("snapshot: zstd decoder init: %v", err))
	}
}

// formatVersion is written as the first byte of every snapshot file so a
// future incompatible encoding can be detected before a gob decode panics.
const formatVersion = 1

// Snapshotter periodically dumps a *rib.View to disk and can restore one
// at startup.
type Snapshotter struct {
	path string
	log  *zap.Logger
}

func New(path string, log *zap.Logger) *Snapshotter {
	return &Snapshotter{path: path, log: log}
}

// Dump atomically writes the view's current contents to disk: it encodes
// to <path>.tmp in the same directory, then renames over the final path,
// so a reader never observes a partially-written snapshot.
func (s *Snapshotter) Dump(view *rib.View) error {
	start := time.Now()
	err := s.dump(view)
	metrics.SnapshotDumpDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotDumpsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.SnapshotDumpsTotal.WithLabelValues("success").Inc()
	return nil
}

func (s *Snapshotter) dump(view *rib.View) error {
	snaps := view.Snapshot()

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(snaps); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	compressed := zstdEncoder.EncodeAll(raw.Bytes(), nil)

	tmpPath := s.path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write([]byte{formatVersion}); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write version header: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write body: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}

	s.log.Debug("snapshot: dumped view", zap.Int("peers", len(snaps)), zap.String("path", s.path))
	return nil
}

// Load restores a view from disk. A missing file is not an error: it
// means there is nothing to restore yet, and the view is left empty. A
// corrupt file is renamed aside with a timestamp suffix (rather than
// deleted) so it can be inspected later, and loading proceeds as if the
// file were missing.
func (s *Snapshotter) Load(view *rib.View) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("snapshot: no existing snapshot, starting with an empty view", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", s.path, err)
	}

	snaps, err := decode(data)
	if err != nil {
		s.log.Warn("snapshot: corrupt snapshot, quarantining and starting empty", zap.Error(err), zap.String("path", s.path))
		s.quarantine()
		return nil
	}

	view.Restore(snaps)
	s.log.Info("snapshot: restored view", zap.Int("peers", len(snaps)), zap.String("path", s.path))
	return nil
}

func decode(data []byte) ([]rib.PeerSnapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snapshot: empty file")
	}
	version, body := data[0], data[1:]
	if version != formatVersion {
		return nil, fmt.Errorf("snapshot: unsupported format version %d", version)
	}

	raw, err := zstdDecoder.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: zstd decode: %w", err)
	}

	var snaps []rib.PeerSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snaps); err != nil {
		return nil, fmt.Errorf("snapshot: gob decode: %w", err)
	}
	return snaps, nil
}

func (s *Snapshotter) quarantine() {
	dest := fmt.Sprintf("%s.corrupted-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, dest); err != nil {
		s.log.Error("snapshot: failed to quarantine corrupt snapshot", zap.Error(err))
	}
}

// Run dumps the view every interval until done is closed.
func (s *Snapshotter) Run(done <-chan struct{}, view *rib.View, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.Dump(view); err != nil {
				s.log.Error("snapshot: periodic dump failed", zap.Error(err))
			}
		}
	}
}
