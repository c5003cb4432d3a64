// Package rib implements the per-(router, peer) RIB view: the
// deduplication and synthetic-withdraw state machine at the center of the
// collector. It is grounded line-for-line on the reference collector's
// state machine (Router::update's XOR rule, synthesize_withdraw_update, and
// the delayed peer-up compensation algorithm).
package rib

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/routebeacon/bmp-collector/internal/collector"
)

// shardCount is the number of independent locks the View shards PeerKeys
// across, keyed by router address. This satisfies the "SHOULD use per-
// PeerKey locking or equivalent sharding" recommendation without paying for
// a lock per individual peer.
const shardCount = 32

// peerState is the prefix set for one PeerKey: PrefixKey -> last-seen
// milliseconds since epoch. The timestamp lives in the map value, never in
// the key, so membership and lookups never see it — mirroring the
// reference implementation's timestamp-excluded hash/equality.
type peerState map[collector.PrefixKey]int64

type shard struct {
	mu    sync.Mutex
	peers map[collector.PeerKey]peerState
}

// View is the shared, concurrency-safe RIB view. Construct with NewView.
type View struct {
	shards [shardCount]*shard
	ready  atomic.Bool
}

// NewView constructs an empty RIB view. It is not marked ready; call
// MarkReady once startup (snapshot restore or explicit empty start) has
// finished, so /readyz does not report healthy before then.
func NewView() *View {
	v := &View{}
	for i := range v.shards {
		v.shards[i] = &shard{peers: make(map[collector.PeerKey]peerState)}
	}
	return v
}

// MarkReady marks the view as having completed startup.
func (v *View) MarkReady() {
	v.ready.Store(true)
}

// Ready reports whether MarkReady has been called.
func (v *View) Ready() bool {
	return v.ready.Load()
}

func (v *View) shardFor(key collector.PeerKey) *shard {
	h := fnv.New32a()
	h.Write(key.Router.AsSlice())
	return v.shards[h.Sum32()%shardCount]
}

// AddPeer ensures the PeerKey exists with an empty prefix set. Idempotent.
func (v *View) AddPeer(key collector.PeerKey) {
	s := v.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[key]; !ok {
		s.peers[key] = make(peerState)
	}
}

// Update applies a single Update's announce/withdraw to the view and
// reports whether it should be emitted downstream. This is the XOR rule:
// announce emits iff the prefix was absent; withdraw emits iff the prefix
// was present.
func (v *View) Update(u *collector.Update) (emit bool) {
	key := u.Key()
	pk := u.PrefixKeyOf()

	s := v.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, ok := s.peers[key]
	if !ok {
		peer = make(peerState)
		s.peers[key] = peer
	}

	_, present := peer[pk]
	emit = u.Announced != present

	if u.Announced {
		peer[pk] = nowMillis()
	} else {
		delete(peer, pk)
	}
	return emit
}

// SynthesizeAndRemove drains the PeerKey's prefix set and removes the peer
// entirely, returning one synthetic withdraw Update per surviving prefix.
// Used on PeerDown.
func (v *View) SynthesizeAndRemove(key collector.PeerKey) []collector.Update {
	s := v.shardFor(key)
	s.mu.Lock()
	peer, ok := s.peers[key]
	if ok {
		delete(s.peers, key)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	out := make([]collector.Update, 0, len(peer))
	for pk := range peer {
		out = append(out, synthesizeWithdraw(key, pk))
	}
	return out
}

func synthesizeWithdraw(key collector.PeerKey, pk collector.PrefixKey) collector.Update {
	return collector.Update{
		ReceivedAt: time.Now().UTC(),
		RouterAddr: key.Router,
		PeerAddr:   key.Peer,
		PrefixAddr: pk.Addr,
		PrefixLen:  pk.Length,
		PostPolicy: pk.PostPolicy,
		AdjRIBOut:  pk.AdjRIBOut,
		Announced:  false,
		Synthetic:  true,
		Origin:     "INCOMPLETE",
	}
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// PeerSnapshot is one PeerKey's prefix set, used by the snapshotter to
// persist and restore the view across restarts.
//
// netip.Addr has no exported fields and does not implement gob.GobEncoder
// (only encoding.BinaryMarshaler), so gob cannot encode a PeerKey or
// PrefixKey directly — gob.Encode fails at encoder-compile time with
// "type netip.Addr has no exported fields" the moment a snapshot holds
// one peer. GobEncode/GobDecode below go through each address's
// MarshalBinary/UnmarshalBinary form instead.
type PeerSnapshot struct {
	Key      collector.PeerKey
	Prefixes map[collector.PrefixKey]int64
}

// gobPeerSnapshot is the wire form of a PeerSnapshot: every netip.Addr
// replaced with its MarshalBinary encoding.
type gobPeerSnapshot struct {
	Router   []byte
	Peer     []byte
	Prefixes []gobPrefixEntry
}

type gobPrefixEntry struct {
	Addr       []byte
	Length     uint8
	PostPolicy bool
	AdjRIBOut  bool
	LastSeenMs int64
}

func (p PeerSnapshot) GobEncode() ([]byte, error) {
	routerBin, err := p.Key.Router.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("rib: marshal router addr: %w", err)
	}
	peerBin, err := p.Key.Peer.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("rib: marshal peer addr: %w", err)
	}

	g := gobPeerSnapshot{
		Router:   routerBin,
		Peer:     peerBin,
		Prefixes: make([]gobPrefixEntry, 0, len(p.Prefixes)),
	}
	for pk, ts := range p.Prefixes {
		addrBin, err := pk.Addr.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("rib: marshal prefix addr: %w", err)
		}
		g.Prefixes = append(g.Prefixes, gobPrefixEntry{
			Addr:       addrBin,
			Length:     pk.Length,
			PostPolicy: pk.PostPolicy,
			AdjRIBOut:  pk.AdjRIBOut,
			LastSeenMs: ts,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *PeerSnapshot) GobDecode(data []byte) error {
	var g gobPeerSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}

	var router, peer netip.Addr
	if err := router.UnmarshalBinary(g.Router); err != nil {
		return fmt.Errorf("rib: unmarshal router addr: %w", err)
	}
	if err := peer.UnmarshalBinary(g.Peer); err != nil {
		return fmt.Errorf("rib: unmarshal peer addr: %w", err)
	}

	p.Key = collector.PeerKey{Router: router, Peer: peer}
	p.Prefixes = make(map[collector.PrefixKey]int64, len(g.Prefixes))
	for _, e := range g.Prefixes {
		var addr netip.Addr
		if err := addr.UnmarshalBinary(e.Addr); err != nil {
			return fmt.Errorf("rib: unmarshal prefix addr: %w", err)
		}
		pk := collector.PrefixKey{Addr: addr, Length: e.Length, PostPolicy: e.PostPolicy, AdjRIBOut: e.AdjRIBOut}
		p.Prefixes[pk] = e.LastSeenMs
	}
	return nil
}

// Snapshot returns a point-in-time copy of every peer's prefix set. Safe
// to call concurrently with Update and SynthesizeAndRemove; each shard is
// locked only for the duration of its own copy.
func (v *View) Snapshot() []PeerSnapshot {
	var out []PeerSnapshot
	for _, s := range v.shards {
		s.mu.Lock()
		for key, peer := range s.peers {
			cp := make(peerState, len(peer))
			for pk, ts := range peer {
				cp[pk] = ts
			}
			out = append(out, PeerSnapshot{Key: key, Prefixes: cp})
		}
		s.mu.Unlock()
	}
	return out
}

// Restore replaces the view's contents with the given snapshot. Intended
// for startup only, before any connection is accepted.
func (v *View) Restore(snaps []PeerSnapshot) {
	for _, s := range v.shards {
		s.mu.Lock()
		s.peers = make(map[collector.PeerKey]peerState)
		s.mu.Unlock()
	}
	for _, snap := range snaps {
		s := v.shardFor(snap.Key)
		s.mu.Lock()
		peer := make(peerState, len(snap.Prefixes))
		for pk, ts := range snap.Prefixes {
			peer[pk] = ts
		}
		s.peers[snap.Key] = peer
		s.mu.Unlock()
	}
}

// peerUpBaseDelay and peerUpJitter define the delayed peer-up compensation
// window: 300s +/- a uniform random jitter in [-60s, +60s].
const (
	peerUpBaseDelay = 300 * time.Second
	peerUpJitter    = 60 * time.Second
)

// PeerUpDelay returns a jittered sleep duration for the delayed peer-up
// compensation task: 300s plus a uniform random offset in [-60s, +60s].
func PeerUpDelay() time.Duration {
	jitter := time.Duration((rand.Float64()*2 - 1) * float64(peerUpJitter))
	return peerUpBaseDelay + jitter
}

// RunPeerUpCompensation implements the delayed peer-up compensation flow:
// it sleeps the jittered window, then emits a synthetic withdraw for every
// prefix that was already present before t0 and that the peer has not
// re-announced since. send must not block while any lock is held; the
// lock is dropped before it is called, per the concurrency contract.
//
// Closing done aborts the wait early without emitting anything, so that
// shutdown does not leave a goroutine blocked past the grace period.
func (v *View) RunPeerUpCompensation(done <-chan struct{}, key collector.PeerKey, t0 time.Time, send func(collector.Update)) {
	timer := time.NewTimer(PeerUpDelay())
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	s := v.shardFor(key)
	s.mu.Lock()
	peer, ok := s.peers[key]
	var stale []collector.PrefixKey
	if ok {
		cutoff := t0.UnixMilli()
		for pk, lastSeen := range peer {
			if lastSeen < cutoff {
				stale = append(stale, pk)
			}
		}
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	for _, pk := range stale {
		u := synthesizeWithdraw(key, pk)
		send(u)
		v.Update(&u)
	}
}
