// Package dispatch routes a parsed BMP message to its handler: the RIB
// View for message types that carry route state, and a structured log
// line for everything else. It is the glue between internal/bmpenv,
// internal/decoder, and internal/rib.
package dispatch

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/routebeacon/bmp-collector/internal/bmpenv"
	"github.com/routebeacon/bmp-collector/internal/collector"
	"github.com/routebeacon/bmp-collector/internal/decoder"
	"github.com/routebeacon/bmp-collector/internal/rib"
)

// Dispatcher routes BMP messages from one router connection into the
// shared RIB view and out to the emit channel. One Dispatcher is
// constructed per accepted connection; the RIB view and emit channel it
// holds are shared across every connection.
type Dispatcher struct {
	view   *rib.View
	emit   chan<- collector.Update
	log    *zap.Logger
	router netip.Addr
	port   uint16

	// done is the process-wide shutdown channel, not tied to this
	// connection: a peer-up compensation task must keep waiting out its
	// window even if the router reconnects before it expires, and only
	// stop early on process shutdown.
	done <-chan struct{}
}

// New constructs a Dispatcher for a single accepted connection. done is
// the shared shutdown channel, passed through unchanged so compensation
// tasks outlive the connection that spawned them.
func New(view *rib.View, emit chan<- collector.Update, log *zap.Logger, router netip.Addr, port uint16, done <-chan struct{}) *Dispatcher {
	return &Dispatcher{view: view, emit: emit, log: log, router: router, port: port, done: done}
}

// Handle processes one complete, framed BMP message (including its
// 6-byte common header). Sends on the bounded emit channel block while it
// is full: backpressure is applied toward the router rather than dropping
// updates.
func (d *Dispatcher) Handle(raw []byte) {
	env, err := bmpenv.Parse(raw, d.router, d.port)
	if err != nil {
		d.log.Warn("bmp: failed to parse message", zap.Error(err), zap.Stringer("router", d.router))
		return
	}

	switch env.Type {
	case bmpenv.MsgInitiation:
		d.log.Info("bmp: initiation", zap.Stringer("router", d.router))
	case bmpenv.MsgRouteMirroring:
		d.log.Debug("bmp: route mirroring", zap.Stringer("router", d.router))
	case bmpenv.MsgTermination:
		d.log.Info("bmp: termination", zap.Stringer("router", d.router))
	case bmpenv.MsgStatisticsReport:
		d.log.Debug("bmp: statistics report", zap.Stringer("router", d.router))
	case bmpenv.MsgPeerUp:
		d.handlePeerUp(env)
	case bmpenv.MsgPeerDown:
		d.handlePeerDown(env)
	case bmpenv.MsgRouteMonitoring:
		d.handleRouteMonitoring(env)
	default:
		d.log.Warn("bmp: unknown message type", zap.Uint8("type", uint8(env.Type)))
	}
}

func (d *Dispatcher) handlePeerUp(env *bmpenv.Envelope) {
	if !env.HasPeer {
		return
	}
	key := collector.PeerKey{Router: collector.NormalizeToV4In6(d.router), Peer: env.Metadata.PeerAddr}
	d.view.AddPeer(key)
	d.log.Info("bmp: peer up", zap.Stringer("router", d.router), zap.Stringer("peer", key.Peer))

	// t0 is the collector's own wall clock, matching the clock RIB view
	// last-seen timestamps are stamped with (rib.nowMillis); using the
	// router-supplied BMP timestamp here would compare two different
	// clocks and misfire under clock skew.
	t0 := time.Now().UTC()
	send := d.sendFunc()
	go d.view.RunPeerUpCompensation(d.done, key, t0, send)
}

func (d *Dispatcher) handlePeerDown(env *bmpenv.Envelope) {
	if !env.HasPeer {
		return
	}
	key := collector.PeerKey{Router: collector.NormalizeToV4In6(d.router), Peer: env.Metadata.PeerAddr}
	d.log.Info("bmp: peer down", zap.Stringer("router", d.router), zap.Stringer("peer", key.Peer))

	withdraws := d.view.SynthesizeAndRemove(key)
	for _, u := range withdraws {
		d.emit <- u
	}
}

func (d *Dispatcher) handleRouteMonitoring(env *bmpenv.Envelope) {
	if !env.HasPeer {
		return
	}
	updates, err := decoder.Decode(env.BGPData, env.Metadata)
	if err != nil {
		d.log.Warn("bmp: failed to decode route monitoring body", zap.Error(err), zap.Stringer("router", d.router))
		return
	}

	for _, u := range updates {
		if d.view.Update(&u) {
			d.emit <- u
		}
	}
}

// sendFunc returns the callback RunPeerUpCompensation uses to emit
// synthetic withdraws once its sleep elapses. It must not be called while
// any RIB view lock is held.
func (d *Dispatcher) sendFunc() func(collector.Update) {
	return func(u collector.Update) {
		d.emit <- u
	}
}
