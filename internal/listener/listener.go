// Package listener accepts BMP router connections and runs one Framer +
// Dispatcher pair per connection, isolating a single router's failure
// from every other connection and from the listener itself.
package listener

import (
	"net"
	"net/netip"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/routebeacon/bmp-collector/internal/collector"
	"github.com/routebeacon/bmp-collector/internal/dispatch"
	"github.com/routebeacon/bmp-collector/internal/framer"
	"github.com/routebeacon/bmp-collector/internal/rib"
)

// Listener accepts TCP connections on a configured address and spawns a
// connection handler goroutine for each one.
type Listener struct {
	addr           string
	view           *rib.View
	emit           chan<- collector.Update
	log            *zap.Logger
	maxMessageSize int
	bound          atomic.Bool
}

// Bound reports whether Run has successfully bound its listening socket.
func (l *Listener) Bound() bool {
	return l.bound.Load()
}

// New constructs a Listener. maxMessageSize of 0 selects
// framer.DefaultMaxMessageBytes.
func New(addr string, view *rib.View, emit chan<- collector.Update, log *zap.Logger, maxMessageSize int) *Listener {
	return &Listener{addr: addr, view: view, emit: emit, log: log, maxMessageSize: maxMessageSize}
}

// Run binds the listening socket and accepts connections until done is
// closed or Accept returns a fatal error. It blocks the calling goroutine;
// callers run it in its own goroutine.
func (l *Listener) Run(done <-chan struct{}) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	l.bound.Store(true)

	go func() {
		<-done
		ln.Close()
	}()

	l.log.Info("bmp: listening", zap.String("addr", l.addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				l.log.Error("bmp: accept failed", zap.Error(err))
				return err
			}
		}
		go l.handleConn(conn, done)
	}
}

// handleConn owns one accepted connection for its lifetime. A panic
// inside message handling is recovered here so a single malformed or
// adversarial router cannot take down the listener or any other
// connection.
func (l *Listener) handleConn(conn net.Conn, done <-chan struct{}) {
	defer conn.Close()

	remote, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	router := remote.Addr()
	port := remote.Port()

	// done is the listener's global shutdown channel, not tied to this
	// connection: a peer-up compensation task must keep waiting out its
	// window even if the router reconnects before it expires.
	d := dispatch.New(l.view, l.emit, l.log, router, port, done)
	f := framer.New(conn, l.maxMessageSize)

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("bmp: connection handler panicked", zap.Any("panic", r), zap.Stringer("router", router))
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		msg, err := f.Next()
		if err != nil {
			l.log.Warn("bmp: closing connection", zap.Error(err), zap.Stringer("router", router))
			return
		}
		d.Handle(msg)
	}
}
