// Package framer extracts length-delimited BMP messages from a TCP stream.
// It reads the 6-byte common header to learn a message's declared length,
// then reads exactly the rest of that many bytes, never more and never
// less, so a short read can never straddle two messages. The header is
// consumed from the stream (not peeked) and copied into the returned
// message.
package framer

import (
	"encoding/binary"
	"fmt"
	"io"
)

// commonHeaderSize is the BMP common header: version(1) + message
// length(4) + message type(1).
const commonHeaderSize = 6

const bmpVersion = 3

// maxMessageType is the highest BMP message type defined (RouteMirroring =
// 6); anything above it is not a message this collector understands and
// the connection is presumed desynchronized.
const maxMessageType = 6

// DefaultMaxMessageBytes bounds a single BMP message, including its common
// header. It exists to keep one misbehaving or malicious router from
// forcing an unbounded allocation; 64 KiB comfortably covers a Loc-RIB
// dump's worth of path attributes.
const DefaultMaxMessageBytes = 64 * 1024

// Framer reads whole, length-delimited BMP messages off a connection.
type Framer struct {
	r         io.Reader
	maxBytes  int
	headerBuf [commonHeaderSize]byte
}

// New constructs a Framer reading from r. maxBytes bounds an individual
// message; 0 selects DefaultMaxMessageBytes.
func New(r io.Reader, maxBytes int) *Framer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	return &Framer{r: r, maxBytes: maxBytes}
}

// Next reads and returns the next complete BMP message, including its
// 6-byte common header. Any error is fatal to the connection: the framing
// is presumed desynchronized and the caller must close it.
func (f *Framer) Next() ([]byte, error) {
	if _, err := io.ReadFull(f.r, f.headerBuf[:]); err != nil {
		return nil, err
	}

	version := f.headerBuf[0]
	if version != bmpVersion {
		return nil, fmt.Errorf("framer: unsupported BMP version %d", version)
	}

	msgType := f.headerBuf[5]
	if msgType > maxMessageType {
		return nil, fmt.Errorf("framer: unsupported message type %d", msgType)
	}

	length := binary.BigEndian.Uint32(f.headerBuf[1:5])
	if length < commonHeaderSize {
		return nil, fmt.Errorf("framer: declared length %d smaller than common header", length)
	}
	if int(length) > f.maxBytes {
		return nil, fmt.Errorf("framer: declared length %d exceeds max message size %d", length, f.maxBytes)
	}

	msg := make([]byte, length)
	copy(msg, f.headerBuf[:])
	if _, err := io.ReadFull(f.r, msg[commonHeaderSize:]); err != nil {
		return nil, err
	}
	return msg, nil
}

// MessageType returns the BMP message type octet from a message previously
// returned by Next.
func MessageType(msg []byte) byte {
	return msg[5]
}
