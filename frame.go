// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gxo

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/klauspost/compress/flate"
)

const (
	// ErrIdleTimeout is returned by ReadMessage when no message started
	// within the idle timeout.
	ErrIdleTimeout = errors.ConstError("frame: idle timeout")

	// ErrPeerClosed is returned when the other side went away.
	ErrPeerClosed = errors.ConstError("frame: peer closed")

	// ErrMalformedFrame is returned for block headers that cannot be valid.
	ErrMalformedFrame = errors.ConstError("frame: malformed block")

	// ErrConnClosed is returned for use of a locally closed FrameConn.
	ErrConnClosed = errors.ConstError("frame: connection closed")
)

const (
	// BlockSize is the maximum number of message bytes carried by one block.
	BlockSize = 1024

	// MaxMessageSize bounds a reassembled message.
	MaxMessageSize = 64 * 1024 * 1024

	// DefaultIdleTimeout is the network read timeout when none is configured.
	DefaultIdleTimeout = 300 * time.Second

	headerSize = 9

	flagCompressed byte = 1 << 0
	flagLast       byte = 1 << 1
	flagMask            = flagCompressed | flagLast

	// Deflate may grow incompressible input slightly; such blocks are stored
	// raw anyway, so anything beyond this is corrupt.
	maxPayload = 2 * BlockSize

	keepAlivePeriod = 30 * time.Second
)

// FrameOption configures a FrameConn.
type FrameOption func(*frameOptions)

type frameOptions struct {
	compress bool
	idle     time.Duration
}

// WithCompression enables deflate compression of outgoing blocks. Incoming
// blocks are decompressed whenever their header says so.
func WithCompression(on bool) FrameOption {
	return func(o *frameOptions) { o.compress = on }
}

// WithIdleTimeout sets how long ReadMessage waits for the start of a message.
// Zero disables the timeout.
func WithIdleTimeout(d time.Duration) FrameOption {
	return func(o *frameOptions) { o.idle = d }
}

// deadliner is the part of net.Conn used for timeouts.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetDeadline(t time.Time) error
}

// FrameConn carries whole messages over a byte stream. Each message is cut
// into blocks:
//
//	[flags:1][rawLen:4][payloadLen:4][payload]
//
// Reads and writes may run concurrently with each other, but not with
// themselves.
type FrameConn struct {
	rwc  io.ReadWriteCloser
	dl   deadliner
	opts frameOptions

	writeMu sync.Mutex
	fw      *flate.Writer
	zbuf    bytes.Buffer

	fr     io.ReadCloser
	header [headerSize]byte
	block  [maxPayload]byte

	closed atomic.Bool
}

// NewFrameConn wraps rwc. Timeouts only apply when rwc has deadlines, like
// a net.Conn.
func NewFrameConn(rwc io.ReadWriteCloser, opts ...FrameOption) *FrameConn {
	fc := &FrameConn{rwc: rwc}
	for _, opt := range opts {
		opt(&fc.opts)
	}
	if dl, ok := rwc.(deadliner); ok {
		fc.dl = dl
	}
	return fc
}

// NewNetworkFrameConn wraps an accepted or dialled TCP connection: blocks are
// compressed, reads time out after idle and TCP keep-alive is switched on.
func NewNetworkFrameConn(conn net.Conn, idle time.Duration) *FrameConn {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlivePeriod)
	}
	return NewFrameConn(conn, WithCompression(true), WithIdleTimeout(idle))
}

// NewLocalFrameConn wraps a local channel connection: no compression and no
// timeout.
func NewLocalFrameConn(conn net.Conn) *FrameConn {
	return NewFrameConn(conn)
}

// RemoteAddr returns the peer address when the underlying stream has one.
func (fc *FrameConn) RemoteAddr() string {
	if c, ok := fc.rwc.(net.Conn); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return "local"
}

// SetDeadline sets the read and write deadline of the underlying stream.
func (fc *FrameConn) SetDeadline(t time.Time) error {
	if fc.dl == nil {
		return nil
	}
	return fc.dl.SetDeadline(t)
}

// WriteMessage sends msg as one or more blocks.
func (fc *FrameConn) WriteMessage(msg []byte) error {
	if fc.closed.Load() {
		return ErrConnClosed
	}
	if len(msg) > MaxMessageSize {
		return errors.Errorf("frame: message of %d bytes exceeds %d", len(msg), MaxMessageSize)
	}

	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()

	out := make([]byte, 0, len(msg)+headerSize*(len(msg)/BlockSize+1))
	for off := 0; ; off += BlockSize {
		end := off + BlockSize
		if end >= len(msg) {
			end = len(msg)
		}
		raw := msg[off:end]

		var flags byte
		payload := raw
		if fc.opts.compress && len(raw) > 0 {
			z, err := fc.deflate(raw)
			if err != nil {
				return errors.Annotate(err, "frame: compress")
			}
			if len(z) < len(raw) {
				payload = z
				flags |= flagCompressed
			}
		}
		if end == len(msg) {
			flags |= flagLast
		}

		var hdr [headerSize]byte
		hdr[0] = flags
		binary.BigEndian.PutUint32(hdr[1:5], uint32(len(raw)))
		binary.BigEndian.PutUint32(hdr[5:9], uint32(len(payload)))
		out = append(out, hdr[:]...)
		out = append(out, payload...)

		if flags&flagLast != 0 {
			break
		}
	}

	if _, err := fc.rwc.Write(out); err != nil {
		return fc.mapError(err)
	}
	return nil
}

func (fc *FrameConn) deflate(raw []byte) ([]byte, error) {
	fc.zbuf.Reset()
	if fc.fw == nil {
		w, err := flate.NewWriter(&fc.zbuf, flate.BestSpeed)
		if err != nil {
			return nil, err
		}
		fc.fw = w
	} else {
		fc.fw.Reset(&fc.zbuf)
	}
	if _, err := fc.fw.Write(raw); err != nil {
		return nil, err
	}
	if err := fc.fw.Close(); err != nil {
		return nil, err
	}
	return fc.zbuf.Bytes(), nil
}

// ReadMessage blocks until a whole message has arrived. With an idle
// timeout set, the wait for the first block is bounded; once a message has
// started the remaining blocks get the same allowance each.
func (fc *FrameConn) ReadMessage() ([]byte, error) {
	if fc.closed.Load() {
		return nil, ErrConnClosed
	}
	var msg []byte
	for {
		if fc.dl != nil && fc.opts.idle > 0 {
			if err := fc.dl.SetReadDeadline(time.Now().Add(fc.opts.idle)); err != nil {
				return nil, fc.mapError(err)
			}
		}
		if _, err := io.ReadFull(fc.rwc, fc.header[:]); err != nil {
			return nil, fc.mapError(err)
		}
		flags := fc.header[0]
		rawLen := binary.BigEndian.Uint32(fc.header[1:5])
		payloadLen := binary.BigEndian.Uint32(fc.header[5:9])

		switch {
		case flags&^flagMask != 0:
			return nil, errors.Annotatef(ErrMalformedFrame, "flags %#x", flags)
		case rawLen > BlockSize:
			return nil, errors.Annotatef(ErrMalformedFrame, "block of %d bytes", rawLen)
		case payloadLen > maxPayload:
			return nil, errors.Annotatef(ErrMalformedFrame, "payload of %d bytes", payloadLen)
		case flags&flagCompressed == 0 && payloadLen != rawLen:
			return nil, errors.Annotatef(ErrMalformedFrame, "raw block length %d != %d", payloadLen, rawLen)
		case len(msg)+int(rawLen) > MaxMessageSize:
			return nil, errors.Annotatef(ErrMalformedFrame, "message exceeds %d bytes", MaxMessageSize)
		}

		payload := fc.block[:payloadLen]
		if _, err := io.ReadFull(fc.rwc, payload); err != nil {
			return nil, fc.mapError(err)
		}
		if flags&flagCompressed != 0 {
			var err error
			if msg, err = fc.inflate(msg, payload, int(rawLen)); err != nil {
				return nil, err
			}
		} else {
			msg = append(msg, payload...)
		}
		if flags&flagLast != 0 {
			if msg == nil {
				msg = []byte{}
			}
			return msg, nil
		}
	}
}

func (fc *FrameConn) inflate(msg, payload []byte, rawLen int) ([]byte, error) {
	src := bytes.NewReader(payload)
	if fc.fr == nil {
		fc.fr = flate.NewReader(src)
	} else if err := fc.fr.(flate.Resetter).Reset(src, nil); err != nil {
		return nil, errors.Annotate(ErrMalformedFrame, err.Error())
	}
	start := len(msg)
	msg = append(msg, make([]byte, rawLen)...)
	if _, err := io.ReadFull(fc.fr, msg[start:]); err != nil {
		return nil, errors.Annotatef(ErrMalformedFrame, "inflate: %v", err)
	}
	return msg, nil
}

// mapError turns stream errors into the frame sentinels.
func (fc *FrameConn) mapError(err error) error {
	var netErr net.Error
	switch {
	case fc.closed.Load():
		return ErrConnClosed
	case errors.As(err, &netErr) && netErr.Timeout():
		return errors.Annotatef(ErrIdleTimeout, "no message within %v", fc.opts.idle)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return errors.Annotate(ErrPeerClosed, err.Error())
	}
	return errors.Trace(err)
}

// Close closes the underlying stream. It is safe to call more than once.
func (fc *FrameConn) Close() error {
	if fc.closed.Swap(true) {
		return nil
	}
	return fc.rwc.Close()
}

// IsBenign reports whether err is an ordinary end of a connection that
// should not be logged as a failure.
func IsBenign(err error) bool {
	return errors.Is(err, ErrIdleTimeout) ||
		errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, ErrConnClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}
