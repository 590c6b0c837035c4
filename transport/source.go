// Package transport turns byte streams from serial ports and sockets into
// newline-delimited lines that ingestors can poll without blocking.
package transport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	readBufferSize = 4096
	// maxLineLength bounds a line; longer lines are dropped whole instead of
	// growing without bound on a noisy link.
	maxLineLength = 64 * 1024
	lineQueueLen  = 256
)

// Source yields lines read from a transport.
type Source interface {
	// Next waits up to wait for a complete line. With wait <= 0 it only
	// reports whether a line is already pending.
	Next(ctx context.Context, wait time.Duration) (string, bool)
	// Err returns the error that ended reading, or nil while the source is
	// still live. A cleanly ended stream reports io.EOF.
	Err() error
	Close() error
}

type lineSource struct {
	rc        io.ReadCloser
	lines     chan string
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	err       error
}

// NewReaderSource starts reading lines from rc. Zero-byte reads, as
// returned by serial ports on read timeout, are tolerated.
func NewReaderSource(rc io.ReadCloser) Source {
	return newLineSource(rc)
}

func newLineSource(rc io.ReadCloser) *lineSource {
	s := &lineSource{
		rc:      rc,
		lines:   make(chan string, lineQueueLen),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *lineSource) readLoop() {
	defer close(s.done)
	buf := make([]byte, readBufferSize)
	var pending []byte
	// discarding is set while skipping the rest of an overlong line.
	discarding := false
	for {
		select {
		case <-s.closing:
			s.err = io.EOF
			return
		default:
		}
		n, err := s.rc.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := pending[:i]
				pending = pending[i+1:]
				if discarding || len(line) > maxLineLength {
					discarding = false
					continue
				}
				if !s.emit(line) {
					s.err = io.EOF
					return
				}
			}
			if len(pending) > maxLineLength {
				pending = pending[:0]
				discarding = true
			}
		}
		if err != nil {
			if len(pending) > 0 && !discarding {
				s.emit(pending)
			}
			s.err = err
			return
		}
	}
}

func (s *lineSource) emit(raw []byte) bool {
	line := strings.ToValidUTF8(strings.TrimRight(string(raw), "\r"), "")
	select {
	case s.lines <- line:
		return true
	case <-s.closing:
		return false
	}
}

func (s *lineSource) Next(ctx context.Context, wait time.Duration) (string, bool) {
	select {
	case l := <-s.lines:
		return l, true
	default:
	}
	if wait <= 0 {
		return "", false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l := <-s.lines:
		return l, true
	case <-s.done:
		// The reader may have queued its last lines just before exiting.
		select {
		case l := <-s.lines:
			return l, true
		default:
			return "", false
		}
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (s *lineSource) Err() error {
	select {
	case <-s.done:
		if len(s.lines) > 0 {
			return nil
		}
		return s.err
	default:
		return nil
	}
}

func (s *lineSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		err = s.rc.Close()
	})
	return err
}
