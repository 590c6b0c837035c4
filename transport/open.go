package transport

import (
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = time.Second
	DefaultDialTimeout = 5 * time.Second

	// MaxPacketSize bounds one UDP datagram from a forwarding gateway.
	MaxPacketSize = 65535
	udpReadBuffer = 256 * 1024
)

// Options tune how a transport is opened.
type Options struct {
	BaudRate    int
	ReadTimeout time.Duration
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	return o
}

// Open opens the transport named by rawURL:
//
//	serial:///dev/ttyUSB0, serial://COM4 or a bare device path
//	tcp://host:port   serial-over-IP bridge
//	udp://host:port   datagrams from a forwarding gateway, one or more lines each
//	stdin or -        standard input
func Open(rawURL string, opts Options) (Source, error) {
	opts = opts.withDefaults()
	scheme, addr, found := strings.Cut(rawURL, "://")
	if !found {
		scheme, addr = "serial", rawURL
	}
	switch {
	case rawURL == "stdin" || rawURL == "-":
		return newLineSource(io.NopCloser(os.Stdin)), nil
	case scheme == "serial":
		return openSerial(addr, opts)
	case scheme == "tcp":
		conn, err := net.DialTimeout("tcp", addr, opts.DialTimeout)
		if err != nil {
			return nil, errors.Wrapf(err, "dialing %s", addr)
		}
		return newLineSource(conn), nil
	case scheme == "udp":
		src, err := openUDP(addr)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, errors.Errorf("unsupported transport %q", rawURL)
	}
}

func openSerial(path string, opts Options) (Source, error) {
	if path == "" {
		return nil, errors.New("empty serial device")
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: opts.BaudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port %s", path)
	}
	// A bounded read lets Close interrupt the reader between reads.
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "setting read timeout on %s", path)
	}
	return newLineSource(port), nil
}

// UDPSource is a Source fed by datagrams.
type UDPSource struct {
	*lineSource
	conn *net.UDPConn
}

// LocalAddr is the address the source listens on.
func (u *UDPSource) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func openUDP(addr string) (*UDPSource, error) {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", addr)
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	_ = conn.SetReadBuffer(udpReadBuffer)
	dr := &datagramReader{conn: conn, buf: make([]byte, MaxPacketSize, MaxPacketSize+1)}
	return &UDPSource{lineSource: newLineSource(dr), conn: conn}, nil
}

// datagramReader presents datagrams as a byte stream. Every datagram ends
// a line so that a gateway may omit the trailing newline.
type datagramReader struct {
	conn *net.UDPConn
	buf  []byte
	rest []byte
}

func (d *datagramReader) Read(p []byte) (int, error) {
	if len(d.rest) == 0 {
		n, _, err := d.conn.ReadFromUDP(d.buf[:MaxPacketSize])
		if err != nil {
			return 0, err
		}
		pkt := d.buf[:n]
		if n > 0 && pkt[n-1] != '\n' {
			pkt = append(pkt, '\n')
		}
		d.rest = pkt
	}
	n := copy(p, d.rest)
	d.rest = d.rest[n:]
	return n, nil
}

func (d *datagramReader) Close() error { return d.conn.Close() }
