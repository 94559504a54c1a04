package ingress

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	datagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_datagrams_received_total",
		Help: "Total number of UDP datagrams received",
	})

	datagramsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_datagrams_dropped_total",
		Help: "Total number of datagrams dropped as empty or unreadable",
	})
)

// maxDatagramSize bounds a single read. Engine log lines fit comfortably;
// anything larger is truncated at the socket, never reassembled.
const maxDatagramSize = 8192

// Datagram is one cleaned log line with its UDP source.
type Datagram struct {
	Line       string
	SourceAddr string
	SourcePort int
	ReceivedAt time.Time
}

// Receiver binds the ingress UDP socket and turns raw packets into Datagrams.
type Receiver struct {
	conn   *net.UDPConn
	logger *zap.SugaredLogger
}

func NewReceiver(host string, port int, logger *zap.Logger) (*Receiver, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind ingress socket %s:%d: %w", host, port, err)
	}
	return &Receiver{conn: conn, logger: logger.Sugar()}, nil
}

// LocalAddr returns the bound socket address.
func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Run reads datagrams until ctx is cancelled, invoking handle for each
// non-empty cleaned line. handle is called from the read goroutine; it must
// hand off quickly.
func (r *Receiver) Run(ctx context.Context, handle func(Datagram)) error {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	r.logger.Infow("Ingress socket listening", "addr", r.conn.LocalAddr().String())

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read ingress socket: %w", err)
		}
		datagramsReceived.Inc()

		line := CleanDatagram(buf[:n])
		if line == "" {
			datagramsDropped.Inc()
			continue
		}

		handle(Datagram{
			Line:       line,
			SourceAddr: addr.IP.String(),
			SourcePort: addr.Port,
			ReceivedAt: time.Now(),
		})
	}
}

// CleanDatagram strips engine framing from a raw packet: the 0xFFFFFFFF OOB
// header plus any following bytes above 0x7E, everything from the first NUL
// on, and a leading "log " token. A printable framing letter after the header
// (such as the "R" of "R log" or a Source "S") is not removed.
func CleanDatagram(b []byte) string {
	if len(b) >= 4 && b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF && b[3] == 0xFF {
		b = b[4:]
		for len(b) > 0 && b[0] > 0x7E {
			b = b[1:]
		}
	}

	// A NUL terminates the payload.
	if idx := bytes.IndexByte(b, 0); idx >= 0 {
		b = b[:idx]
	}

	s := strings.TrimSpace(string(b))
	s = strings.TrimPrefix(s, "log ")
	return strings.TrimSpace(s)
}
