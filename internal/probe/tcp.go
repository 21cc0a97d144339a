package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hamed0406/outagewatch/internal/domain"
)

type TCPProber struct {
	Dialer *net.Dialer
}

func NewTCPProber() *TCPProber {
	return &TCPProber{Dialer: &net.Dialer{}}
}

func (p *TCPProber) Check(ctx context.Context, target domain.Target) Observation {
	start := time.Now()
	conn, err := p.Dialer.DialContext(ctx, "tcp", hostPort(target.Address))
	lat := time.Since(start).Seconds() * 1000
	if err != nil {
		return Observation{OK: false, ResponseTimeMS: lat, Message: err.Error()}
	}
	_ = conn.Close()
	return Observation{OK: true, ResponseTimeMS: lat}
}

// hostPort defaults to port 443 when the address carries none, matching the
// most common always-listening port on CDN/DNS edges.
func hostPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	// bare IPv6 literal needs brackets before a port can be appended
	if strings.Count(addr, ":") > 1 && !strings.HasPrefix(addr, "[") {
		return "[" + addr + "]:443"
	}
	return net.JoinHostPort(addr, "443")
}
