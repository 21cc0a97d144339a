package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/outagewatch/internal/domain"
)

type DNSProber struct {
	Resolver *net.Resolver
}

func NewDNSProber() *DNSProber {
	return &DNSProber{Resolver: &net.Resolver{}} // OS resolver
}

func (p *DNSProber) Check(ctx context.Context, target domain.Target) Observation {
	host := extractHost(target.Address)
	if host == "" {
		return Observation{OK: false, Message: "INVALID_NAME"}
	}

	start := time.Now()
	ips, err := p.Resolver.LookupIP(ctx, "ip", host)
	lat := time.Since(start).Seconds() * 1000

	if err == nil && len(ips) > 0 {
		return Observation{OK: true, ResponseTimeMS: lat}
	}
	return Observation{OK: false, ResponseTimeMS: lat, Message: classifyDNSError(err)}
}

func classifyDNSError(err error) string {
	if err == nil {
		return "NO_A_RECORD"
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		if de.IsNotFound {
			return "NXDOMAIN"
		}
		if de.IsTemporary || de.Timeout() {
			return "SERVFAIL_or_TIMEOUT"
		}
	}
	return err.Error()
}

func extractHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		return h
	}
	return raw
}
