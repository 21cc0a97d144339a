package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/hamed0406/outagewatch/internal/domain"
)

type HTTPProber struct {
	Client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{Client: &http.Client{}}
}

func (p *HTTPProber) Check(ctx context.Context, target domain.Target) Observation {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Address, nil)
	if err != nil {
		return Observation{OK: false, Message: err.Error()}
	}

	resp, err := p.Client.Do(req)
	lat := time.Since(start).Seconds() * 1000
	if err != nil {
		return Observation{OK: false, ResponseTimeMS: lat, Message: err.Error()}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 400
	msg := ""
	if !ok {
		msg = resp.Status
	}
	return Observation{OK: ok, ResponseTimeMS: lat, Message: msg}
}
