package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTP posts outbound messages as JSON to a provider webhook, for
// deployments fronted by an SMS relay instead of Pinpoint.
type HTTP struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration
}

type HTTPOption func(*HTTP)

func WithTimeout(d time.Duration) HTTPOption {
	return func(g *HTTP) { g.timeout = d }
}

func NewHTTP(url string, opts ...HTTPOption) (*HTTP, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("GATEWAY_HTTP_URL is required")
	}
	g := &HTTP{
		url:     strings.TrimRight(url, "/"),
		client:  &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

func (g *HTTP) Send(ctx context.Context, destination, text, origin string) error {
	body, err := json.Marshal(smsPayload{To: destination, From: origin, Body: text})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := g.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("gateway post to %s: %w", destination, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("gateway post to %s: status %d", destination, code)
	}
	return nil
}

var _ Notifier = (*HTTP)(nil)
