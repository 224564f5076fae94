// Package notify implements the manager's outbound HTTP calls: health
// probes against slots and the peer-control webhooks of the swap protocol.
// Every failure collapses into false; nothing here returns an error.
package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHealthTimeout  = 2 * time.Second
	DefaultWebhookTimeout = 5 * time.Second
	HealthPath            = "/health"
)

// Signal is one of the peer-control endpoints of a slot.
type Signal string

const (
	PrepareActive          Signal = "prepare-to-be-active"
	PrepareNonActive       Signal = "prepare-to-be-non-active"
	CancelPrepareActive    Signal = "cancel-prepare-to-be-active"
	CancelPrepareNonActive Signal = "cancel-prepare-to-be-non-active"
	Activated              Signal = "activated"
	Deactivated            Signal = "deactivated"
)

// URL joins the slot's control base URL and the signal path.
func (s Signal) URL(base string) string {
	return strings.TrimRight(base, "/") + "/" + string(s)
}

// Notifier performs a single bounded HTTP call and reports whether it
// returned 200.
type Notifier interface {
	Notify(ctx context.Context, method, url string, timeout time.Duration) bool
}

// HTTPNotifier is the net/http implementation of Notifier.
type HTTPNotifier struct {
	client *http.Client
	log    *slog.Logger
}

func NewHTTP(log *slog.Logger) *HTTPNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPNotifier{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log: log,
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, method, url string, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		n.log.Debug("notify: bad request", "method", method, "url", url, "error", err)
		return false
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Debug("notify: request failed", "method", method, "url", url, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode == http.StatusOK
}

// Client binds a Notifier to the two call sites used by the orchestrator.
type Client struct {
	Notifier       Notifier
	Host           string // host the slots listen on, default localhost
	HealthTimeout  time.Duration
	WebhookTimeout time.Duration
}

func NewClient(n Notifier) *Client {
	return &Client{
		Notifier:       n,
		Host:           "localhost",
		HealthTimeout:  DefaultHealthTimeout,
		WebhookTimeout: DefaultWebhookTimeout,
	}
}

// CheckHealth probes GET http://<host>:<port>/health.
func (c *Client) CheckHealth(ctx context.Context, port int) bool {
	url := "http://" + c.Host + ":" + strconv.Itoa(port) + HealthPath
	return c.Notifier.Notify(ctx, http.MethodGet, url, c.HealthTimeout)
}

// CallWebhook POSTs an empty body to url.
func (c *Client) CallWebhook(ctx context.Context, url string) bool {
	return c.Notifier.Notify(ctx, http.MethodPost, url, c.WebhookTimeout)
}

// Send calls sig on the slot whose control base URL is base.
func (c *Client) Send(ctx context.Context, base string, sig Signal) bool {
	return c.CallWebhook(ctx, sig.URL(base))
}
