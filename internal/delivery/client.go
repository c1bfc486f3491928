// Package delivery dispatches agent replies back to the originating
// WhatsApp number through an Evolution-API-style bridge.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"syscall"
	"time"
)

const defaultSendTimeout = 30 * time.Second

var numberPattern = regexp.MustCompile(`^\d{8,15}$`)

// Client sends text replies via the bridge's sendText endpoint.
type Client struct {
	baseURL  string
	apiKey   string
	instance string
	client   *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// NewClient creates a delivery client for the given bridge endpoint.
func NewClient(baseURL, apiKey, instance string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		instance: instance,
		client:   &http.Client{Timeout: defaultSendTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// Send posts text to the given canonical number. All failures come back as
// *Error; callers inspect Kind with errors.As.
func (c *Client) Send(ctx context.Context, number, text string) error {
	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, c.instance)

	if c.apiKey == "" {
		return &Error{Kind: KindConfig, Number: number, URL: url,
			Err: errors.New("delivery API key is not configured")}
	}
	if number == "" {
		return &Error{Kind: KindValidation, URL: url,
			Err: errors.New("number is empty")}
	}
	if !numberPattern.MatchString(number) {
		return &Error{Kind: KindValidation, Number: number, URL: url,
			Err: fmt.Errorf("number %q is not a valid phone address", number)}
	}
	if strings.TrimSpace(text) == "" {
		return &Error{Kind: KindValidation, Number: number, URL: url,
			Err: errors.New("text is empty")}
	}

	payload, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return &Error{Kind: KindValidation, Number: number, URL: url,
			Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindValidation, Number: number, URL: url,
			Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: classifyTransport(err), Number: number, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &Error{
			Kind:       KindUpstream,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Number:     number,
			URL:        url,
		}
	}

	return nil
}

func classifyTransport(err error) Kind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, os.ErrDeadlineExceeded) {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return KindTimeout
		}
		return KindUnreachable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindUnreachable
	}

	return KindUnreachable
}
