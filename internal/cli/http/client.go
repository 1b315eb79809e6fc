package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// GuestCookieName is the cookie carrying the anonymous identity.
const GuestCookieName = "guest_id"

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Identity supplies credentials and remembers the guest id the server hands out.
type Identity interface {
	Token() string
	GuestID() string
	SetGuestID(id string)
}

// Client wraps HTTP requests for CLI.
type Client struct {
	baseURL  string
	timeout  time.Duration
	identity Identity
}

func New(baseURL string, timeout time.Duration, identity Identity) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
		identity: identity,
	}
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	client := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	c.applyIdentity(req.Header)

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.rememberGuest(resp.Cookies())
	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

// Watch opens a websocket at path and hands every text frame to onMessage.
// It returns nil when the server closes normally.
func (c *Client) Watch(ctx context.Context, path string, onMessage func([]byte)) error {
	wsURL, err := toWebsocketURL(c.baseURL + path)
	if err != nil {
		return err
	}
	header := http.Header{}
	c.applyIdentity(header)

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("watch rejected: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("watch dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code == websocket.CloseNormalClosure {
					return nil
				}
				return fmt.Errorf("watch closed: %d %s", closeErr.Code, closeErr.Text)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch read failed: %w", err)
		}
		onMessage(payload)
	}
}

func (c *Client) applyIdentity(header http.Header) {
	if c.identity == nil {
		return
	}
	if token := c.identity.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if guest := c.identity.GuestID(); guest != "" {
		header.Set("Cookie", (&http.Cookie{Name: GuestCookieName, Value: guest}).String())
	}
}

func (c *Client) rememberGuest(cookies []*http.Cookie) {
	if c.identity == nil {
		return
	}
	for _, ck := range cookies {
		if ck.Name == GuestCookieName && ck.Value != "" && ck.Value != c.identity.GuestID() {
			c.identity.SetGuestID(ck.Value)
		}
	}
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
