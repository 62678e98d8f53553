package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Client talks to a remote runtime's API. It implements the orchestrator's
// Peer interface.
type Client struct {
	id         string
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for runtime id served at baseURL.
func NewClient(id, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the runtime id.
func (c *Client) ID() string { return c.id }

// StatusError is a non-200 answer from the remote runtime.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Prepare(ctx context.Context, req ir.PrepareRequest) (ir.PrepareResponse, error) {
	var resp ir.PrepareResponse
	err := c.do(ctx, http.MethodPost, "/v1/prepare", req, &resp)
	return resp, err
}

func (c *Client) Commit(ctx context.Context, req ir.CommitRequest) (ir.CommitResponse, error) {
	var resp ir.CommitResponse
	err := c.do(ctx, http.MethodPost, "/v1/commit", req, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, req ir.CancelRequest) (ir.CancelResponse, error) {
	var resp ir.CancelResponse
	err := c.do(ctx, http.MethodPost, "/v1/cancel", req, &resp)
	return resp, err
}

// Runtime fetches the remote runtime's description.
func (c *Client) Runtime(ctx context.Context) (RuntimeInfo, error) {
	var info RuntimeInfo
	err := c.do(ctx, http.MethodGet, "/v1/runtime", nil, &info)
	return info, err
}

// Transactions lists the remote runtime's transactions.
func (c *Client) Transactions(ctx context.Context) ([]ir.Transaction, error) {
	var txs []ir.Transaction
	err := c.do(ctx, http.MethodGet, "/v1/transactions", nil, &txs)
	return txs, err
}

// Transaction fetches one transaction with its transitions.
func (c *Client) Transaction(ctx context.Context, id string) (TransactionDetail, error) {
	var detail TransactionDetail
	err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(id), nil, &detail)
	return detail, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: eb.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Watch streams notifications newer than since to fn until ctx is done or
// the connection drops. It returns nil when ctx ends the stream.
func (c *Client) Watch(ctx context.Context, since int64, fn func(ir.Notification)) error {
	u, err := url.Parse(c.baseURL + "/ws/notifications")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("since", strconv.FormatInt(since, 10))
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial notifications: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var n ir.Notification
		if err := conn.ReadJSON(&n); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read notification: %w", err)
		}
		fn(n)
	}
}
