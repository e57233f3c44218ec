package mcpsse

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/probelabs/mcpscout/config"
	"github.com/probelabs/mcpscout/correlate"
	"github.com/probelabs/mcpscout/errors"
	"github.com/probelabs/mcpscout/logging"
	"github.com/probelabs/mcpscout/transport"
)

// sessionMarker is the substring that flags the stream line carrying the
// session token. Everything after it, to end of payload, is the token.
const sessionMarker = "session_id="

// EventHandler receives unsolicited stream events (envelopes without an id).
type EventHandler func(*transport.Response)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to a new logger at INFO.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithEventHandler registers a callback for unsolicited stream events.
func WithEventHandler(h EventHandler) Option {
	return func(c *Client) {
		c.onEvent = h
	}
}

// WithHTTPClient overrides the side-channel HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// Client talks to one MCP server over the split SSE transport.
// One session per instance; create a new Client to reconnect.
type Client struct {
	cfg      config.Config
	http     *http.Client
	stream   *transport.StreamClient
	registry *correlate.Registry
	log      *logging.Logger
	onEvent  EventHandler

	// instanceID distinguishes this client run in logs and clientInfo.
	instanceID string

	reqID atomic.Int64

	// Session capture barrier: sessionID is written exactly once, before
	// sessionCh closes. Readers must observe the close first.
	sessionOnce sync.Once
	sessionCh   chan struct{}
	sessionID   string

	cancel  context.CancelFunc
	started bool

	toolsMu sync.Mutex
	tools   []Tool
}

// New creates a client for the configured server. Nothing happens on the
// wire until StartSession.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.HTTPTimeout},
		registry:   correlate.NewRegistry(),
		instanceID: uuid.NewString(),
		sessionCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.New()
	}
	c.log = c.log.WithComponent("mcpsse").WithTraceID(c.instanceID)
	return c
}

// StartSession opens the stream, starts the background listener and waits for
// the session token to be captured. It fails when the stream endpoint is
// unreachable, answers non-200, or the token never shows up within the
// configured ceiling. No request can be sent before this succeeds.
func (c *Client) StartSession(ctx context.Context) error {
	if c.started {
		return errors.Internal("session already started")
	}
	c.started = true

	listenCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	// The stream GET must not inherit the side channel's timeout.
	c.stream = transport.NewStreamClient(c.cfg.StreamURL(), &http.Client{})

	if err := c.stream.Connect(listenCtx); err != nil {
		c.log.StreamFailed(c.cfg.StreamURL(), err)
		var statusErr *transport.StatusError
		if stderrors.As(err, &statusErr) {
			return errors.Unavailable("stream rejected", errors.WithCause(err),
				errors.WithMetadata("status", fmt.Sprintf("%d", statusErr.Status)))
		}
		return errors.Network("connecting stream", errors.WithCause(err))
	}
	c.log.StreamConnected(c.cfg.StreamURL())

	go c.listen(listenCtx)

	return c.WaitForSession(ctx)
}

// WaitForSession blocks until the listener captures the session token, up to
// the configured ceiling. Returns a timeout error when the ceiling passes
// with no token.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-c.sessionCh:
		return nil
	case <-time.After(c.cfg.SessionWait):
		return errors.Timeout(
			fmt.Sprintf("no session token within %v", c.cfg.SessionWait),
			errors.WithMetadata("phase", "session"))
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for session token")
	}
}

// SessionID returns the captured session token, or empty before capture.
func (c *Client) SessionID() string {
	token, _ := c.sessionToken()
	return token
}

// sessionToken reads the token if the capture barrier has passed.
func (c *Client) sessionToken() (string, bool) {
	select {
	case <-c.sessionCh:
		return c.sessionID, true
	default:
		return "", false
	}
}

// listen consumes stream events for the lifetime of the session.
// Stream termination, whatever the cause, ends it silently; responses
// already recorded stay usable.
func (c *Client) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.stream.Events():
			if !ok {
				return
			}
			c.handlePayload(ev.Data)
		}
	}
}

// handlePayload processes one stream payload: session capture first, then
// response envelopes, keyed by id when present.
func (c *Client) handlePayload(data []byte) {
	if _, captured := c.sessionToken(); !captured {
		if idx := bytes.Index(data, []byte(sessionMarker)); idx >= 0 {
			token := strings.TrimSpace(string(data[idx+len(sessionMarker):]))
			if token != "" {
				c.captureSession(token)
			}
			return
		}
	}

	resp, err := transport.DecodeResponse(data)
	if err != nil {
		// Not a valid envelope; skipped, never escalated.
		c.log.MalformedPayload(len(data))
		return
	}

	if resp.IsEvent() {
		c.log.EventReceived(resp.Method)
		if c.onEvent != nil {
			c.onEvent(resp)
		}
		return
	}

	c.registry.Complete(*resp.ID, resp)
}

func (c *Client) captureSession(token string) {
	c.sessionOnce.Do(func() {
		c.sessionID = token
		close(c.sessionCh)
		c.log.SessionCaptured(token)
	})
}

// nextRequestID allocates the next request id. Ids are strictly increasing
// from 1, unique for this client instance only.
func (c *Client) nextRequestID() int64 {
	return c.reqID.Add(1)
}

// SendAndWait posts a request on the side channel and waits for the matching
// response to arrive on the stream. A zero timeout means the configured
// default. On timeout the response, if it ever arrives, parks in the
// registry; this call reports no result.
func (c *Client) SendAndWait(ctx context.Context, method string, params interface{}, timeout time.Duration) (*transport.Response, error) {
	token, ok := c.sessionToken()
	if !ok {
		return nil, errors.NoSession("send requires a captured session token",
			errors.WithMethod(method))
	}

	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	id := c.nextRequestID()
	req := transport.NewRequest(id, method, params)

	// Register before posting so the response cannot slip past.
	waiter := c.registry.Register(id)

	status, err := c.post(ctx, token, req)
	if err != nil {
		c.registry.Cancel(id)
		return nil, errors.Wrap(err, fmt.Sprintf("posting %s", method),
			errors.WithMethod(method), errors.WithRequestID(id))
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		c.registry.Cancel(id)
		return nil, errors.Rejected(status,
			errors.WithMethod(method), errors.WithRequestID(id))
	}
	c.log.RequestSent(method, id, status)

	start := time.Now()
	select {
	case resp := <-waiter:
		c.log.ResponseMatched(id, time.Since(start))
		return resp, nil

	case <-time.After(timeout):
		c.registry.Cancel(id)
		// The listener may have won the race; park the response it delivered.
		select {
		case resp := <-waiter:
			c.registry.Complete(id, resp)
		default:
		}
		c.log.RequestTimeout(method, id, timeout)
		return nil, errors.Timeout(
			fmt.Sprintf("no response for %s within %v", method, timeout),
			errors.WithMethod(method), errors.WithRequestID(id))

	case <-ctx.Done():
		c.registry.Cancel(id)
		return nil, errors.Wrap(ctx.Err(), fmt.Sprintf("waiting for %s response", method),
			errors.WithMethod(method), errors.WithRequestID(id))
	}
}

// Notify posts a notification (no id, no response expected).
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	token, ok := c.sessionToken()
	if !ok {
		return errors.NoSession("notify requires a captured session token",
			errors.WithMethod(method))
	}

	status, err := c.post(ctx, token, transport.NewNotification(method, params))
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("posting %s", method), errors.WithMethod(method))
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return errors.Rejected(status, errors.WithMethod(method))
	}
	return nil
}

// post submits one envelope to the side channel and returns the HTTP status.
func (c *Client) post(ctx context.Context, token string, envelope interface{}) (int, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return 0, errors.InvalidInput("encoding envelope", errors.WithCause(err))
	}

	endpoint := c.cfg.MessagesURL() + "?session_id=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Network("side channel unreachable", errors.WithCause(err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// Initialize performs the MCP initialization handshake and, on success,
// sends the initialized notification the protocol expects.
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	resp, err := c.SendAndWait(ctx, "initialize", map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		"clientInfo": map[string]interface{}{
			"name":       clientName,
			"version":    clientVersion,
			"instanceId": c.instanceID,
		},
	}, 0)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.RPC(resp.Error.Code, resp.Error.Message, errors.WithMethod("initialize"))
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.InvalidInput("parsing initialize result", errors.WithCause(err))
	}

	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		// Servers tolerate a missing initialized notification; keep going.
		c.log.Warn("initialized notification failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return &result.ServerInfo, nil
}

// ListTools fetches the server's tool descriptors, following pagination
// cursors until the listing is exhausted.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var all []Tool
	cursor := ""

	for {
		params := map[string]interface{}{}
		if cursor != "" {
			params["cursor"] = cursor
		}

		resp, err := c.SendAndWait(ctx, "tools/list", params, 0)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, errors.RPC(resp.Error.Code, resp.Error.Message, errors.WithMethod("tools/list"))
		}

		var page ToolsListResult
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, errors.InvalidInput("parsing tools list", errors.WithCause(err))
		}

		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.toolsMu.Lock()
	c.tools = all
	c.toolsMu.Unlock()
	return all, nil
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolCallResult, error) {
	resp, err := c.SendAndWait(ctx, "tools/call", ToolCallParams{
		Name:      name,
		Arguments: args,
	}, 0)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.RPC(resp.Error.Code, resp.Error.Message, errors.WithMethod("tools/call"))
	}

	var result ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.InvalidInput("parsing tool result", errors.WithCause(err))
	}
	return &result, nil
}

// Tools returns the tools cached by the last ListTools call.
func (c *Client) Tools() []Tool {
	c.toolsMu.Lock()
	defer c.toolsMu.Unlock()
	return c.tools
}

// Registry exposes the pending-response registry, mainly for inspection.
func (c *Client) Registry() *correlate.Registry {
	return c.registry
}

// Close stops the listener and releases network resources. In-flight sends
// time out on their own.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stream != nil {
		c.stream.Close()
	}
	c.http.CloseIdleConnections()
	return nil
}
