package mcpsse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/probelabs/mcpscout/config"
	"github.com/probelabs/mcpscout/errors"
	"github.com/probelabs/mcpscout/transport"
)

// fakeServer implements the split transport: an SSE stream on /sse that
// announces the session token, and a POST side channel on /messages/ that
// accepts envelopes and answers through the stream.
type fakeServer struct {
	t         *testing.T
	sessionID string

	// noSession suppresses the endpoint line; the token is never announced.
	noSession bool

	// rejectStatus, when non-zero, is returned for every POST.
	rejectStatus int

	// respondDelay delays stream delivery of each response.
	respondDelay time.Duration

	// respond builds the result for a posted request. Nil means an empty
	// result object echoing the request id.
	respond func(req transport.Request) interface{}

	// respondEnvelope, when set, builds the entire stream envelope instead.
	respondEnvelope func(req transport.Request) interface{}

	server   *httptest.Server
	streamCh chan string

	mu            sync.Mutex
	posted        []postedEnvelope
	notifications []string
}

type postedEnvelope struct {
	Method string
	ID     *int64
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		t:         t,
		sessionID: "sess-0001",
		streamCh:  make(chan string, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", f.handleStream)
	mux.HandleFunc("/messages/", f.handleMessages)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeServer) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	flusher.Flush()

	if !f.noSession {
		fmt.Fprintf(w, "event: endpoint\ndata: /messages/?session_id=%s\n\n", f.sessionID)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-f.streamCh:
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (f *fakeServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("session_id") != f.sessionID {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if f.rejectStatus != 0 {
		http.Error(w, "rejected", f.rejectStatus)
		return
	}

	var req transport.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if req.ID == 0 {
		// Envelope without an id: a notification.
		f.notifications = append(f.notifications, req.Method)
		f.posted = append(f.posted, postedEnvelope{Method: req.Method})
	} else {
		id := req.ID
		f.posted = append(f.posted, postedEnvelope{Method: req.Method, ID: &id})
	}
	f.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)

	if req.ID == 0 {
		return
	}

	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  map[string]interface{}{},
	}
	if f.respond != nil {
		envelope["result"] = f.respond(req)
	}
	var payload interface{} = envelope
	if f.respondEnvelope != nil {
		payload = f.respondEnvelope(req)
	}
	go func() {
		if f.respondDelay > 0 {
			time.Sleep(f.respondDelay)
		}
		f.push(payload)
	}()
}

// push delivers one JSON payload on the stream.
func (f *fakeServer) push(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.t.Errorf("push marshal: %v", err)
		return
	}
	f.streamCh <- string(data)
}

// pushRaw delivers a raw (possibly malformed) payload on the stream.
func (f *fakeServer) pushRaw(payload string) {
	f.streamCh <- payload
}

func (f *fakeServer) notified() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notifications...)
}

func (f *fakeServer) config() config.Config {
	u, err := url.Parse(f.server.URL)
	if err != nil {
		f.t.Fatalf("parsing server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	cfg := config.Default()
	cfg.BaseURL = u.Scheme + "://" + u.Hostname()
	cfg.Port = port
	cfg.RequestTimeout = 2 * time.Second
	cfg.SessionWait = 2 * time.Second
	return cfg
}

func startedClient(t *testing.T, f *fakeServer, opts ...Option) *Client {
	t.Helper()
	c := New(f.config(), opts...)
	t.Cleanup(func() { c.Close() })
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return c
}

// ============================================================================
// Session bootstrap
// ============================================================================

func TestStartSession_CapturesToken(t *testing.T) {
	f := newFakeServer(t)
	c := startedClient(t, f)

	if got := c.SessionID(); got != f.sessionID {
		t.Errorf("SessionID() = %q, want %q", got, f.sessionID)
	}
}

func TestStartSession_NoToken(t *testing.T) {
	f := newFakeServer(t)
	f.noSession = true

	cfg := f.config()
	cfg.SessionWait = 200 * time.Millisecond
	c := New(cfg)
	defer c.Close()

	err := c.StartSession(context.Background())
	if err == nil {
		t.Fatal("expected bootstrap failure without a session token")
	}
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("error code = %v, want TIMEOUT", errors.Code(err))
	}

	// No sends are possible without the token.
	_, err = c.SendAndWait(context.Background(), "tools/list", nil, 0)
	if !errors.Is(err, errors.ErrCodeNoSession) {
		t.Errorf("send without session = %v, want NO_SESSION", errors.Code(err))
	}
}

func TestStartSession_StreamRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no stream here", http.StatusNotFound)
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	port, _ := strconv.Atoi(u.Port())
	cfg := config.Default()
	cfg.BaseURL = u.Scheme + "://" + u.Hostname()
	cfg.Port = port

	c := New(cfg)
	defer c.Close()

	err := c.StartSession(context.Background())
	if err == nil {
		t.Fatal("expected error for rejected stream")
	}
	if !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Errorf("error code = %v, want UNAVAILABLE", errors.Code(err))
	}
}

func TestStartSession_ConnectionRefused(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 1 // nothing listens here

	c := New(cfg)
	defer c.Close()

	err := c.StartSession(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	if !errors.Is(err, errors.ErrCodeNetworkErr) {
		t.Errorf("error code = %v, want NETWORK_ERR", errors.Code(err))
	}
}

// ============================================================================
// Send-and-wait correlation
// ============================================================================

func TestSendAndWait_Matches(t *testing.T) {
	f := newFakeServer(t)
	c := startedClient(t, f)

	resp, err := c.SendAndWait(context.Background(), "ping", nil, 0)
	if err != nil {
		t.Fatalf("SendAndWait: %v", err)
	}
	if resp.ID == nil || *resp.ID != 1 {
		t.Errorf("response id = %v, want 1", resp.ID)
	}

	// Consumed: nothing parks, nobody waits.
	if c.Registry().Parked(1) {
		t.Error("matched response must be removed from the store")
	}
	if c.Registry().PendingWaiters() != 0 {
		t.Errorf("PendingWaiters = %d, want 0", c.Registry().PendingWaiters())
	}
}

func TestSendAndWait_IDsStrictlyIncrease(t *testing.T) {
	f := newFakeServer(t)
	c := startedClient(t, f)

	for want := int64(1); want <= 3; want++ {
		resp, err := c.SendAndWait(context.Background(), "ping", nil, 0)
		if err != nil {
			t.Fatalf("SendAndWait #%d: %v", want, err)
		}
		if *resp.ID != want {
			t.Errorf("response id = %d, want %d", *resp.ID, want)
		}
	}
}

func TestSendAndWait_TimeoutParksLateResponse(t *testing.T) {
	f := newFakeServer(t)
	f.respondDelay = 300 * time.Millisecond
	c := startedClient(t, f)

	_, err := c.SendAndWait(context.Background(), "slow", nil, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("error code = %v, want TIMEOUT", errors.Code(err))
	}

	// The response still arrives on the stream and parks under its id.
	deadline := time.Now().Add(2 * time.Second)
	for !c.Registry().Parked(1) {
		if time.Now().After(deadline) {
			t.Fatal("late response never parked")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSendAndWait_Rejected(t *testing.T) {
	f := newFakeServer(t)
	f.rejectStatus = http.StatusInternalServerError
	c := startedClient(t, f)

	_, err := c.SendAndWait(context.Background(), "ping", nil, 0)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !errors.Is(err, errors.ErrCodeRejected) {
		t.Errorf("error code = %v, want REJECTED", errors.Code(err))
	}
	if c.Registry().PendingWaiters() != 0 {
		t.Error("rejected send must withdraw its waiter")
	}
}

func TestMalformedPayloadsSkipped(t *testing.T) {
	f := newFakeServer(t)
	c := startedClient(t, f)

	f.pushRaw(`{this is not json`)
	f.pushRaw(`plain text line`)

	// The listener keeps going; a real exchange still works.
	resp, err := c.SendAndWait(context.Background(), "ping", nil, 0)
	if err != nil {
		t.Fatalf("SendAndWait after malformed payloads: %v", err)
	}
	if *resp.ID != 1 {
		t.Errorf("response id = %d, want 1", *resp.ID)
	}
}

func TestUnsolicitedEvents(t *testing.T) {
	f := newFakeServer(t)

	events := make(chan *transport.Response, 1)
	c := startedClient(t, f, WithEventHandler(func(r *transport.Response) {
		events <- r
	}))
	_ = c

	f.push(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/progress",
		"params":  map[string]interface{}{"progress": 50},
	})

	select {
	case ev := <-events:
		if ev.Method != "notifications/progress" {
			t.Errorf("Method = %q", ev.Method)
		}
		if !ev.IsEvent() {
			t.Error("unsolicited event must have no id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event handler never fired")
	}
}

// ============================================================================
// Handshake and discovery
// ============================================================================

func TestInitialize(t *testing.T) {
	f := newFakeServer(t)
	f.respond = func(req transport.Request) interface{} {
		if req.Method != "initialize" {
			t.Errorf("method = %q, want initialize", req.Method)
		}
		return map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"serverInfo": map[string]interface{}{
				"name":    "demo-server",
				"version": "0.3.0",
			},
		}
	}
	c := startedClient(t, f)

	info, err := c.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if info.Name != "demo-server" {
		t.Errorf("server name = %q, want demo-server", info.Name)
	}

	// The initialized notification follows the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for {
		notified := f.notified()
		if len(notified) > 0 {
			if notified[0] != "notifications/initialized" {
				t.Errorf("notification = %q", notified[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initialized notification never posted")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestInitialize_RPCError(t *testing.T) {
	f := newFakeServer(t)
	f.respondEnvelope = func(req transport.Request) interface{} {
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32600, "message": "Invalid Request"},
		}
	}
	c := startedClient(t, f)

	_, err := c.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected RPC error")
	}
	if !errors.Is(err, errors.ErrCodeRPCError) {
		t.Errorf("error code = %v, want RPC_ERROR", errors.Code(err))
	}
}

func TestListTools_Paginated(t *testing.T) {
	f := newFakeServer(t)
	f.respond = func(req transport.Request) interface{} {
		params, _ := req.Params.(map[string]interface{})
		if params["cursor"] == nil {
			return map[string]interface{}{
				"tools": []map[string]interface{}{
					{"name": "read_file", "description": "Read a file", "inputSchema": map[string]interface{}{"type": "object"}},
				},
				"nextCursor": "page-2",
			}
		}
		return map[string]interface{}{
			"tools": []map[string]interface{}{
				{"name": "write_file", "description": "Write a file", "inputSchema": map[string]interface{}{"type": "object"}},
			},
		}
	}
	c := startedClient(t, f)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(tools))
	}
	if tools[0].Name != "read_file" || tools[1].Name != "write_file" {
		t.Errorf("tools = %q, %q", tools[0].Name, tools[1].Name)
	}

	cached := c.Tools()
	if len(cached) != 2 {
		t.Errorf("cached tools = %d, want 2", len(cached))
	}
}

func TestCallTool(t *testing.T) {
	f := newFakeServer(t)
	f.respond = func(req transport.Request) interface{} {
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "hello from tool"},
			},
			"isError": false,
		}
	}
	c := startedClient(t, f)

	result, err := c.CallTool(context.Background(), "greet", map[string]interface{}{"name": "world"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello from tool" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestClose_StopsListener(t *testing.T) {
	f := newFakeServer(t)
	c := startedClient(t, f)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Post-close sends fail fast rather than hanging.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.SendAndWait(ctx, "ping", nil, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error after Close")
	}
}
