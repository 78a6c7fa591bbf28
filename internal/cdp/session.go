package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrNotConnected is returned when a command is issued without a live
// browser connection.
var ErrNotConnected = errors.New("cdp: not connected")

// Session is a browser-level CDP websocket client. Commands are matched to
// responses by id; events are fanned out to registered handlers.
type Session struct {
	httpBase string

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler

	onClose func()
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// NewSession builds a session against a CDP HTTP endpoint such as
// http://127.0.0.1:9222.
func NewSession(httpBase string) *Session {
	return &Session{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// Connect dials the browser websocket unless already connected. It reports
// whether a new connection was made.
func (s *Session) Connect(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return false, nil
	}

	wsURL, err := s.browserWSURL(ctx)
	if err != nil {
		return false, fmt.Errorf("cdp: browser ws url: %w", err)
	}

	slog.Debug("cdp: connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return false, fmt.Errorf("cdp: dial: %w", err)
	}

	s.conn = conn
	s.pending = make(map[int64]chan json.RawMessage)
	go s.readLoop(conn)
	return true, nil
}

// Connected reports whether the websocket is up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// SetOnClose registers a callback run after the connection drops.
func (s *Session) SetOnClose(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdp: read loop exit", "error", err)
			break
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			s.pendingMu.Lock()
			ch, ok := s.pending[msg.ID]
			if ok {
				delete(s.pending, msg.ID)
			}
			s.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			s.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
	onClose := s.onClose
	s.mu.Unlock()
	s.closeAllPending()
	if onClose != nil {
		onClose()
	}
}

func (s *Session) closeAllPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *Session) deletePending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// Call sends a command, optionally on a flattened target session, and
// returns the inner result object.
func (s *Session) Call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	id := s.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cdp: marshal %s: %w", method, err)
	}

	ch := make(chan json.RawMessage, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	s.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	s.mu.Unlock()
	if err != nil {
		s.deletePending(id)
		return nil, fmt.Errorf("cdp: send %s: %w", method, err)
	}

	var resp json.RawMessage
	select {
	case r, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdp: %s: connection closed", method)
		}
		resp = r
	case <-ctx.Done():
		s.deletePending(id)
		return nil, ctx.Err()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("cdp: unmarshal %s: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("cdp: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// On registers a handler for a CDP event method and returns an
// unregister function.
func (s *Session) On(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := s.seq.Add(1)
	s.eventMu.Lock()
	s.eventHandlers[method] = append(s.eventHandlers[method], eventHandler{id: id, fn: fn})
	s.eventMu.Unlock()
	return func() {
		s.eventMu.Lock()
		defer s.eventMu.Unlock()
		handlers := s.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				s.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (s *Session) dispatchEvent(method, sessionID string, params json.RawMessage) {
	s.eventMu.RLock()
	handlers := make([]eventHandler, len(s.eventHandlers[method]))
	copy(handlers, s.eventHandlers[method])
	s.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

// AttachToTarget attaches a flat session to targetID.
func (s *Session) AttachToTarget(ctx context.Context, targetID string) (string, error) {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	raw, err := s.Call(ctx, "", "Target.attachToTarget", params)
	if err != nil {
		return "", err
	}
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("cdp: unmarshal attach: %w", err)
	}
	return resp.SessionID, nil
}

// DetachFromTarget detaches without closing the target.
func (s *Session) DetachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	_, err := s.Call(ctx, "", "Target.detachFromTarget", params)
	return err
}

// Evaluate runs js on a flattened session and returns the string result.
func (s *Session) Evaluate(ctx context.Context, sessionID, js string) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	raw, err := s.Call(ctx, sessionID, "Runtime.evaluate", params)
	if err != nil {
		return "", err
	}
	var resp struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("cdp: unmarshal eval: %w", err)
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("cdp: eval exception: %s", resp.ExceptionDetails.Text)
	}
	var str string
	if err := json.Unmarshal(resp.Result.Value, &str); err != nil {
		return string(resp.Result.Value), nil
	}
	return str, nil
}

// CreateTarget opens a new background page at url.
func (s *Session) CreateTarget(ctx context.Context, url string) (target.ID, error) {
	params := struct {
		URL        string `json:"url"`
		Background bool   `json:"background"`
	}{URL: url, Background: true}

	raw, err := s.Call(ctx, "", "Target.createTarget", params)
	if err != nil {
		return "", err
	}
	var resp struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("cdp: unmarshal createTarget: %w", err)
	}
	return resp.TargetID, nil
}

func (s *Session) CloseTarget(ctx context.Context, id target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: id}
	_, err := s.Call(ctx, "", "Target.closeTarget", params)
	return err
}

// DiscoverTargets enables Target.targetCreated / targetDestroyed events.
func (s *Session) DiscoverTargets(ctx context.Context) error {
	params := struct {
		Discover bool `json:"discover"`
	}{Discover: true}
	_, err := s.Call(ctx, "", "Target.setDiscoverTargets", params)
	return err
}

// ListTargets fetches open targets via the HTTP /json/list endpoint.
func (s *Session) ListTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, s.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

func (s *Session) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
