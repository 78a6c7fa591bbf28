package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type fakeTarget struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
	state string
}

// fakeBrowser serves the subset of the DevTools HTTP and websocket
// protocol the session uses.
type fakeBrowser struct {
	srv *httptest.Server

	mu      sync.Mutex
	targets []fakeTarget
	methods []string
	handles map[string]string
}

func newFakeBrowser(t *testing.T, targets ...fakeTarget) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{targets: targets, handles: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/devtools/browser/fake"
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		_ = json.NewEncoder(w).Encode(fb.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	go func() {
		defer conn.Close()
		var writeMu sync.Mutex
		write := func(v any) {
			data, _ := json.Marshal(v)
			writeMu.Lock()
			_ = wsutil.WriteServerText(conn, data)
			writeMu.Unlock()
		}
		for {
			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			var req struct {
				ID        int64           `json:"id"`
				Method    string          `json:"method"`
				SessionID string          `json:"sessionId"`
				Params    json.RawMessage `json:"params"`
			}
			if json.Unmarshal(data, &req) != nil {
				continue
			}
			fb.mu.Lock()
			fb.methods = append(fb.methods, req.Method)
			fb.mu.Unlock()

			result := map[string]any{}
			switch req.Method {
			case "Target.attachToTarget":
				var p struct {
					TargetID string `json:"targetId"`
				}
				_ = json.Unmarshal(req.Params, &p)
				result["sessionId"] = "S-" + p.TargetID
			case "Runtime.evaluate":
				id := strings.TrimPrefix(req.SessionID, "S-")
				var p struct {
					Expression string `json:"expression"`
				}
				_ = json.Unmarshal(req.Params, &p)
				value := fb.stateOf(id)
				if strings.Contains(p.Expression, "setCaptureHandleConfig") {
					fb.mu.Lock()
					fb.handles[id] = p.Expression
					fb.mu.Unlock()
					value = "ok"
				}
				result["result"] = map[string]any{"type": "string", "value": value}
			case "Target.createTarget":
				result["targetId"] = "NEW"
			case "Target.closeTarget":
				result["success"] = true
			case "Target.setDiscoverTargets":
				write(map[string]any{"id": req.ID, "result": result})
				write(map[string]any{"method": "Target.targetCreated", "params": map[string]any{
					"targetInfo": map[string]any{"targetId": "T9", "type": "page", "title": "New", "url": "https://example.com/new", "attached": false, "canAccessOpener": false},
				}})
				write(map[string]any{"method": "Target.targetDestroyed", "params": map[string]any{"targetId": "T1"}})
				continue
			case "Target.fail":
				write(map[string]any{"id": req.ID, "error": map[string]any{"message": "boom"}})
				continue
			}
			write(map[string]any{"id": req.ID, "result": result})
		}
	}()
}

func (fb *fakeBrowser) stateOf(id string) string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, t := range fb.targets {
		if t.ID == id {
			return t.state
		}
	}
	return "hidden"
}

func (fb *fakeBrowser) called(method string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, m := range fb.methods {
		if m == method {
			return true
		}
	}
	return false
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestActiveTabPrefersFocused(t *testing.T) {
	fb := newFakeBrowser(t,
		fakeTarget{ID: "T1", Type: "page", Title: "One", URL: "https://a.example", state: "visible"},
		fakeTarget{ID: "T2", Type: "page", Title: "Two", URL: "https://b.example", state: "focused"},
		fakeTarget{ID: "W1", Type: "service_worker", URL: "https://b.example/sw.js", state: "focused"},
	)
	b := NewBrowser(Config{CDPURL: fb.srv.URL})
	t.Cleanup(b.Close)

	tab, err := b.ActiveTab(testContext(t))
	if err != nil {
		t.Fatalf("ActiveTab() error = %v", err)
	}
	if tab.ID != "T2" || tab.Title != "Two" {
		t.Fatalf("ActiveTab() = %+v; want T2", tab)
	}
	if !fb.called("Target.detachFromTarget") {
		t.Fatal("probe sessions were not detached")
	}
}

func TestActiveTabFallbacks(t *testing.T) {
	fb := newFakeBrowser(t,
		fakeTarget{ID: "T1", Type: "page", URL: "https://a.example", state: "hidden"},
		fakeTarget{ID: "T2", Type: "page", URL: "https://b.example", state: "visible"},
	)
	b := NewBrowser(Config{CDPURL: fb.srv.URL})
	t.Cleanup(b.Close)
	if tab, err := b.ActiveTab(testContext(t)); err != nil || tab.ID != "T2" {
		t.Fatalf("ActiveTab() = %+v, %v; want visible T2", tab, err)
	}

	hidden := newFakeBrowser(t,
		fakeTarget{ID: "H1", Type: "page", URL: "https://a.example", state: "hidden"},
		fakeTarget{ID: "H2", Type: "page", URL: "https://b.example", state: "hidden"},
	)
	b2 := NewBrowser(Config{CDPURL: hidden.srv.URL})
	t.Cleanup(b2.Close)
	if tab, err := b2.ActiveTab(testContext(t)); err != nil || tab.ID != "H1" {
		t.Fatalf("ActiveTab() = %+v, %v; want first listed H1", tab, err)
	}
}

func TestActiveTabIgnoresCapturePage(t *testing.T) {
	fb := newFakeBrowser(t,
		fakeTarget{ID: "OFF", Type: "page", URL: "http://127.0.0.1:8787/offscreen", state: "focused"},
		fakeTarget{ID: "DEV", Type: "page", URL: "devtools://devtools/inspector.html", state: "focused"},
	)
	b := NewBrowser(Config{CDPURL: fb.srv.URL, IgnoreURLPrefixes: []string{"http://127.0.0.1:8787/offscreen"}})
	t.Cleanup(b.Close)
	if _, err := b.ActiveTab(testContext(t)); !errors.Is(err, ErrNoActiveTab) {
		t.Fatalf("ActiveTab() error = %v; want ErrNoActiveTab", err)
	}
}

func TestIssueStream(t *testing.T) {
	fb := newFakeBrowser(t, fakeTarget{ID: "T1", Type: "page", URL: "https://a.example"})
	b := NewBrowser(Config{CDPURL: fb.srv.URL})
	t.Cleanup(b.Close)
	ctx := testContext(t)

	id, err := b.IssueStream(ctx, "T1")
	if err != nil {
		t.Fatalf("IssueStream() error = %v", err)
	}
	if !strings.HasPrefix(id, "T1:") {
		t.Fatalf("IssueStream() = %q; want T1: prefix", id)
	}
	fb.mu.Lock()
	expr := fb.handles["T1"]
	fb.mu.Unlock()
	if !strings.Contains(expr, `"`+id+`"`) {
		t.Fatalf("capture handle expression = %q; want token %q", expr, id)
	}
	other, _ := b.IssueStream(ctx, "T1")
	if other == id {
		t.Fatal("IssueStream() returned the same token twice")
	}
	if _, err := b.IssueStream(ctx, "gone"); !errors.Is(err, ErrTabNotFound) {
		t.Fatalf("IssueStream(gone) error = %v; want ErrTabNotFound", err)
	}
}

func TestOpenAndClosePage(t *testing.T) {
	fb := newFakeBrowser(t)
	b := NewBrowser(Config{CDPURL: fb.srv.URL})
	t.Cleanup(b.Close)
	ctx := testContext(t)

	id, err := b.OpenPage(ctx, "http://127.0.0.1:8787/offscreen")
	if err != nil || id != "NEW" {
		t.Fatalf("OpenPage() = %q, %v; want NEW", id, err)
	}
	if err := b.ClosePage(ctx, id); err != nil {
		t.Fatalf("ClosePage() error = %v", err)
	}
}

func TestWatchTargets(t *testing.T) {
	fb := newFakeBrowser(t)
	b := NewBrowser(Config{CDPURL: fb.srv.URL})
	t.Cleanup(b.Close)

	created := make(chan Tab, 1)
	destroyed := make(chan string, 1)
	unwatch, err := b.WatchTargets(testContext(t), TargetHandlers{
		Created:   func(tab Tab) { created <- tab },
		Destroyed: func(id string) { destroyed <- id },
	})
	if err != nil {
		t.Fatalf("WatchTargets() error = %v", err)
	}
	defer unwatch()

	select {
	case tab := <-created:
		if tab.ID != "T9" || tab.URL != "https://example.com/new" {
			t.Fatalf("created = %+v", tab)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no targetCreated delivered")
	}
	select {
	case id := <-destroyed:
		if id != "T1" {
			t.Fatalf("destroyed = %q; want T1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no targetDestroyed delivered")
	}
}

func TestSessionCallErrors(t *testing.T) {
	s := NewSession("http://127.0.0.1:1")
	if _, err := s.Call(context.Background(), "", "Target.getTargets", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Call() before Connect = %v; want ErrNotConnected", err)
	}

	fb := newFakeBrowser(t)
	s = NewSession(fb.srv.URL)
	t.Cleanup(s.Close)
	ctx := testContext(t)
	if _, err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_, err := s.Call(ctx, "", "Target.fail", nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Call() error = %v; want protocol error surfaced", err)
	}
	if fresh, err := s.Connect(ctx); err != nil || fresh {
		t.Fatalf("second Connect() = %v, %v; want reuse", fresh, err)
	}
}
