package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

var (
	ErrNoActiveTab = errors.New("no active tab")
	ErrTabNotFound = errors.New("tab not found")
)

// activeProbeJS reports the page's focus state without side effects.
const activeProbeJS = `(document.hasFocus() ? "focused" : document.visibilityState)`

// captureHandleJS publishes a stream token as the tab's capture handle so
// the capture page can confirm which surface it was given.
const captureHandleJS = `(() => {
  if (!navigator.mediaDevices || !navigator.mediaDevices.setCaptureHandleConfig) return "unsupported";
  navigator.mediaDevices.setCaptureHandleConfig({handle: %s, exposeOrigin: false, permittedOrigins: ["*"]});
  return "ok";
})()`

// Tab is a capturable browser page.
type Tab struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Config controls which pages are considered tabs.
type Config struct {
	CDPURL       string
	TabURLFilter string
	// IgnoreURLPrefixes are never reported as tabs (the capture page itself,
	// devtools, internal pages).
	IgnoreURLPrefixes []string
}

// Browser resolves tabs and manages pages over CDP. Enumeration goes
// through chromedp; focus probing, page creation and target events use a
// lightweight browser-level session.
type Browser struct {
	cfg  Config
	sess *Session

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	ownTarget     target.ID
	watching      bool
}

func NewBrowser(cfg Config) *Browser {
	b := &Browser{cfg: cfg, sess: NewSession(cfg.CDPURL)}
	b.sess.SetOnClose(func() {
		slog.Warn("cdp: browser connection lost")
	})
	return b
}

// Connect attaches to the running browser.
func (b *Browser) Connect(ctx context.Context) error {
	if err := b.ensureChromedp(ctx); err != nil {
		return err
	}
	_, err := b.ensureSession(ctx)
	return err
}

func (b *Browser) ensureChromedp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return nil
	}

	slog.Info("cdp: connecting to browser", "url", b.cfg.CDPURL)
	b.allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(context.Background(), b.cfg.CDPURL)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	runCtx, cancel := context.WithTimeout(b.browserCtx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx); err != nil {
		b.browserCancel()
		b.allocCancel()
		b.browserCtx = nil
		return fmt.Errorf("connect to browser: %w", err)
	}
	if c := chromedp.FromContext(b.browserCtx); c != nil && c.Target != nil {
		b.ownTarget = c.Target.TargetID
	}
	return nil
}

func (b *Browser) ensureSession(ctx context.Context) (bool, error) {
	fresh, err := b.sess.Connect(ctx)
	if err != nil {
		return false, err
	}
	if fresh {
		b.mu.Lock()
		watching := b.watching
		b.mu.Unlock()
		if watching {
			if err := b.sess.DiscoverTargets(ctx); err != nil {
				return true, fmt.Errorf("enable target discovery: %w", err)
			}
		}
	}
	return fresh, nil
}

// Close releases the CDP connections. The browser itself keeps running.
func (b *Browser) Close() {
	b.sess.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
}

// Tabs enumerates capturable pages.
func (b *Browser) Tabs(ctx context.Context) ([]Tab, error) {
	if err := b.ensureChromedp(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()

	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("enumerate targets: %w", err)
	}
	return b.filter(infos), nil
}

func (b *Browser) filter(infos []*target.Info) []Tab {
	b.mu.Lock()
	own := b.ownTarget
	b.mu.Unlock()

	filter := strings.ToLower(b.cfg.TabURLFilter)
	out := make([]Tab, 0, len(infos))
	for _, t := range infos {
		if t.Type != "page" || t.TargetID == own {
			continue
		}
		if !b.capturable(t.URL) {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(t.URL), filter) {
			continue
		}
		out = append(out, Tab{ID: string(t.TargetID), Title: t.Title, URL: t.URL})
	}
	return out
}

func (b *Browser) capturable(url string) bool {
	for _, p := range b.cfg.IgnoreURLPrefixes {
		if p != "" && strings.HasPrefix(url, p) {
			return false
		}
	}
	return !strings.HasPrefix(url, "devtools://") && !strings.HasPrefix(url, "chrome://")
}

// ActiveTab returns the focused page, else the first visible one, else the
// most recently activated one.
func (b *Browser) ActiveTab(ctx context.Context) (Tab, error) {
	if _, err := b.ensureSession(ctx); err != nil {
		return Tab{}, err
	}
	infos, err := b.sess.ListTargets(ctx)
	if err != nil {
		return Tab{}, fmt.Errorf("list targets: %w", err)
	}
	candidates := b.filter(infos)
	if len(candidates) == 0 {
		return Tab{}, ErrNoActiveTab
	}

	var visible *Tab
	for i := range candidates {
		state, err := b.probe(ctx, candidates[i].ID)
		if err != nil {
			slog.Debug("cdp: focus probe failed", "tab_id", candidates[i].ID, "error", err)
			continue
		}
		if state == "focused" {
			return candidates[i], nil
		}
		if state == "visible" && visible == nil {
			visible = &candidates[i]
		}
	}
	if visible != nil {
		return *visible, nil
	}
	return candidates[0], nil
}

func (b *Browser) probe(ctx context.Context, targetID string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	sessionID, err := b.sess.AttachToTarget(probeCtx, targetID)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := b.sess.DetachFromTarget(context.Background(), sessionID); err != nil {
			slog.Debug("cdp: detach after probe failed", "tab_id", targetID, "error", err)
		}
	}()
	return b.sess.Evaluate(probeCtx, sessionID, activeProbeJS)
}

// IssueStream mints a capture stream token for tabID and tags the tab with
// it. The token is opaque to the orchestrator and only valid while the tab
// exists.
func (b *Browser) IssueStream(ctx context.Context, tabID string) (string, error) {
	if _, err := b.ensureSession(ctx); err != nil {
		return "", err
	}
	infos, err := b.sess.ListTargets(ctx)
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	for _, t := range infos {
		if string(t.TargetID) == tabID && t.Type == "page" {
			token := tabID + ":" + uuid.NewString()
			if err := b.tagTab(ctx, tabID, token); err != nil {
				return "", fmt.Errorf("tag tab %s: %w", tabID, err)
			}
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
}

func (b *Browser) tagTab(ctx context.Context, tabID, token string) error {
	quoted, err := json.Marshal(token)
	if err != nil {
		return err
	}
	sessionID, err := b.sess.AttachToTarget(ctx, tabID)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.sess.DetachFromTarget(context.Background(), sessionID); err != nil {
			slog.Debug("cdp: detach after tagging failed", "tab_id", tabID, "error", err)
		}
	}()
	res, err := b.sess.Evaluate(ctx, sessionID, fmt.Sprintf(captureHandleJS, quoted))
	if err != nil {
		return err
	}
	if res != "ok" {
		return fmt.Errorf("capture handle %s", res)
	}
	return nil
}

// OpenPage creates a background page at url and returns its target ID.
func (b *Browser) OpenPage(ctx context.Context, url string) (string, error) {
	if _, err := b.ensureSession(ctx); err != nil {
		return "", err
	}
	id, err := b.sess.CreateTarget(ctx, url)
	if err != nil {
		return "", err
	}
	slog.Info("cdp: page opened", "target_id", id, "url", url)
	return string(id), nil
}

// ClosePage closes a page opened by OpenPage.
func (b *Browser) ClosePage(ctx context.Context, id string) error {
	if !b.sess.Connected() {
		return ErrNotConnected
	}
	return b.sess.CloseTarget(ctx, target.ID(id))
}

// TargetHandlers receive page lifecycle events.
type TargetHandlers struct {
	Created   func(Tab)
	Destroyed func(id string)
}

// WatchTargets subscribes h to page creation and destruction. Discovery is
// re-enabled whenever the session reconnects.
func (b *Browser) WatchTargets(ctx context.Context, h TargetHandlers) (func(), error) {
	b.mu.Lock()
	b.watching = true
	b.mu.Unlock()

	offCreated := b.sess.On("Target.targetCreated", func(_ string, params json.RawMessage) {
		var ev target.EventTargetCreated
		if err := json.Unmarshal(params, &ev); err != nil || ev.TargetInfo == nil {
			return
		}
		tabs := b.filter([]*target.Info{ev.TargetInfo})
		if len(tabs) == 1 && h.Created != nil {
			h.Created(tabs[0])
		}
	})
	offDestroyed := b.sess.On("Target.targetDestroyed", func(_ string, params json.RawMessage) {
		var ev target.EventTargetDestroyed
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		if h.Destroyed != nil {
			h.Destroyed(string(ev.TargetID))
		}
	})
	unwatch := func() {
		offCreated()
		offDestroyed()
	}

	fresh, err := b.ensureSession(ctx)
	if err != nil {
		unwatch()
		return nil, err
	}
	if !fresh {
		if err := b.sess.DiscoverTargets(ctx); err != nil {
			unwatch()
			return nil, fmt.Errorf("enable target discovery: %w", err)
		}
	}
	return unwatch, nil
}
