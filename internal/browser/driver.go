// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/config"
)

const (
	snapshotTextLength = 120
	cleanupTimeout     = 2 * time.Second
)

// Locator resolves where a remote session can be reached over CDP.
type Locator interface {
	ConnectURL(sessionID string) string
	Debug(ctx context.Context, sessionID string) (*browserbase.DebugInfo, error)
}

// PagePlanner maps natural-language instructions onto page operations.
type PagePlanner interface {
	PlanAction(ctx context.Context, instruction string, snap *PageSnapshot) (ActionPlan, error)
	PlanObservation(ctx context.Context, instruction string, snap *PageSnapshot) ([]schemas.ObserveResult, error)
	Extract(ctx context.Context, instruction, pageURL, pageText string) (string, error)
}

// attachment is a live CDP connection to the first tab of a remote session.
type attachment struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

func (a *attachment) close() {
	a.tabCancel()
	a.allocCancel()
}

// Driver controls remote browser sessions over the DevTools protocol. It attaches
// lazily on first use and keeps one connection per session until Detach.
type Driver struct {
	logger  *zap.Logger
	locator Locator
	planner PagePlanner
	cfg     config.BrowserConfig

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu       sync.Mutex
	attached map[string]*attachment
}

// NewDriver creates a driver. Connections outlive individual requests and are
// torn down by Detach or Close.
func NewDriver(logger *zap.Logger, locator Locator, planner PagePlanner, cfg config.BrowserConfig) *Driver {
	if cfg.MaxElements <= 0 {
		cfg.MaxElements = 150
	}
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = 15 * time.Second
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Driver{
		logger:     logger.Named("browser"),
		locator:    locator,
		planner:    planner,
		cfg:        cfg,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		attached:   make(map[string]*attachment),
	}
}

// Navigate starts loading url and returns once the navigation has committed,
// without waiting for the load event.
func (d *Driver) Navigate(ctx context.Context, sessionID, url string) error {
	return d.run(ctx, sessionID, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return fmt.Errorf("navigation to %s failed: %w", url, err)
		}
		if res.ErrorText != "" {
			return fmt.Errorf("navigation to %s failed: %s", url, res.ErrorText)
		}
		return nil
	}))
}

// Act carries out one natural-language interaction on the current page.
func (d *Driver) Act(ctx context.Context, sessionID, instruction string) error {
	tabCtx, err := d.tab(ctx, sessionID)
	if err != nil {
		return err
	}
	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	defer d.clearTags(runCtx)

	snap, err := d.snapshot(runCtx)
	if err != nil {
		return err
	}
	plan, err := d.planner.PlanAction(ctx, instruction, snap)
	if err != nil {
		return fmt.Errorf("could not plan %q: %w", instruction, err)
	}

	d.logger.Debug("Performing action",
		zap.String("session_id", sessionID),
		zap.String("method", plan.Method),
		zap.String("element", plan.Element.Describe()))

	if err := chromedp.Run(runCtx, interactionTasks(plan)); err != nil {
		return fmt.Errorf("%s on element %d failed: %w", plan.Method, plan.Element.ID, err)
	}
	return settle(ctx, d.cfg.PostActionDelay)
}

// Extract returns the information requested by instruction from the page text.
func (d *Driver) Extract(ctx context.Context, sessionID, instruction string) (string, error) {
	var src, loc string
	err := d.run(ctx, sessionID,
		chromedp.Location(&loc),
		chromedp.OuterHTML("html", &src, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	text, err := VisibleText(src, d.cfg.MaxTextLength)
	if err != nil {
		return "", err
	}
	return d.planner.Extract(ctx, instruction, loc, text)
}

// Observe lists elements relevant to instruction. The returned selectors stay
// valid until the next snapshot of the page.
func (d *Driver) Observe(ctx context.Context, sessionID, instruction string) ([]schemas.ObserveResult, error) {
	tabCtx, err := d.tab(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()

	snap, err := d.snapshot(runCtx)
	if err != nil {
		return nil, err
	}
	return d.planner.PlanObservation(ctx, instruction, snap)
}

// Screenshot captures the visible viewport as PNG.
func (d *Driver) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, sessionID, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Back goes one entry back in the tab's history.
func (d *Driver) Back(ctx context.Context, sessionID string) error {
	return d.run(ctx, sessionID, chromedp.NavigateBack())
}

// CurrentURL reports the URL of the attached tab.
func (d *Driver) CurrentURL(ctx context.Context, sessionID string) (string, error) {
	var loc string
	if err := d.run(ctx, sessionID, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Detach drops the CDP connection of a session. The remote browser keeps running.
// It has the shape of a session release hook.
func (d *Driver) Detach(_ context.Context, sessionID string) {
	d.mu.Lock()
	a, ok := d.attached[sessionID]
	delete(d.attached, sessionID)
	d.mu.Unlock()
	if ok {
		a.close()
		d.logger.Debug("Detached from session", zap.String("session_id", sessionID))
	}
}

// Close detaches from every session.
func (d *Driver) Close() error {
	d.mu.Lock()
	all := d.attached
	d.attached = make(map[string]*attachment)
	d.mu.Unlock()
	for _, a := range all {
		a.close()
	}
	d.rootCancel()
	return nil
}

func (d *Driver) run(ctx context.Context, sessionID string, actions ...chromedp.Action) error {
	tabCtx, err := d.tab(ctx, sessionID)
	if err != nil {
		return err
	}
	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// tab returns the chromedp context of the session, attaching on first use.
func (d *Driver) tab(ctx context.Context, sessionID string) (context.Context, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	d.mu.Lock()
	if a, ok := d.attached[sessionID]; ok {
		d.mu.Unlock()
		return a.tabCtx, nil
	}
	d.mu.Unlock()

	a, err := d.attach(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.attached[sessionID]; ok {
		// Lost a race with a concurrent attach.
		a.close()
		return existing.tabCtx, nil
	}
	d.attached[sessionID] = a
	return a.tabCtx, nil
}

func (d *Driver) attach(ctx context.Context, sessionID string) (*attachment, error) {
	var opts []chromedp.ContextOption
	info, err := d.locator.Debug(ctx, sessionID)
	switch {
	case err != nil:
		d.logger.Warn("Could not list session pages, opening a new tab", zap.String("session_id", sessionID), zap.Error(err))
	case len(info.Pages) > 0:
		opts = append(opts, chromedp.WithTargetID(target.ID(info.Pages[0].ID)))
	}

	sugar := d.logger.Sugar()
	opts = append(opts, chromedp.WithErrorf(sugar.Debugf))

	// Connections belong to the driver, not to the request that triggered them.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(d.rootCtx, d.locator.ConnectURL(sessionID), chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, opts...)
	a := &attachment{tabCtx: tabCtx, tabCancel: tabCancel, allocCancel: allocCancel}

	// The first Run establishes the connection. Its context must stay the long
	// lived tab context, so the deadline is enforced from outside.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(d.cfg.AttachTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to attach to session %s: %w", sessionID, err)
		}
	case <-timer.C:
		a.close()
		<-done
		return nil, fmt.Errorf("attaching to session %s timed out after %s", sessionID, d.cfg.AttachTimeout)
	case <-ctx.Done():
		a.close()
		<-done
		return nil, ctx.Err()
	}

	d.logger.Info("Attached to session", zap.String("session_id", sessionID), zap.Bool("existing_tab", len(opts) > 1))
	return a, nil
}

func (d *Driver) snapshot(ctx context.Context) (*PageSnapshot, error) {
	var snap PageSnapshot
	script := buildSnapshotScript(d.cfg.MaxElements, snapshotTextLength)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &snap)); err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	return &snap, nil
}

// clearTags removes snapshot attributes even if ctx was cancelled mid-action.
func (d *Driver) clearTags(ctx context.Context) {
	cctx, cancel := context.WithTimeout(Detach(ctx), cleanupTimeout)
	defer cancel()
	if err := chromedp.Run(cctx, chromedp.Evaluate(clearTagsScript, nil)); err != nil {
		d.logger.Debug("Failed to clear element tags", zap.Error(err))
	}
}

// interactionTasks translates a plan into chromedp actions.
func interactionTasks(plan ActionPlan) chromedp.Tasks {
	sel := plan.Element.Selector()
	switch plan.Method {
	case MethodFill:
		return chromedp.Tasks{
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Focus(sel, chromedp.ByQuery),
			chromedp.SetValue(sel, "", chromedp.ByQuery),
			chromedp.SendKeys(sel, plan.Argument, chromedp.ByQuery),
		}
	case MethodType:
		return chromedp.Tasks{
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, plan.Argument, chromedp.ByQuery),
		}
	case MethodPress:
		if plan.Element.ID == 0 {
			return chromedp.Tasks{chromedp.KeyEvent(keyFor(plan.Argument))}
		}
		return chromedp.Tasks{
			chromedp.Focus(sel, chromedp.ByQuery),
			chromedp.KeyEvent(keyFor(plan.Argument)),
		}
	case MethodSelect:
		var found bool
		return chromedp.Tasks{
			chromedp.Evaluate(selectOptionScript(sel, plan.Argument), &found),
			chromedp.ActionFunc(func(context.Context) error {
				if !found {
					return fmt.Errorf("option %q not found", plan.Argument)
				}
				return nil
			}),
		}
	case MethodScroll:
		return chromedp.Tasks{chromedp.ScrollIntoView(sel, chromedp.ByQuery)}
	default:
		return chromedp.Tasks{
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		}
	}
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
	"space":      " ",
}

// keyFor maps a key name to the sequence chromedp.KeyEvent expects. Unknown
// names are typed literally.
func keyFor(name string) string {
	if k, ok := namedKeys[strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))]; ok {
		return k
	}
	if name == "" {
		return kb.Enter
	}
	return name
}

func selectOptionScript(selector, option string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	if (!el || el.tagName !== 'SELECT') return false;
	const want = %q.trim().toLowerCase();
	for (const o of el.options) {
		if (o.text.trim().toLowerCase() === want || o.value.toLowerCase() === want) {
			el.value = o.value;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		}
	}
	return false;
})()`, selector, option)
}

// settle gives the page a moment to react before the next snapshot.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
