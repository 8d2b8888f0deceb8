// internal/engine/cdp/page.go

// Package cdp implements the engine contract on top of a headless Chrome
// instance driven over the DevTools protocol via chromedp.
//
// Background protocol events are queued and delivered only from PumpEvents,
// preserving the cooperative single-goroutine model the session core is
// built around. JavaScript dialogs are the one exception: Chrome blocks
// script execution until a dialog is answered, so the dialog hooks run on
// the protocol event goroutine and any hook error is surfaced through the
// next PumpEvents or Evaluate call.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	cdpruntime "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/engine"
)

const (
	defaultOpTimeout = 30 * time.Second
	bodyFetchTimeout = 15 * time.Second
)

// Options configures a browser-backed page.
type Options struct {
	Logger *zap.Logger
	// Headless launches Chrome without a visible window. Defaults to true
	// via NewPage; set ShowWindow to disable.
	ShowWindow bool
	// OpTimeout bounds individual protocol commands.
	OpTimeout time.Duration
	// IgnoreTLSErrors tells Chrome to proceed through certificate errors
	// instead of aborting the load.
	IgnoreTLSErrors bool
	// ExtraFlags are additional Chrome command line switches.
	ExtraFlags map[string]any
}

// Page drives one Chrome tab.
type Page struct {
	logger *zap.Logger
	opts   Options

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool

	hooks engine.Hooks

	mu        sync.Mutex
	queue     []func() error
	dialogErr error
	replies   map[network.RequestID]*replyMeta
	mainReqID network.RequestID
	lastURL   string
	loading   bool

	viewportW, viewportH int
	userAgent            string
	proxy                *engine.ProxyConfig
	excludePattern       string
	excludeRe            *regexp.Regexp

	// framePath holds the iframe selector chain the page is currently
	// focused on; empty means the top-level frame.
	framePath []string
}

// NewPage prepares a page. Chrome is launched lazily on the first operation
// that needs it, so proxy and user agent settings applied before the first
// Load take effect at launch.
func NewPage(opts Options) *Page {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	return &Page{
		logger:    opts.Logger.Named("cdp"),
		opts:      opts,
		viewportW: 1600,
		viewportH: 900,
		replies:   make(map[network.RequestID]*replyMeta),
	}
}

var _ engine.Page = (*Page)(nil)

type replyMeta struct {
	url     string
	status  int
	headers network.Headers
}

func (p *Page) start() error {
	if p.started {
		return nil
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range p.launchFlags() {
		opts = append(opts, chromedp.Flag(name, value))
	}
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	p.ctx, p.cancel = chromedp.NewContext(p.allocCtx)

	if err := chromedp.Run(p.ctx,
		network.Enable(),
		page.Enable(),
		runtime.Enable(),
		page.SetInterceptFileChooserDialog(true),
	); err != nil {
		p.teardown()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	p.listen()
	p.started = true

	if p.userAgent != "" {
		if err := p.applyUserAgent(p.userAgent); err != nil {
			return err
		}
	}
	if err := p.applyViewport(p.viewportW, p.viewportH); err != nil {
		return err
	}
	// Interception is always on so auth challenges can be answered.
	if err := p.enableInterception(); err != nil {
		return err
	}
	p.logger.Debug("Browser launched.", zap.Bool("headless", !p.opts.ShowWindow))
	return nil
}

// launchFlags builds the Chrome switches added on top of chromedp's
// defaults. Kept free of chromedp types so the selection is testable
// without launching a browser.
func (p *Page) launchFlags() map[string]any {
	flags := make(map[string]any)
	if p.opts.ShowWindow {
		flags["headless"] = false
	}
	if p.opts.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if flag := proxyFlag(p.proxy); flag != "" {
		flags["proxy-server"] = flag
	} else if p.proxy != nil && p.proxy.Type == engine.ProxyNone {
		flags["no-proxy-server"] = true
	}
	for name, value := range p.opts.ExtraFlags {
		flags[name] = value
	}
	return flags
}

func (p *Page) teardown() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.started = false
}

// run executes protocol actions under the operation timeout.
func (p *Page) run(actions ...chromedp.Action) error {
	if err := p.start(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.OpTimeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// execCtx returns a context suitable for direct cdproto command execution
// from the event goroutine.
func (p *Page) execCtx() context.Context {
	c := chromedp.FromContext(p.ctx)
	return cdpruntime.WithExecutor(p.ctx, c.Target)
}

func (p *Page) mainFrameID() cdpruntime.FrameID {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return ""
	}
	return cdpruntime.FrameID(c.Target.TargetID)
}

func (p *Page) enqueue(fn func() error) {
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()
}

func (p *Page) setDialogErr(err error) {
	p.mu.Lock()
	if p.dialogErr == nil {
		p.dialogErr = err
	}
	p.mu.Unlock()
}

func (p *Page) takeDialogErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.dialogErr
	p.dialogErr = nil
	return err
}

// listen installs the protocol event listener. Handlers only queue work;
// delivery happens in PumpEvents on the caller goroutine.
func (p *Page) listen() {
	main := p.mainFrameID()
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *page.EventFrameStartedLoading:
			if ev.FrameID == main {
				p.mu.Lock()
				p.loading = true
				p.mu.Unlock()
				p.enqueue(func() error {
					if p.hooks.LoadStarted != nil {
						p.hooks.LoadStarted()
					}
					return nil
				})
			}
		case *page.EventFrameNavigated:
			if ev.Frame.ID == main {
				p.mu.Lock()
				p.lastURL = ev.Frame.URL
				p.mu.Unlock()
			}
		case *page.EventFrameStoppedLoading:
			if ev.FrameID == main {
				p.mu.Lock()
				wasLoading := p.loading
				p.loading = false
				p.mu.Unlock()
				if wasLoading {
					p.enqueue(func() error {
						if p.hooks.LoadFinished != nil {
							p.hooks.LoadFinished(true)
						}
						return nil
					})
				}
			}
		case *page.EventJavascriptDialogOpening:
			go p.handleDialog(ev)
		case *page.EventFileChooserOpened:
			go p.handleFileChooser(ev)
		case *network.EventRequestWillBeSent:
			p.handleRequestWillBeSent(ev, main)
		case *network.EventResponseReceived:
			p.handleResponseReceived(ev)
		case *network.EventLoadingFinished:
			p.handleLoadingFinished(ev)
		case *network.EventLoadingFailed:
			p.handleLoadingFailed(ev)
		case *fetch.EventRequestPaused:
			go p.handleRequestPaused(ev)
		case *fetch.EventAuthRequired:
			p.handleAuthRequired(ev)
		case *runtime.EventConsoleAPICalled:
			p.handleConsole(ev)
		}
	})
}

func (p *Page) handleRequestWillBeSent(ev *network.EventRequestWillBeSent, main cdpruntime.FrameID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[ev.RequestID] = &replyMeta{url: ev.Request.URL}
	if ev.Type == network.ResourceTypeDocument && ev.FrameID == main {
		p.mainReqID = ev.RequestID
	}
}

func (p *Page) handleResponseReceived(ev *network.EventResponseReceived) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if meta, ok := p.replies[ev.RequestID]; ok {
		meta.url = ev.Response.URL
		meta.status = int(ev.Response.Status)
		meta.headers = ev.Response.Headers
	}
}

// handleLoadingFinished fetches the response body off the event goroutine
// and queues the finished reply for the next pump.
func (p *Page) handleLoadingFinished(ev *network.EventLoadingFinished) {
	p.mu.Lock()
	meta, ok := p.replies[ev.RequestID]
	if ok {
		delete(p.replies, ev.RequestID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	reqID := ev.RequestID
	go func() {
		fetchCtx, cancel := context.WithTimeout(p.execCtx(), bodyFetchTimeout)
		defer cancel()

		body, err := network.GetResponseBody(reqID).Do(fetchCtx)
		if err != nil {
			// Bodies are unavailable for some resource types; deliver the
			// reply without content rather than dropping it.
			p.logger.Debug("Failed to fetch response body.", zap.String("url", meta.url), zap.Error(err))
		}
		p.enqueue(func() error {
			if p.hooks.ReplyFinished != nil {
				p.hooks.ReplyFinished(&reply{
					url:     meta.url,
					status:  meta.status,
					headers: rawHeaders(meta.headers),
					content: body,
				})
			}
			return nil
		})
	}()
}

func (p *Page) handleLoadingFailed(ev *network.EventLoadingFailed) {
	p.mu.Lock()
	isMain := ev.RequestID == p.mainReqID
	wasLoading := p.loading
	if isMain {
		p.loading = false
	}
	meta := p.replies[ev.RequestID]
	delete(p.replies, ev.RequestID)
	p.mu.Unlock()

	if isCertError(ev.ErrorText) {
		failed := &reply{}
		if meta != nil {
			failed.url = meta.url
		}
		certErr := errors.New(ev.ErrorText)
		p.enqueue(func() error {
			if p.hooks.SSLErrors != nil {
				p.hooks.SSLErrors(failed, []error{certErr})
			}
			return nil
		})
	}

	if isMain && wasLoading {
		p.enqueue(func() error {
			if p.hooks.LoadFinished != nil {
				p.hooks.LoadFinished(false)
			}
			return nil
		})
	}
}

// isCertError reports whether a network error text names a TLS
// certificate failure, e.g. net::ERR_CERT_AUTHORITY_INVALID.
func isCertError(errText string) bool {
	return strings.HasPrefix(errText, "net::ERR_CERT") || strings.HasPrefix(errText, "net::ERR_SSL")
}

// handleDialog answers a JavaScript dialog. Chrome halts script execution
// until the dialog is handled, so this cannot wait for a pump.
func (p *Page) handleDialog(ev *page.EventJavascriptDialogOpening) {
	accept := true
	var text string

	switch ev.Type {
	case page.DialogTypeAlert:
		if p.hooks.Alert != nil {
			p.hooks.Alert(ev.Message)
		}
	case page.DialogTypeConfirm:
		if p.hooks.Confirm == nil {
			accept = false
		} else {
			answer, err := p.hooks.Confirm(ev.Message)
			if err != nil {
				p.setDialogErr(err)
				accept = false
			} else {
				accept = answer
			}
		}
	case page.DialogTypePrompt:
		if p.hooks.Prompt == nil {
			accept = false
		} else {
			answer, err := p.hooks.Prompt(ev.Message, ev.DefaultPrompt)
			if err != nil {
				p.setDialogErr(err)
				accept = false
			} else {
				text = answer
			}
		}
	case page.DialogTypeBeforeunload:
		// Always leave the page.
	}

	action := page.HandleJavaScriptDialog(accept)
	if text != "" {
		action = action.WithPromptText(text)
	}
	if err := action.Do(p.execCtx()); err != nil {
		p.logger.Warn("Failed to answer dialog.", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (p *Page) handleConsole(ev *runtime.EventConsoleAPICalled) {
	var parts []string
	for _, arg := range ev.Args {
		if len(arg.Value) > 0 {
			parts = append(parts, string(arg.Value))
		} else if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	message := strings.Join(parts, " ")
	var source string
	var line int
	if ev.StackTrace != nil && len(ev.StackTrace.CallFrames) > 0 {
		frame := ev.StackTrace.CallFrames[0]
		source = frame.URL
		line = int(frame.LineNumber)
	}
	p.enqueue(func() error {
		if p.hooks.ConsoleMessage != nil {
			p.hooks.ConsoleMessage(message, source, line)
		}
		return nil
	})
}

// Load starts a navigation. Only GET navigations are supported by the
// protocol's Page.navigate; other methods are rejected up front.
func (p *Page) Load(rawURL string, opts engine.LoadOptions) error {
	if opts.Method != "" && opts.Method != "GET" {
		return fmt.Errorf("the browser engine only navigates with GET, got %s", opts.Method)
	}
	if err := p.start(); err != nil {
		return err
	}
	if len(opts.Headers) > 0 {
		headers := make(network.Headers, len(opts.Headers))
		for name, value := range opts.Headers {
			headers[name] = value
		}
		if err := p.run(network.SetExtraHTTPHeaders(headers)); err != nil {
			return fmt.Errorf("failed to apply extra headers: %w", err)
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.opts.OpTimeout)
		defer cancel()
		if err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
			_, _, errText, _, err := page.Navigate(rawURL).Do(c)
			if err != nil {
				return err
			}
			if errText != "" {
				return fmt.Errorf("navigation failed: %s", errText)
			}
			return nil
		})); err != nil {
			p.logger.Debug("Navigation error.", zap.String("url", rawURL), zap.Error(err))
			p.enqueue(func() error {
				if p.hooks.LoadFinished != nil {
					p.hooks.LoadFinished(false)
				}
				return nil
			})
		}
	}()
	return nil
}

func (p *Page) SetHooks(hooks engine.Hooks) {
	p.hooks = hooks
}

// PumpEvents delivers queued protocol events on the caller goroutine.
func (p *Page) PumpEvents() error {
	if err := p.takeDialogErr(); err != nil {
		return err
	}
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := fn(); err != nil {
			return err
		}
	}
}

func (p *Page) Close() error {
	if !p.started {
		return nil
	}
	p.teardown()
	return nil
}

func rawHeaders(headers network.Headers) []engine.RawHeader {
	raw := make([]engine.RawHeader, 0, len(headers))
	for name, value := range headers {
		raw = append(raw, engine.RawHeader{
			Name:  []byte(name),
			Value: []byte(fmt.Sprint(value)),
		})
	}
	return raw
}

type reply struct {
	url     string
	status  int
	headers []engine.RawHeader
	content []byte
}

func (r *reply) URL() string { return r.url }

func (r *reply) HTTPStatus() (int, bool) { return r.status, r.status != 0 }

func (r *reply) RawHeaders() []engine.RawHeader { return r.headers }

func (r *reply) Content() []byte { return r.content }
