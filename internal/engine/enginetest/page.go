// internal/engine/enginetest/page.go

// Package enginetest provides an in-memory engine.Page backed by an
// x/net/html document and goquery selectors. It is the fixture the session
// core is exercised against: navigations are scripted with canned responses,
// and every engine event goes through the same queued, cooperatively pumped
// delivery path a real engine uses.
//
// A Page is single-goroutine like the session that drives it; it is not safe
// for concurrent use.
package enginetest

import (
	"encoding/json"
	"fmt"
	"image"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/specter/internal/engine"
)

// Response scripts the outcome of loading a URL.
type Response struct {
	Status      int
	Body        string
	ContentType string
	// Headers overrides the default Content-Type header set.
	Headers []engine.RawHeader
	// Delay postpones reply and load-finished delivery; the load settles
	// only once the delay has elapsed and events are pumped.
	Delay time.Duration
	// Unsupported marks the reply as non-renderable: it is delivered through
	// the unsupported-content signal instead of reply-finished.
	Unsupported bool
	// FinalURL overrides the frame URL after the load (redirect emulation).
	FinalURL string
	// AuthChallenges is the number of auth challenges raised before the
	// reply is produced.
	AuthChallenges int
	// Subresources are additional exchanges completed during the load.
	Subresources []Subresource
}

// Subresource is a secondary exchange completed while a page loads.
type Subresource struct {
	URL     string
	Status  int
	Body    string
	Headers []engine.RawHeader
}

// LoadRecord is one observed navigation request.
type LoadRecord struct {
	URL  string
	Opts engine.LoadOptions
}

// FiredEvent is one synthesized DOM event.
type FiredEvent struct {
	Target *html.Node
	Name   string
}

// MethodCall is one invoked DOM method.
type MethodCall struct {
	Target *html.Node
	Method string
}

// AuthAnswer records credentials supplied to a challenge.
type AuthAnswer struct {
	URL      string
	Username string
	Password string
}

// PDFRecord is one print-to-PDF invocation.
type PDFRecord struct {
	Path string
	Opts engine.PDFOptions
}

type delayedEvent struct {
	due time.Time
	fn  func() error
}

// Page is the scripted in-memory engine.
type Page struct {
	hooks engine.Hooks

	queue   []func() error
	delayed []delayedEvent

	doc      *goquery.Document
	frameURL string

	viewportW, viewportH int
	contentW, contentH   int
	contentSizeSet       bool

	cookies   []engine.Cookie
	userAgent string
	proxy     *engine.ProxyConfig
	exclude   *regexp.Regexp
	responses map[string]Response

	// Observations for assertions.
	Loads       []LoadRecord
	Events      []FiredEvent
	Calls       []MethodCall
	AuthAnswers []AuthAnswer
	ChosenFiles []string
	Anchors     []string
	PDFs        []PDFRecord
	Renders     []image.Rectangle
	Evaluated   []string

	// EvalHandler, when set, answers Evaluate calls that are not dialog
	// triggers.
	EvalHandler func(script string) (json.RawMessage, error)

	focused *html.Node
	closed  bool
}

// New returns an empty page with a blank document.
func New() *Page {
	p := &Page{
		viewportW: 1600,
		viewportH: 900,
		responses: make(map[string]Response),
	}
	p.setDocument("<html><head></head><body></body></html>")
	return p
}

var _ engine.Page = (*Page)(nil)

// Handle scripts the response for a URL.
func (p *Page) Handle(rawURL string, resp Response) {
	if resp.Status == 0 {
		resp.Status = 200
	}
	if resp.ContentType == "" {
		resp.ContentType = "text/html"
	}
	p.responses[rawURL] = resp
}

// SetDocument replaces the current frame content directly, bypassing
// navigation.
func (p *Page) SetDocument(htmlSrc string) {
	p.setDocument(htmlSrc)
}

// SetContentSize scripts the frame content dimensions reported to captures.
func (p *Page) SetContentSize(w, h int) {
	p.contentW, p.contentH = w, h
	p.contentSizeSet = true
}

// Closed reports whether Close has been called.
func (p *Page) Closed() bool {
	return p.closed
}

// Focused returns the node that last received focus.
func (p *Page) Focused() *html.Node {
	return p.focused
}

// EventCount counts synthesized events with the given name whose target
// matches selector.
func (p *Page) EventCount(selector, name string) int {
	targets := map[*html.Node]bool{}
	p.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		targets[sel.Nodes[0]] = true
	})
	count := 0
	for _, ev := range p.Events {
		if ev.Name == name && targets[ev.Target] {
			count++
		}
	}
	return count
}

// Enqueue appends a raw event to the delivery queue.
func (p *Page) Enqueue(fn func() error) {
	p.queue = append(p.queue, fn)
}

// EnqueueAfter schedules an event for delivery once d has elapsed.
func (p *Page) EnqueueAfter(d time.Duration, fn func() error) {
	p.delayed = append(p.delayed, delayedEvent{due: time.Now().Add(d), fn: fn})
}

// EmitAlert queues an alert signal.
func (p *Page) EmitAlert(message string) {
	p.Enqueue(func() error {
		if p.hooks.Alert != nil {
			p.hooks.Alert(message)
		}
		return nil
	})
}

// EmitSSLErrors queues a certificate failure signal for the given URL.
func (p *Page) EmitSSLErrors(rawURL string, errs ...error) {
	p.Enqueue(func() error {
		if p.hooks.SSLErrors != nil {
			p.hooks.SSLErrors(&reply{url: rawURL}, errs)
		}
		return nil
	})
}

// -- engine.Page implementation --

func (p *Page) Load(rawURL string, opts engine.LoadOptions) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	p.Loads = append(p.Loads, LoadRecord{URL: rawURL, Opts: opts})

	p.Enqueue(func() error {
		if p.hooks.LoadStarted != nil {
			p.hooks.LoadStarted()
		}
		return nil
	})

	if p.exclude != nil && p.exclude.MatchString(rawURL) {
		// Matching requests go to an inert no-op fetch: the load settles
		// with an empty document and no captured exchange.
		p.Enqueue(func() error {
			p.setDocument("<html><head></head><body></body></html>")
			p.frameURL = rawURL
			if p.hooks.LoadFinished != nil {
				p.hooks.LoadFinished(true)
			}
			return nil
		})
		return nil
	}

	resp, ok := p.responses[rawURL]
	if !ok {
		p.Enqueue(func() error {
			if p.hooks.LoadFinished != nil {
				p.hooks.LoadFinished(false)
			}
			return nil
		})
		return nil
	}

	for i := 0; i < resp.AuthChallenges; i++ {
		p.Enqueue(func() error {
			if p.hooks.AuthRequired != nil {
				p.hooks.AuthRequired(&challenge{page: p, url: rawURL})
			}
			return nil
		})
	}

	deliver := func() error {
		finalURL := rawURL
		if resp.FinalURL != "" {
			finalURL = resp.FinalURL
		}
		mainReply := &reply{
			url:     finalURL,
			status:  resp.Status,
			hasHTTP: true,
			headers: replyHeaders(resp),
			content: []byte(resp.Body),
		}
		if resp.Unsupported {
			if p.hooks.UnsupportedContent != nil {
				p.hooks.UnsupportedContent(mainReply)
			}
		} else {
			if p.hooks.ReplyFinished != nil {
				p.hooks.ReplyFinished(mainReply)
			}
		}
		for _, sub := range resp.Subresources {
			if p.exclude != nil && p.exclude.MatchString(sub.URL) {
				continue
			}
			if p.hooks.ReplyFinished != nil {
				p.hooks.ReplyFinished(&reply{
					url:     sub.URL,
					status:  sub.Status,
					hasHTTP: sub.Status != 0,
					headers: sub.Headers,
					content: []byte(sub.Body),
				})
			}
		}
		if !resp.Unsupported && strings.Contains(resp.ContentType, "html") {
			p.setDocument(resp.Body)
		}
		p.frameURL = finalURL
		if p.hooks.LoadFinished != nil {
			p.hooks.LoadFinished(true)
		}
		return nil
	}

	if resp.Delay > 0 {
		p.EnqueueAfter(resp.Delay, deliver)
	} else {
		p.Enqueue(deliver)
	}
	return nil
}

var (
	alertScript   = regexp.MustCompile(`alert\((['"])(.*?)['"]\)`)
	confirmScript = regexp.MustCompile(`confirm\((['"])(.*?)['"]\)`)
	promptScript  = regexp.MustCompile(`prompt\((['"])(.*?)['"]\)`)
)

// Evaluate interprets the handful of script shapes the core relies on:
// dialog triggers run the corresponding synchronous hook, everything else is
// answered by EvalHandler or null.
func (p *Page) Evaluate(script string) (json.RawMessage, error) {
	p.Evaluated = append(p.Evaluated, script)

	if m := alertScript.FindStringSubmatch(script); m != nil {
		if p.hooks.Alert != nil {
			p.hooks.Alert(m[2])
		}
		return json.RawMessage("null"), nil
	}
	if m := confirmScript.FindStringSubmatch(script); m != nil {
		if p.hooks.Confirm == nil {
			return nil, fmt.Errorf("no confirm hook registered")
		}
		answer, err := p.hooks.Confirm(m[2])
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer)
	}
	if m := promptScript.FindStringSubmatch(script); m != nil {
		if p.hooks.Prompt == nil {
			return nil, fmt.Errorf("no prompt hook registered")
		}
		answer, err := p.hooks.Prompt(m[2], "")
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer)
	}
	if p.EvalHandler != nil {
		return p.EvalHandler(script)
	}
	return json.RawMessage("null"), nil
}

func (p *Page) Exists(selector string) bool {
	return p.doc.Find(selector).Length() > 0
}

func (p *Page) Element(selector string) engine.Element {
	sel := p.doc.Find(selector)
	if sel.Length() == 0 {
		return nil
	}
	return &element{page: p, node: sel.Nodes[0]}
}

func (p *Page) Elements(selector string) []engine.Element {
	var elements []engine.Element
	p.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		elements = append(elements, &element{page: p, node: sel.Nodes[0]})
	})
	return elements
}

func (p *Page) FrameURL() string {
	return p.frameURL
}

func (p *Page) Frame(selector any) error {
	// The fixture models a single top-level frame; nil resets are accepted,
	// anything else is an unknown child.
	if selector == nil {
		return nil
	}
	return fmt.Errorf("child frame %v not found", selector)
}

func (p *Page) Content() (string, error) {
	return p.doc.Html()
}

func (p *Page) ScrollToAnchor(anchor string) {
	p.Anchors = append(p.Anchors, anchor)
}

func (p *Page) SetViewport(w, h int) {
	p.viewportW, p.viewportH = w, h
}

func (p *Page) ViewportSize() (int, int) {
	return p.viewportW, p.viewportH
}

func (p *Page) ContentSize() (int, int) {
	if p.contentSizeSet {
		return p.contentW, p.contentH
	}
	return p.viewportW, p.viewportH
}

func (p *Page) Render(region *image.Rectangle) (image.Image, error) {
	bounds := image.Rect(0, 0, p.viewportW, p.viewportH)
	if region != nil {
		bounds = *region
	}
	p.Renders = append(p.Renders, bounds)
	return image.NewRGBA(bounds), nil
}

func (p *Page) PrintToPDF(path string, opts engine.PDFOptions) error {
	p.PDFs = append(p.PDFs, PDFRecord{Path: path, Opts: opts})
	return os.WriteFile(path, []byte("%PDF-1.4\n%enginetest\n"), 0o600)
}

func (p *Page) Cookies() []engine.Cookie {
	jar := make([]engine.Cookie, len(p.cookies))
	copy(jar, p.cookies)
	return jar
}

func (p *Page) SetCookies(cookies []engine.Cookie) {
	p.cookies = make([]engine.Cookie, len(cookies))
	copy(p.cookies, cookies)
}

func (p *Page) SetUserAgent(ua string) {
	p.userAgent = ua
}

// UserAgent returns the presented User-Agent string.
func (p *Page) UserAgent() string {
	return p.userAgent
}

func (p *Page) SetProxy(cfg engine.ProxyConfig) error {
	p.proxy = &cfg
	return nil
}

// Proxy returns the last applied proxy configuration.
func (p *Page) Proxy() *engine.ProxyConfig {
	return p.proxy
}

func (p *Page) SetExcludePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid exclude pattern: %w", err)
	}
	p.exclude = re
	return nil
}

func (p *Page) SetHooks(hooks engine.Hooks) {
	p.hooks = hooks
}

func (p *Page) PumpEvents() error {
	now := time.Now()
	remaining := p.delayed[:0]
	for _, ev := range p.delayed {
		if !ev.due.After(now) {
			p.queue = append(p.queue, ev.fn)
		} else {
			remaining = append(remaining, ev)
		}
	}
	p.delayed = remaining

	for len(p.queue) > 0 {
		fn := p.queue[0]
		p.queue = p.queue[1:]
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) Close() error {
	p.closed = true
	return nil
}

// -- internals --

func (p *Page) setDocument(src string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		// html.Parse is lenient; only a reader error gets here.
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
	}
	p.doc = doc
}

func (p *Page) resolveURL(href string) string {
	base, err := url.Parse(p.frameURL)
	if err != nil || p.frameURL == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func replyHeaders(resp Response) []engine.RawHeader {
	if resp.Headers != nil {
		return resp.Headers
	}
	return []engine.RawHeader{{Name: []byte("Content-Type"), Value: []byte(resp.ContentType)}}
}

type reply struct {
	url     string
	status  int
	hasHTTP bool
	headers []engine.RawHeader
	content []byte
}

func (r *reply) URL() string { return r.url }

func (r *reply) HTTPStatus() (int, bool) { return r.status, r.hasHTTP }

func (r *reply) RawHeaders() []engine.RawHeader { return r.headers }

func (r *reply) Content() []byte { return r.content }

type challenge struct {
	page *Page
	url  string
}

func (c *challenge) URL() string { return c.url }

func (c *challenge) Authenticate(username, password string) {
	c.page.AuthAnswers = append(c.page.AuthAnswers, AuthAnswer{URL: c.url, Username: username, Password: password})
}
