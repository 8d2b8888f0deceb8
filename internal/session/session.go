// internal/session/session.go

// Package session is the synchronization and session-orchestration core: it
// turns the asynchronous callbacks of a browser engine (page loads, finished
// network replies, javascript dialogs, authentication challenges) into
// deterministic, timeout-bounded, synchronous operations. Rendering, script
// execution and raw network I/O belong to the engine.Page collaborator.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/cookies"
	"github.com/xkilldash9x/specter/internal/engine"
)

const (
	// DefaultWaitTimeout bounds every wait unless the session or the call
	// overrides it. The default is deliberately non-zero and documented: a
	// zero timeout never means "poll forever".
	DefaultWaitTimeout = 10 * time.Second

	// DefaultPollInterval is the sleep between condition evaluations.
	DefaultPollInterval = 100 * time.Millisecond

	// pumpInterval is how often the event queue is pumped inside a sleep.
	pumpInterval = 10 * time.Millisecond
)

// DefaultUserAgent is presented to servers unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_5)" +
	" AppleWebKit/537.36 (KHTML, like Gecko)" +
	" Specter/1.0 Safari/537.36"

// Credentials is a pending basic-auth (username, password) pair.
type Credentials struct {
	Username string
	Password string
}

// Session owns exactly one engine page handle and the per-session state that
// accompanies every operation: the navigation-in-flight flag, the resource
// buffer, the popup transcript, pending dialog answers, the staged upload
// path and pending credentials.
//
// A session is single-threaded by contract: no operation runs in parallel
// with another on the same session, so correctness hinges on strict ordering
// rather than locks.
type Session struct {
	id     string
	logger *zap.Logger
	page   engine.Page

	waitTimeout     time.Duration
	pollInterval    time.Duration
	waitCallback    func()
	ignoreSSLErrors bool

	loaded    bool
	resources []*Resource

	popupMessages   []string
	alert           *string
	confirmExpected ConfirmAnswer
	promptExpected  PromptAnswer

	uploadFile   string
	auth         *Credentials
	authAttempts int

	closed bool
}

// Option configures a new session.
type Option func(*Session)

// WithTimeout sets the default wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.waitTimeout = d }
}

// WithPollInterval sets the wait poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

// WithWaitCallback registers a callback invoked once per wait iteration, a
// hook for progress reporting or cooperative cancellation.
func WithWaitCallback(fn func()) Option {
	return func(s *Session) { s.waitCallback = fn }
}

// WithLogger sets the parent logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// SurfaceSSLErrors makes certificate errors surface as logged warnings
// instead of being ignored, which is the default policy.
func SurfaceSSLErrors() Option {
	return func(s *Session) { s.ignoreSSLErrors = false }
}

// New wires a session onto an engine page. The page's hooks are replaced.
func New(page engine.Page, opts ...Option) *Session {
	s := &Session{
		id:              uuid.New().String(),
		logger:          zap.NewNop(),
		page:            page,
		waitTimeout:     DefaultWaitTimeout,
		pollInterval:    DefaultPollInterval,
		ignoreSSLErrors: true,
		loaded:          true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session").With(zap.String("session_id", s.id))
	s.logger.Info("Starting new session")

	page.SetUserAgent(DefaultUserAgent)
	page.SetHooks(engine.Hooks{
		LoadStarted:        s.onLoadStarted,
		LoadFinished:       s.onLoadFinished,
		ReplyFinished:      s.replyFinished,
		UnsupportedContent: s.unsupportedContent,
		SSLErrors:          s.onSSLErrors,
		AuthRequired:       s.answerChallenge,
		ProxyAuthRequired:  s.answerChallenge,
		Alert:              s.onAlert,
		Confirm:            s.onConfirm,
		Prompt:             s.onPrompt,
		ChooseFile:         s.chooseFile,
		ConsoleMessage:     s.onConsoleMessage,
	})
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Page exposes the underlying engine handle.
func (s *Session) Page() engine.Page {
	return s.page
}

// Close tears the session down and releases the engine page. It is
// idempotent and safe to call multiple times.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("Closing session")
	return s.page.Close()
}

// -- Expect-loading convention --

// LoadExpectation requests that an operation block until the navigation it
// triggers settles. A zero Timeout selects the session default.
type LoadExpectation struct {
	Timeout time.Duration
}

// expectLoading composes "run action" with "optionally wait": the loaded
// flag goes false before the action is invoked, then the wait primitive
// blocks on it, returning the drained resource buffer and the matching page
// resource. With a nil expectation the action runs and returns immediately.
func (s *Session) expectLoading(expect *LoadExpectation, action func() error) (*Resource, []*Resource, error) {
	if expect == nil {
		return nil, nil, action()
	}
	s.loaded = false
	if err := action(); err != nil {
		return nil, nil, err
	}
	return s.WaitForPageLoaded(expect.Timeout)
}

// -- Navigation --

// OpenOptions parameterizes Open. The zero value requests a plain GET that
// waits for the page to load with the session's default timeout.
type OpenOptions struct {
	Method  string
	Headers map[string]string
	Body    []byte
	// Auth is a basic-auth pair; only the first challenge per Open is
	// answered, preventing re-authentication loops when the engine
	// repeatedly challenges.
	Auth      *Credentials
	UserAgent string
	// DefaultPopupResponse pre-registers an answer for any confirm/prompt
	// raised during the load, replacing the need for scoped expectations.
	DefaultPopupResponse *string
	// NoWait starts the load and returns immediately; the caller then waits
	// by other means, e.g. WaitForPageLoaded.
	NoWait  bool
	Timeout time.Duration
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodDelete: true, http.MethodPatch: true,
	http.MethodOptions: true,
}

// Open navigates to address. Unless NoWait is set it blocks until the load
// settles and returns the page's own resource plus every resource captured
// during the load.
func (s *Session) Open(address string, opts *OpenOptions) (*Resource, []*Resource, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}
	s.logger.Info("Opening", zap.String("url", address))

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !validMethods[method] {
		return nil, nil, &ConfigurationError{Reason: fmt.Sprintf("invalid http method %q", opts.Method)}
	}

	if opts.UserAgent != "" {
		s.page.SetUserAgent(opts.UserAgent)
	}

	s.auth = opts.Auth
	s.authAttempts = 0

	if err := s.page.Load(address, engine.LoadOptions{
		Method:  method,
		Headers: opts.Headers,
		Body:    opts.Body,
	}); err != nil {
		return nil, nil, fmt.Errorf("loading %q: %w", address, err)
	}
	s.loaded = false

	if opts.DefaultPopupResponse != nil {
		response := *opts.DefaultPopupResponse
		s.confirmExpected = StaticConfirm(response != "")
		s.promptExpected = StaticPrompt(response)
	}

	if opts.NoWait {
		return nil, nil, nil
	}
	return s.WaitForPageLoaded(opts.Timeout)
}

// -- DOM operations --

// Exists reports whether an element matches the selector.
func (s *Session) Exists(selector string) bool {
	return s.page.Exists(selector)
}

// Content returns the current frame serialized as HTML.
func (s *Session) Content() (string, error) {
	return s.page.Content()
}

// Frame descends into a child frame by name (string) or position (int); a
// nil selector resets to the top-level frame.
func (s *Session) Frame(selector any) error {
	switch selector.(type) {
	case nil, string, int:
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unsupported frame selector type %T", selector)}
	}
	if err := s.page.Frame(selector); err != nil {
		return &ElementNotFoundError{Selector: fmt.Sprint(selector), Context: "child frame"}
	}
	return nil
}

// ScrollToAnchor scrolls the current frame to the named anchor.
func (s *Session) ScrollToAnchor(anchor string) {
	s.page.ScrollToAnchor(anchor)
}

// Click synthesizes a click on the targeted element.
func (s *Session) Click(selector string, expect *LoadExpectation) (*Resource, []*Resource, error) {
	return s.expectLoading(expect, func() error {
		element := s.page.Element(selector)
		if element == nil {
			return &ElementNotFoundError{Selector: selector, Context: "element to click"}
		}
		return element.DispatchEvent("click")
	})
}

// Fire synthesizes an arbitrary DOM event on the targeted element.
func (s *Session) Fire(selector, event string, expect *LoadExpectation) (*Resource, []*Resource, error) {
	return s.expectLoading(expect, func() error {
		s.logger.Debug("Firing event", zap.String("event", event), zap.String("selector", selector))
		element := s.page.Element(selector)
		if element == nil {
			return &ElementNotFoundError{Selector: selector}
		}
		return element.DispatchEvent(event)
	})
}

// CallMethod invokes a zero-argument DOM method on the targeted element.
func (s *Session) CallMethod(selector, method string, expect *LoadExpectation) (*Resource, []*Resource, error) {
	return s.expectLoading(expect, func() error {
		s.logger.Debug("Calling method", zap.String("method", method), zap.String("selector", selector))
		element := s.page.Element(selector)
		if element == nil {
			return &ElementNotFoundError{Selector: selector}
		}
		return element.CallMethod(method)
	})
}

// Fill iterates a field-name to value mapping through the field setter,
// addressing each control as `selector [name=...]`. Fields are processed in
// sorted name order so runs are deterministic.
func (s *Session) Fill(selector string, values map[string]any, expect *LoadExpectation) (*Resource, []*Resource, error) {
	return s.expectLoading(expect, func() error {
		if !s.page.Exists(selector) {
			return &ElementNotFoundError{Selector: selector, Context: "form"}
		}
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fieldSelector := fmt.Sprintf("%s [name=%q]", selector, name)
			if err := s.setFieldValue(fieldSelector, values[name]); err != nil {
				return err
			}
		}
		return nil
	})
}

// -- Script evaluation --

// Evaluate runs script in the current frame context. The drained resource
// buffer is always returned alongside the result: every scripted evaluation
// implicitly reconciles outstanding resources.
func (s *Session) Evaluate(script string) (json.RawMessage, []*Resource, error) {
	result, err := s.page.Evaluate(script)
	if err != nil {
		return nil, nil, err
	}
	return result, s.releaseResources(), nil
}

// EvaluateFile evaluates the javascript file at path in the current frame.
func (s *Session) EvaluateFile(path string) (json.RawMessage, []*Resource, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading script file: %w", err)
	}
	return s.Evaluate(string(script))
}

// GlobalExists reports whether a global javascript name is defined.
func (s *Session) GlobalExists(name string) (bool, error) {
	encoded, err := json.Marshal(name)
	if err != nil {
		return false, err
	}
	result, _, err := s.Evaluate(fmt.Sprintf(`!(typeof window[%s] === "undefined");`, encoded))
	if err != nil {
		return false, err
	}
	var exists bool
	if err := json.Unmarshal(result, &exists); err != nil {
		return false, fmt.Errorf("unexpected evaluation result %q: %w", result, err)
	}
	return exists, nil
}

// -- Engine configuration --

// SetViewportSize resizes the page viewport.
func (s *Session) SetViewportSize(width, height int) error {
	s.page.SetViewport(width, height)
	return s.Sleep(s.pollInterval)
}

// SetProxy configures the proxy for further connections. Supported types:
// none, default, http, https, socks5.
func (s *Session) SetProxy(proxyType string, host string, port int, user, password string) error {
	var t engine.ProxyType
	switch strings.ToLower(proxyType) {
	case "", "none":
		t = engine.ProxyNone
	case "default":
		t = engine.ProxyDefault
	case "http":
		t = engine.ProxyHTTP
	case "https":
		t = engine.ProxyHTTPS
	case "socks5":
		t = engine.ProxySOCKS5
	default:
		return &ConfigurationError{Reason: fmt.Sprintf(
			"unsupported proxy type %q; supported types are: none/default/http/https/socks5", proxyType)}
	}
	if t == engine.ProxyNone || t == engine.ProxyDefault {
		return s.page.SetProxy(engine.ProxyConfig{Type: t})
	}
	return s.page.SetProxy(engine.ProxyConfig{
		Type: t, Host: host, Port: port, User: user, Password: password,
	})
}

// SetExcludePattern redirects requests matching the regular expression to an
// inert no-op fetch instead of the network.
func (s *Session) SetExcludePattern(pattern string) error {
	return s.page.SetExcludePattern(pattern)
}

// -- Cookies --

// Cookies returns the engine jar's current cookie set as portable records.
func (s *Session) Cookies() []cookies.Record {
	return cookies.Export(s.page.Cookies())
}

// DeleteCookies clears the engine jar.
func (s *Session) DeleteCookies() {
	s.page.SetCookies(nil)
}

// LoadCookies installs cookies from storage, which is either a path to a
// portable cookie-jar file or an in-memory []cookies.Record. With keepOld
// the loaded cookies are appended to the existing jar; otherwise they
// replace it.
func (s *Session) LoadCookies(storage any, keepOld bool) error {
	records, err := cookies.Load(storage)
	if err != nil {
		if errors.Is(err, cookies.ErrUnsupportedStorage) {
			return &ConfigurationError{Reason: err.Error()}
		}
		return err
	}
	jar := cookies.Import(records)
	if keepOld {
		jar = append(s.page.Cookies(), jar...)
	}
	s.page.SetCookies(jar)
	return nil
}

// SaveCookies writes the engine jar's cookies to storage, which is either a
// file path or a *[]cookies.Record.
func (s *Session) SaveCookies(storage any) error {
	err := cookies.Save(storage, cookies.Export(s.page.Cookies()))
	if err != nil && errors.Is(err, cookies.ErrUnsupportedStorage) {
		return &ConfigurationError{Reason: err.Error()}
	}
	return err
}

// -- Engine signal handlers --

func (s *Session) onLoadStarted() {
	s.loaded = false
}

func (s *Session) onLoadFinished(ok bool) {
	s.loaded = true
	if !ok {
		s.logger.Warn("Page load finished with errors")
	}
}

// answerChallenge answers basic and proxy auth challenges. Only the first
// challenge per Open is answered; the one-shot counter stops the engine from
// pulling the session into an infinite re-authentication loop.
func (s *Session) answerChallenge(challenge engine.AuthChallenge) {
	if s.auth == nil || s.authAttempts > 0 {
		return
	}
	s.logger.Debug("Answering authentication challenge", zap.String("url", challenge.URL()))
	challenge.Authenticate(s.auth.Username, s.auth.Password)
	s.authAttempts++
}

func (s *Session) onSSLErrors(reply engine.Reply, errs []error) {
	if s.ignoreSSLErrors {
		return
	}
	for _, err := range errs {
		s.logger.Warn("SSL certificate error", zap.String("url", reply.URL()), zap.Error(err))
	}
}

func (s *Session) chooseFile() string {
	s.logger.Debug("Choosing file", zap.String("path", s.uploadFile))
	return s.uploadFile
}

func (s *Session) onConsoleMessage(message, source string, line int) {
	if source == "" {
		source = "<unknown>"
	}
	field := []zap.Field{zap.String("source", source), zap.Int("line", line)}
	if strings.Contains(message, "Error") {
		s.logger.Warn(message, field...)
	} else {
		s.logger.Info(message, field...)
	}
}
