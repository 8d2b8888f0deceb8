// internal/engine/engine.go
package engine

import (
	"encoding/json"
	"image"
	"time"
)

// Page is the contract the session core consumes. Implementations wrap a real
// rendering engine (see the cdp package) or an in-memory document model (see
// enginetest). The core never talks to a network or a DOM directly; it drives
// a Page and observes the signals delivered through Hooks.
//
// Event delivery is cooperative: implementations may receive engine events on
// background goroutines, but they must queue them and invoke the registered
// Hooks only from inside PumpEvents, on the calling goroutine, in completion
// order. This keeps the session single-threaded and makes ordering
// deterministic without locks in the core.
type Page interface {
	// Load initiates a navigation and returns without waiting for it to
	// finish. Completion is signalled through Hooks.LoadFinished.
	Load(url string, opts LoadOptions) error

	// Evaluate runs a script in the current frame context and returns the
	// JSON-encoded result.
	Evaluate(script string) (json.RawMessage, error)

	// Exists reports whether the selector matches at least one element.
	Exists(selector string) bool
	// Element returns a handle for the first element matching selector, or
	// nil when nothing matches.
	Element(selector string) Element
	// Elements returns handles for every element matching selector.
	Elements(selector string) []Element

	// FrameURL returns the current frame's resolved URL.
	FrameURL() string
	// Frame descends into a child frame by name or index; a nil selector
	// resets to the top-level frame.
	Frame(selector any) error
	// Content returns the current frame serialized as HTML.
	Content() (string, error)
	// ScrollToAnchor scrolls the current frame to the named anchor.
	ScrollToAnchor(anchor string)

	SetViewport(width, height int)
	ViewportSize() (width, height int)
	ContentSize() (width, height int)

	// Render rasterizes the current frame, or only region when non-nil.
	Render(region *image.Rectangle) (image.Image, error)
	// PrintToPDF paginates the current frame into a PDF at path.
	PrintToPDF(path string, opts PDFOptions) error

	Cookies() []Cookie
	SetCookies(cookies []Cookie)

	SetUserAgent(ua string)
	SetProxy(cfg ProxyConfig) error
	// SetExcludePattern installs request interception: requests whose URL
	// matches the regular expression are redirected to an inert no-op fetch.
	SetExcludePattern(pattern string) error

	// SetHooks registers the signal callbacks. Must be called before Load.
	SetHooks(hooks Hooks)
	// PumpEvents delivers all queued engine events to the registered hooks.
	// The first error returned by a hook aborts the pump and is returned.
	PumpEvents() error

	Close() error
}

// Element is a live handle onto a DOM node.
type Element interface {
	TagName() string
	Attribute(name string) string
	SetAttribute(name, value string)
	RemoveAttribute(name string)
	// SetText replaces the element's plain-text content (textarea values).
	SetText(text string)
	Focus()
	// DispatchEvent synthesizes a DOM event (click, input, change, ...) on
	// the element, with bubbling enabled.
	DispatchEvent(event string) error
	// CallMethod invokes a zero-argument DOM method (blur, focus, submit).
	CallMethod(name string) error
	// Evaluate runs script with `this` bound to the element.
	Evaluate(script string) (json.RawMessage, error)
	// FindAll returns handles for the element's descendants matching
	// selector.
	FindAll(selector string) []Element
	// Geometry returns the element's bounding box in frame coordinates.
	Geometry() (image.Rectangle, error)
}

// Reply is one completed network exchange as seen by the engine.
type Reply interface {
	URL() string
	// HTTPStatus returns the response status code; ok is false for replies
	// that failed at the transport level or were not HTTP at all.
	HTTPStatus() (status int, ok bool)
	// RawHeaders returns the response headers with undecoded byte values.
	RawHeaders() []RawHeader
	Content() []byte
}

// RawHeader is a header pair before any text decoding. Values are kept as raw
// bytes so the collector can decide what to do with undecodable ones.
type RawHeader struct {
	Name  []byte
	Value []byte
}

// AuthChallenge is raised when a server or proxy requests credentials.
type AuthChallenge interface {
	URL() string
	// Authenticate answers the challenge with the given credentials.
	Authenticate(username, password string)
}

// Hooks carries the callbacks a Page delivers events to. Unset fields are
// skipped.
//
// The signal hooks (LoadStarted through ProxyAuthRequired, ConsoleMessage)
// are delivered from PumpEvents only. The dialog hooks (Alert, Confirm,
// Prompt) and ChooseFile are request/response callbacks: the engine invokes
// them synchronously wherever it needs an answer, which may be inside
// Evaluate or inside PumpEvents. Confirm and Prompt may return an error to
// signal that no answer was registered; the engine aborts the dialog and
// surfaces the error through the call that triggered it.
type Hooks struct {
	LoadStarted        func()
	LoadFinished       func(ok bool)
	ReplyFinished      func(reply Reply)
	UnsupportedContent func(reply Reply)
	SSLErrors          func(reply Reply, errs []error)
	AuthRequired       func(challenge AuthChallenge)
	ProxyAuthRequired  func(challenge AuthChallenge)

	Alert   func(message string)
	Confirm func(message string) (bool, error)
	Prompt  func(message, defaultValue string) (string, error)

	// ChooseFile backs the engine's native file picker; it returns the path
	// staged by the session for input[type=file] assignment.
	ChooseFile func() string

	ConsoleMessage func(message, source string, line int)
}

// LoadOptions parameterizes a navigation.
type LoadOptions struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

// PDFOptions parameterizes PrintToPDF. Sizes are in inches.
type PDFOptions struct {
	PaperWidth   float64
	PaperHeight  float64
	MarginTop    float64
	MarginBottom float64
	MarginLeft   float64
	MarginRight  float64
	ZoomFactor   float64
}

// Cookie is the engine-side cookie representation.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	// Expires is the expiry instant; the zero value means a session cookie.
	Expires time.Time
}

// ProxyType identifies a proxy configuration scheme.
type ProxyType string

const (
	ProxyNone    ProxyType = "none"
	ProxyDefault ProxyType = "default"
	ProxyHTTP    ProxyType = "http"
	ProxyHTTPS   ProxyType = "https"
	ProxySOCKS5  ProxyType = "socks5"
)

// ProxyConfig describes the proxy to use for further connections.
type ProxyConfig struct {
	Type     ProxyType
	Host     string
	Port     int
	User     string
	Password string
}
