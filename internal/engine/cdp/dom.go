// internal/engine/cdp/dom.go

package cdp

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/engine"
)

var jsonDecode = jsoniter.ConfigCompatibleWithStandardLibrary

// docExpr is the JS expression for the document of the currently focused
// frame. Child frames are reached through contentDocument, which restricts
// frame descent to same-origin frames.
func (p *Page) docExpr() string {
	expr := "document"
	for _, step := range p.framePath {
		expr += step
	}
	return expr
}

// eval runs an arbitrary script in the focused frame and returns its result
// as raw JSON. The script goes through eval so both expressions and
// statement sequences work; undefined results come back as null.
func (p *Page) eval(script string) (json.RawMessage, error) {
	expr := fmt.Sprintf(
		`(function(){ var __r = (function(){ return eval(%s); }).call(window); return __r === undefined ? null : __r; })()`,
		strconv.Quote(script),
	)
	return p.evalExpr(expr)
}

// evalExpr runs a self-contained JS expression and returns its raw JSON
// value. Dialog hook errors raised while the script ran take precedence
// over the script result.
func (p *Page) evalExpr(expr string) (json.RawMessage, error) {
	var raw []byte
	runErr := p.run(chromedp.Evaluate(expr, &raw))
	if dialogErr := p.takeDialogErr(); dialogErr != nil {
		return nil, dialogErr
	}
	if runErr != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", runErr)
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	return json.RawMessage(raw), nil
}

func (p *Page) evalInto(expr string, out any) error {
	raw, err := p.evalExpr(expr)
	if err != nil {
		return err
	}
	return jsonDecode.Unmarshal(raw, out)
}

func (p *Page) Evaluate(script string) (json.RawMessage, error) {
	return p.eval(script)
}

func (p *Page) Exists(selector string) bool {
	var found bool
	expr := fmt.Sprintf(`%s.querySelectorAll(%s).length > 0`, p.docExpr(), strconv.Quote(selector))
	if err := p.evalInto(expr, &found); err != nil {
		p.logger.Debug("Selector probe failed.", zap.String("selector", selector), zap.Error(err))
		return false
	}
	return found
}

func (p *Page) Element(selector string) engine.Element {
	var count int
	expr := fmt.Sprintf(`%s.querySelectorAll(%s).length`, p.docExpr(), strconv.Quote(selector))
	if err := p.evalInto(expr, &count); err != nil || count == 0 {
		return nil
	}
	return &element{
		page: p,
		expr: fmt.Sprintf(`%s.querySelectorAll(%s)[0]`, p.docExpr(), strconv.Quote(selector)),
	}
}

func (p *Page) Elements(selector string) []engine.Element {
	var count int
	expr := fmt.Sprintf(`%s.querySelectorAll(%s).length`, p.docExpr(), strconv.Quote(selector))
	if err := p.evalInto(expr, &count); err != nil {
		return nil
	}
	elements := make([]engine.Element, 0, count)
	for i := 0; i < count; i++ {
		elements = append(elements, &element{
			page: p,
			expr: fmt.Sprintf(`%s.querySelectorAll(%s)[%d]`, p.docExpr(), strconv.Quote(selector), i),
		})
	}
	return elements
}

func (p *Page) FrameURL() string {
	var href string
	if err := p.evalInto(p.docExpr()+".location.href", &href); err != nil {
		p.mu.Lock()
		href = p.lastURL
		p.mu.Unlock()
	}
	return href
}

// Frame descends into a child frame by CSS selector (string) or by index
// (int) over the frame's iframe and frame elements. nil returns focus to
// the top-level frame.
func (p *Page) Frame(selector any) error {
	switch sel := selector.(type) {
	case nil:
		p.framePath = nil
		return nil
	case string:
		step := fmt.Sprintf(`.querySelector(%s).contentDocument`, strconv.Quote(sel))
		return p.pushFrame(step, sel)
	case int:
		step := fmt.Sprintf(`.querySelectorAll("iframe, frame")[%d].contentDocument`, sel)
		return p.pushFrame(step, fmt.Sprintf("#%d", sel))
	default:
		return fmt.Errorf("unsupported frame selector type %T", selector)
	}
}

func (p *Page) pushFrame(step, label string) error {
	candidate := append(append([]string{}, p.framePath...), step)
	expr := "document"
	for _, s := range candidate {
		expr += s
	}
	var reachable bool
	if err := p.evalInto(fmt.Sprintf(`(function(){ try { return !!(%s); } catch (e) { return false; } })()`, expr), &reachable); err != nil {
		return fmt.Errorf("child frame %s not reachable: %w", label, err)
	}
	if !reachable {
		return fmt.Errorf("child frame %s not found", label)
	}
	p.framePath = candidate
	return nil
}

func (p *Page) Content() (string, error) {
	var content string
	if err := p.evalInto(p.docExpr()+".documentElement.outerHTML", &content); err != nil {
		return "", fmt.Errorf("failed to read frame content: %w", err)
	}
	return content, nil
}

func (p *Page) ScrollToAnchor(anchor string) {
	expr := fmt.Sprintf(
		`(function(){ var doc = %s; var a = %s; doc.location.hash = a; var t = doc.getElementById(a) || doc.getElementsByName(a)[0]; if (t) { t.scrollIntoView(); } return null; })()`,
		p.docExpr(), strconv.Quote(anchor),
	)
	if _, err := p.evalExpr(expr); err != nil {
		p.logger.Debug("Anchor scroll failed.", zap.String("anchor", anchor), zap.Error(err))
	}
}

func (p *Page) SetViewport(w, h int) {
	p.viewportW, p.viewportH = w, h
	if p.started {
		if err := p.applyViewport(w, h); err != nil {
			p.logger.Warn("Failed to apply viewport.", zap.Error(err))
		}
	}
}

func (p *Page) applyViewport(w, h int) error {
	return p.run(emulation.SetDeviceMetricsOverride(int64(w), int64(h), 1, false))
}

func (p *Page) ViewportSize() (int, int) {
	return p.viewportW, p.viewportH
}

func (p *Page) ContentSize() (int, int) {
	var dims [2]int
	expr := fmt.Sprintf(`(function(){ var de = %s.documentElement; return [de.scrollWidth, de.scrollHeight]; })()`, p.docExpr())
	if err := p.evalInto(expr, &dims); err != nil {
		p.logger.Debug("Failed to measure content.", zap.Error(err))
		return p.viewportW, p.viewportH
	}
	return dims[0], dims[1]
}

// element addresses a DOM node through the JS expression that reaches it.
// Handles are cheap and snapshot nothing; every operation re-resolves the
// node, so a handle goes stale only if the document mutates underneath it.
type element struct {
	page *Page
	expr string
}

var _ engine.Element = (*element)(nil)

// eval runs body with el bound to the addressed node; a vanished node
// yields null.
func (e *element) eval(body string) (json.RawMessage, error) {
	expr := fmt.Sprintf(`(function(){ var el = %s; if (!el) { return null; } %s })()`, e.expr, body)
	return e.page.evalExpr(expr)
}

func (e *element) evalInto(body string, out any) error {
	raw, err := e.eval(body)
	if err != nil {
		return err
	}
	return jsonDecode.Unmarshal(raw, out)
}

func (e *element) TagName() string {
	var tag string
	if err := e.evalInto(`return el.tagName;`, &tag); err != nil {
		e.page.logger.Debug("Failed to read tag name.", zap.Error(err))
	}
	return tag
}

func (e *element) Attribute(name string) string {
	var value *string
	body := fmt.Sprintf(`return el.hasAttribute(%s) ? el.getAttribute(%s) : null;`, strconv.Quote(name), strconv.Quote(name))
	if err := e.evalInto(body, &value); err != nil || value == nil {
		return ""
	}
	return *value
}

func (e *element) SetAttribute(name, value string) {
	body := fmt.Sprintf(`el.setAttribute(%s, %s); if (%s === "value" && "value" in el) { el.value = %s; } return null;`,
		strconv.Quote(name), strconv.Quote(value), strconv.Quote(name), strconv.Quote(value))
	if _, err := e.eval(body); err != nil {
		e.page.logger.Debug("Failed to set attribute.", zap.String("name", name), zap.Error(err))
	}
}

func (e *element) RemoveAttribute(name string) {
	body := fmt.Sprintf(`el.removeAttribute(%s); return null;`, strconv.Quote(name))
	if _, err := e.eval(body); err != nil {
		e.page.logger.Debug("Failed to remove attribute.", zap.String("name", name), zap.Error(err))
	}
}

func (e *element) SetText(text string) {
	body := fmt.Sprintf(`if ("value" in el) { el.value = %s; } el.textContent = %s; return null;`,
		strconv.Quote(text), strconv.Quote(text))
	if _, err := e.eval(body); err != nil {
		e.page.logger.Debug("Failed to set text.", zap.Error(err))
	}
}

func (e *element) Focus() {
	if _, err := e.eval(`el.focus(); return null;`); err != nil {
		e.page.logger.Debug("Failed to focus element.", zap.Error(err))
	}
}

func (e *element) DispatchEvent(event string) error {
	body := fmt.Sprintf(`el.dispatchEvent(new Event(%s, { bubbles: true, cancelable: true })); if (%s === "click" && typeof el.click === "function") { el.click(); } return null;`,
		strconv.Quote(event), strconv.Quote(event))
	if _, err := e.eval(body); err != nil {
		return fmt.Errorf("failed to dispatch %s: %w", event, err)
	}
	return nil
}

func (e *element) CallMethod(name string) error {
	body := fmt.Sprintf(`if (typeof el[%s] !== "function") { return false; } el[%s](); return true;`,
		strconv.Quote(name), strconv.Quote(name))
	var ok bool
	if err := e.evalInto(body, &ok); err != nil {
		return fmt.Errorf("failed to call %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("element has no %s method", name)
	}
	return nil
}

func (e *element) Evaluate(script string) (json.RawMessage, error) {
	body := fmt.Sprintf(`var __r = (function(){ return eval(%s); }).call(el); return __r === undefined ? null : __r;`,
		strconv.Quote(script))
	return e.eval(body)
}

func (e *element) FindAll(selector string) []engine.Element {
	var count int
	body := fmt.Sprintf(`return el.querySelectorAll(%s).length;`, strconv.Quote(selector))
	if err := e.evalInto(body, &count); err != nil {
		return nil
	}
	children := make([]engine.Element, 0, count)
	for i := 0; i < count; i++ {
		children = append(children, &element{
			page: e.page,
			expr: fmt.Sprintf(`%s.querySelectorAll(%s)[%d]`, e.expr, strconv.Quote(selector), i),
		})
	}
	return children
}

func (e *element) Geometry() (image.Rectangle, error) {
	var rect [4]float64
	body := `var r = el.getBoundingClientRect(); return [r.left + ` + e.page.docExpr() + `.defaultView.scrollX, r.top + ` + e.page.docExpr() + `.defaultView.scrollY, r.width, r.height];`
	if err := e.evalInto(body, &rect); err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to read element geometry: %w", err)
	}
	x, y := int(rect[0]), int(rect[1])
	return image.Rect(x, y, x+int(rect[2]), y+int(rect[3])), nil
}
