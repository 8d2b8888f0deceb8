// internal/engine/enginetest/element.go

package enginetest

import (
	"encoding/json"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/specter/internal/engine"
)

type element struct {
	page *Page
	node *html.Node
}

var _ engine.Element = (*element)(nil)

func (e *element) selection() *goquery.Selection {
	return e.page.doc.FindNodes(e.node)
}

func (e *element) TagName() string {
	return strings.ToUpper(e.node.Data)
}

func (e *element) Attribute(name string) string {
	value, _ := e.selection().Attr(name)
	return value
}

func (e *element) hasAttribute(name string) bool {
	_, ok := e.selection().Attr(name)
	return ok
}

func (e *element) SetAttribute(name, value string) {
	for i := range e.node.Attr {
		if e.node.Attr[i].Key == name {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

func (e *element) RemoveAttribute(name string) {
	attrs := e.node.Attr[:0]
	for _, attr := range e.node.Attr {
		if attr.Key != name {
			attrs = append(attrs, attr)
		}
	}
	e.node.Attr = attrs
}

func (e *element) SetText(text string) {
	for e.node.FirstChild != nil {
		e.node.RemoveChild(e.node.FirstChild)
	}
	e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func (e *element) Focus() {
	e.page.focused = e.node
}

// DispatchEvent records the event and applies the side effects a browser
// would: clicking an anchor navigates, clicking a file input opens the
// chooser.
func (e *element) DispatchEvent(event string) error {
	e.page.Events = append(e.page.Events, FiredEvent{Target: e.node, Name: event})

	if event != "click" {
		return nil
	}
	switch e.node.Data {
	case "a":
		if href := e.Attribute("href"); href != "" {
			return e.page.Load(e.page.resolveURL(href), engine.LoadOptions{Method: "GET"})
		}
	case "input":
		if e.Attribute("type") == "file" {
			if e.page.hooks.ChooseFile != nil {
				path := e.page.hooks.ChooseFile()
				e.page.ChosenFiles = append(e.page.ChosenFiles, path)
				if path != "" {
					e.SetAttribute("value", path)
				}
			}
		}
	}
	return nil
}

func (e *element) CallMethod(name string) error {
	e.page.Calls = append(e.page.Calls, MethodCall{Target: e.node, Method: name})
	if name == "blur" && e.page.focused == e.node {
		e.page.focused = nil
	}
	return nil
}

var (
	selectedScript      = regexp.MustCompile(`this\.selected\s*=\s*true`)
	selectedIndexScript = regexp.MustCompile(`this\.selectedIndex\s*=\s*(\d+)`)
)

// Evaluate interprets the element-scoped scripts the form-filling path
// emits; anything else is recorded and answered with null.
func (e *element) Evaluate(script string) (json.RawMessage, error) {
	e.page.Evaluated = append(e.page.Evaluated, script)

	if selectedScript.MatchString(script) {
		e.SetAttribute("selected", "selected")
		return json.RawMessage("null"), nil
	}
	if m := selectedIndexScript.FindStringSubmatch(script); m != nil {
		index, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("bad selectedIndex script %q", script)
		}
		e.selection().Find("option").Each(func(i int, sel *goquery.Selection) {
			option := &element{page: e.page, node: sel.Nodes[0]}
			if i == index {
				option.SetAttribute("selected", "selected")
			} else {
				option.RemoveAttribute("selected")
			}
		})
		return json.RawMessage("null"), nil
	}
	return json.RawMessage("null"), nil
}

func (e *element) FindAll(selector string) []engine.Element {
	var elements []engine.Element
	e.selection().Find(selector).Each(func(_ int, sel *goquery.Selection) {
		elements = append(elements, &element{page: e.page, node: sel.Nodes[0]})
	})
	return elements
}

// Geometry reads the rectangle from a data-geometry="x,y,w,h" attribute when
// present, falling back to a nominal inline box.
func (e *element) Geometry() (image.Rectangle, error) {
	if !e.hasAttribute("data-geometry") {
		return image.Rect(0, 0, 100, 20), nil
	}
	raw := e.Attribute("data-geometry")
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("malformed data-geometry %q", raw)
	}
	vals := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("malformed data-geometry %q", raw)
		}
		vals[i] = v
	}
	return image.Rect(vals[0], vals[1], vals[0]+vals[2], vals[1]+vals[3]), nil
}
