// internal/session/fields.go
package session

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/engine"
)

// textInputTypes are the input types whose value is assigned directly. The
// empty string covers inputs with no type attribute.
var textInputTypes = map[string]bool{
	"color": true, "date": true, "datetime": true, "datetime-local": true,
	"email": true, "hidden": true, "month": true, "number": true,
	"password": true, "range": true, "search": true, "tel": true,
	"text": true, "time": true, "url": true, "week": true, "": true,
}

// FieldOption tweaks a single field assignment.
type FieldOption func(*fieldConfig)

type fieldConfig struct {
	skipBlur bool
}

// SkipBlur suppresses the blur normally synthesized after assignment.
func SkipBlur() FieldOption {
	return func(c *fieldConfig) { c.skipBlur = true }
}

// SetFieldValue assigns value into the form control matched by selector,
// dispatching on the element's tag name and, for inputs, its type attribute.
// value must be a string, except for a single checkbox where it must be a
// bool. After assignment, input and change events are synthesized on the
// element, followed by a blur unless suppressed with SkipBlur.
func (s *Session) SetFieldValue(selector string, value any, expect *LoadExpectation, opts ...FieldOption) (*Resource, []*Resource, error) {
	return s.expectLoading(expect, func() error {
		return s.setFieldValue(selector, value, opts...)
	})
}

func (s *Session) setFieldValue(selector string, value any, opts ...FieldOption) error {
	cfg := fieldConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.logger.Debug("Setting field value", zap.String("selector", selector), zap.Any("value", value))

	element := s.page.Element(selector)
	if element == nil {
		return &ElementNotFoundError{Selector: selector}
	}

	tag := strings.ToLower(element.TagName())
	switch tag {
	case "select":
		str, err := stringValue(tag, value)
		if err != nil {
			return err
		}
		if err := setSelectValue(element, str); err != nil {
			return err
		}

	case "textarea":
		str, err := stringValue(tag, value)
		if err != nil {
			return err
		}
		element.Focus()
		element.SetText(str)

	case "input":
		typ := strings.ToLower(element.Attribute("type"))
		switch {
		case textInputTypes[typ]:
			str, err := stringValue(tag, value)
			if err != nil {
				return err
			}
			setTextValue(element, str)

		case typ == "checkbox":
			elements := s.page.Elements(selector)
			if len(elements) > 1 {
				// A multi-element match is a checkbox group: check exactly
				// the one whose value matches, uncheck the rest.
				str, err := stringValue(tag, value)
				if err != nil {
					return err
				}
				for _, el := range elements {
					setCheckboxValue(el, el.Attribute("value") == str)
				}
			} else {
				checked, ok := value.(bool)
				if !ok {
					return &ConfigurationError{Reason: fmt.Sprintf("value for single checkbox %q must be a bool, got %T", selector, value)}
				}
				setCheckboxValue(element, checked)
			}

		case typ == "radio":
			str, err := stringValue(tag, value)
			if err != nil {
				return err
			}
			for _, el := range s.page.Elements(selector) {
				if el.Attribute("value") == str {
					el.Focus()
					el.SetAttribute("checked", "checked")
				}
			}

		case typ == "file":
			str, err := stringValue(tag, value)
			if err != nil {
				return err
			}
			// Stage the path, then click the control so the engine's native
			// file-choose hook picks it up; always unstage afterwards.
			s.uploadFile = str
			defer func() { s.uploadFile = "" }()
			if err := element.DispatchEvent("click"); err != nil {
				return fmt.Errorf("clicking file input %q: %w", selector, err)
			}

		default:
			return &UnsupportedOperationError{Tag: tag, Type: typ}
		}

	default:
		return &UnsupportedOperationError{Tag: tag}
	}

	// Scripts listening for these must observe them after any assignment.
	for _, event := range []string{"input", "change"} {
		if err := element.DispatchEvent(event); err != nil {
			return fmt.Errorf("dispatching %s on %q: %w", event, selector, err)
		}
	}

	if !cfg.skipBlur {
		if err := element.CallMethod("blur"); err != nil {
			return fmt.Errorf("blurring %q: %w", selector, err)
		}
	}
	return nil
}

func stringValue(tag string, value any) (string, error) {
	str, ok := value.(string)
	if !ok {
		return "", &ConfigurationError{Reason: fmt.Sprintf("value for %s field must be a string, got %T", tag, value)}
	}
	return str, nil
}

func setTextValue(el engine.Element, value string) {
	el.Focus()
	el.SetAttribute("value", value)
}

func setCheckboxValue(el engine.Element, checked bool) {
	el.Focus()
	if checked {
		el.SetAttribute("checked", "checked")
	} else {
		el.RemoveAttribute("checked")
	}
}

// setSelectValue marks the option whose value matches as selected and points
// the control's selected index at its position.
func setSelectValue(el engine.Element, value string) error {
	el.Focus()
	for index, option := range el.FindAll("option") {
		if option.Attribute("value") == value {
			if _, err := option.Evaluate("this.selected = true;"); err != nil {
				return err
			}
			option.SetAttribute("selected", "selected")
			_, err := el.Evaluate(fmt.Sprintf("this.selectedIndex = %d;", index))
			return err
		}
	}
	return nil
}
