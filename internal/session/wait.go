// internal/session/wait.go
package session

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Every higher-level wait in this package is built on WaitFor. The engine is
// cooperative: pending callbacks are only delivered when PumpEvents runs, so
// the poll loop pumps on every iteration. Between iterations it sleeps for
// the session's poll interval (itself a pumping sleep, so events queued
// mid-interval are not starved).

// WaitFor repeatedly evaluates condition until it returns true. A zero
// timeout selects the session default (DefaultWaitTimeout unless overridden
// with WithTimeout). When the deadline elapses first, a *TimeoutError
// carrying failureMessage is returned. If a wait callback is registered on
// the session it is invoked once per iteration.
func (s *Session) WaitFor(condition func() bool, failureMessage string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.waitTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := s.page.PumpEvents(); err != nil {
			return err
		}
		if condition() {
			return nil
		}
		if time.Now().After(deadline) {
			s.logger.Debug("Wait timed out", zap.String("waiting_for", failureMessage), zap.Duration("timeout", timeout))
			return &TimeoutError{Message: failureMessage, Timeout: timeout}
		}
		if err := s.sleep(s.pollInterval); err != nil {
			return err
		}
		if s.waitCallback != nil {
			s.waitCallback()
		}
	}
}

// Sleep blocks for d while keeping the engine's event queue pumped. It is
// the deliberate "settle" delay: use it when an action needs engine turns
// but there is no condition to wait on.
func (s *Session) Sleep(d time.Duration) error {
	return s.sleep(d)
}

func (s *Session) sleep(d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if err := s.page.PumpEvents(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return nil
		}
		time.Sleep(pumpInterval)
	}
}

// WaitForPageLoaded blocks until the in-flight navigation settles, then
// drains the resource buffer. The returned page resource is the captured
// resource whose URL matches the final frame URL; the comparison is also
// attempted with the fragment stripped, because navigation to #anchor
// targets does not always produce a byte-identical URL match. That match is
// best-effort: multi-redirect chains may resolve to a different resource
// than the caller intended.
func (s *Session) WaitForPageLoaded(timeout time.Duration) (*Resource, []*Resource, error) {
	if err := s.WaitFor(func() bool { return s.loaded }, "unable to load requested page", timeout); err != nil {
		return nil, nil, err
	}
	resources := s.releaseResources()

	frameURL := s.page.FrameURL()
	withoutFragment := frameURL
	if i := strings.IndexByte(frameURL, '#'); i >= 0 {
		withoutFragment = frameURL[:i]
	}

	var page *Resource
	for _, resource := range resources {
		if resource.URL == frameURL || resource.URL == withoutFragment {
			page = resource
		}
	}
	s.logger.Info("Page loaded", zap.String("url", frameURL), zap.Int("resources", len(resources)))

	return page, resources, nil
}

// WaitForSelector blocks until selector matches an element on the frame.
func (s *Session) WaitForSelector(selector string, timeout time.Duration) ([]*Resource, error) {
	err := s.WaitFor(
		func() bool { return s.page.Exists(selector) },
		fmt.Sprintf("can't find element matching %q", selector),
		timeout,
	)
	if err != nil {
		return nil, err
	}
	return s.releaseResources(), nil
}

// WaitWhileSelector blocks until selector no longer matches any element.
func (s *Session) WaitWhileSelector(selector string, timeout time.Duration) ([]*Resource, error) {
	err := s.WaitFor(
		func() bool { return !s.page.Exists(selector) },
		fmt.Sprintf("element matching %q is still available", selector),
		timeout,
	)
	if err != nil {
		return nil, err
	}
	return s.releaseResources(), nil
}

// WaitForText blocks until the given text appears in the current frame.
func (s *Session) WaitForText(text string, timeout time.Duration) ([]*Resource, error) {
	err := s.WaitFor(
		func() bool {
			content, err := s.page.Content()
			return err == nil && strings.Contains(content, text)
		},
		fmt.Sprintf("can't find %q in current frame", text),
		timeout,
	)
	if err != nil {
		return nil, err
	}
	return s.releaseResources(), nil
}
