// internal/engine/cdp/network.go

package cdp

import (
	"context"
	"fmt"
	"regexp"
	"time"

	cdpruntime "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/engine"
)

// SetProxy configures the proxy Chrome will be launched with. Chrome only
// accepts proxy settings at launch, so configuring a proxy after the browser
// has started is an error.
func (p *Page) SetProxy(cfg engine.ProxyConfig) error {
	if p.started {
		return fmt.Errorf("the proxy must be configured before the browser is launched")
	}
	p.proxy = &cfg
	return nil
}

func proxyFlag(cfg *engine.ProxyConfig) string {
	if cfg == nil {
		return ""
	}
	var scheme string
	switch cfg.Type {
	case engine.ProxyHTTP:
		scheme = "http"
	case engine.ProxyHTTPS:
		scheme = "https"
	case engine.ProxySOCKS5:
		scheme = "socks5"
	default:
		// ProxyNone maps to --no-proxy-server, ProxyDefault leaves the
		// system settings in place.
		return ""
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// SetExcludePattern installs a regular expression that aborts matching
// requests before they leave the browser.
func (p *Page) SetExcludePattern(pattern string) error {
	if pattern == "" {
		p.mu.Lock()
		p.excludePattern = ""
		p.excludeRe = nil
		p.mu.Unlock()
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid exclude pattern: %w", err)
	}
	p.mu.Lock()
	p.excludePattern = pattern
	p.excludeRe = re
	p.mu.Unlock()
	return nil
}

func (p *Page) enableInterception() error {
	return p.run(fetch.Enable().WithHandleAuthRequests(true))
}

// handleRequestPaused continues or aborts an intercepted request. Runs on
// its own goroutine; the decision cannot wait for a pump because the
// request is stalled until answered.
func (p *Page) handleRequestPaused(ev *fetch.EventRequestPaused) {
	p.mu.Lock()
	re := p.excludeRe
	p.mu.Unlock()

	ctx := p.execCtx()
	if re != nil && re.MatchString(ev.Request.URL) {
		p.logger.Debug("Aborting excluded request.", zap.String("url", ev.Request.URL))
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(ctx); err != nil {
			p.logger.Debug("Failed to abort request.", zap.Error(err))
		}
		return
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(ctx); err != nil {
		p.logger.Debug("Failed to continue request.", zap.Error(err))
	}
}

type challenge struct {
	url      string
	answered bool
	username string
	password string
}

func (c *challenge) URL() string { return c.url }

func (c *challenge) Authenticate(username, password string) {
	c.answered = true
	c.username = username
	c.password = password
}

// handleAuthRequired queues the auth challenge for the next pump and
// responds to the protocol once the hook has had its say. The stalled
// request holds until then, which is fine: the session is pumping while it
// waits for the load.
func (p *Page) handleAuthRequired(ev *fetch.EventAuthRequired) {
	eventID := ev.RequestID
	url := ev.Request.URL
	fromProxy := ev.AuthChallenge != nil && ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy

	p.enqueue(func() error {
		ch := &challenge{url: url}
		if fromProxy {
			if p.hooks.ProxyAuthRequired != nil {
				p.hooks.ProxyAuthRequired(ch)
			}
		} else {
			if p.hooks.AuthRequired != nil {
				p.hooks.AuthRequired(ch)
			}
		}

		response := &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseCancelAuth,
		}
		if ch.answered {
			response = &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: ch.username,
				Password: ch.password,
			}
		}
		go func() {
			if err := fetch.ContinueWithAuth(eventID, response).Do(p.execCtx()); err != nil {
				p.logger.Debug("Failed to answer auth challenge.", zap.String("url", url), zap.Error(err))
			}
		}()
		return nil
	})
}

func (p *Page) SetUserAgent(ua string) {
	p.userAgent = ua
	if p.started {
		if err := p.applyUserAgent(ua); err != nil {
			p.logger.Warn("Failed to apply user agent.", zap.Error(err))
		}
	}
}

func (p *Page) applyUserAgent(ua string) error {
	return p.run(emulation.SetUserAgentOverride(ua))
}

func (p *Page) Cookies() []engine.Cookie {
	var raw []*network.Cookie
	if err := p.run(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	})); err != nil {
		p.logger.Warn("Failed to read cookies.", zap.Error(err))
		return nil
	}

	cookies := make([]engine.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := engine.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}

func (p *Page) SetCookies(cookies []engine.Cookie) {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Expires.IsZero() {
			expires := cdpruntime.TimeSinceEpoch(c.Expires)
			param.Expires = &expires
		}
		params = append(params, param)
	}
	if err := p.run(storage.SetCookies(params)); err != nil {
		p.logger.Warn("Failed to set cookies.", zap.Error(err))
	}
}
