// internal/engine/cdp/page_test.go
package cdp

import (
	"testing"

	cdpruntime "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/specter/internal/engine"
)

func TestLaunchFlags(t *testing.T) {
	t.Run("default headless without TLS overrides", func(t *testing.T) {
		p := NewPage(Options{})
		flags := p.launchFlags()
		assert.NotContains(t, flags, "headless")
		assert.NotContains(t, flags, "ignore-certificate-errors")
		assert.NotContains(t, flags, "proxy-server")
	})

	t.Run("ignore TLS errors adds certificate flags", func(t *testing.T) {
		p := NewPage(Options{IgnoreTLSErrors: true})
		flags := p.launchFlags()
		assert.Equal(t, true, flags["ignore-certificate-errors"])
		assert.Equal(t, true, flags["allow-insecure-localhost"])
	})

	t.Run("show window disables headless", func(t *testing.T) {
		p := NewPage(Options{ShowWindow: true})
		assert.Equal(t, false, p.launchFlags()["headless"])
	})

	t.Run("proxy server flag", func(t *testing.T) {
		p := NewPage(Options{})
		require.NoError(t, p.SetProxy(engine.ProxyConfig{Type: engine.ProxyHTTP, Host: "127.0.0.1", Port: 8080}))
		assert.Equal(t, "http://127.0.0.1:8080", p.launchFlags()["proxy-server"])
	})

	t.Run("explicit no proxy", func(t *testing.T) {
		p := NewPage(Options{})
		require.NoError(t, p.SetProxy(engine.ProxyConfig{Type: engine.ProxyNone}))
		flags := p.launchFlags()
		assert.Equal(t, true, flags["no-proxy-server"])
		assert.NotContains(t, flags, "proxy-server")
	})

	t.Run("extra flags are appended", func(t *testing.T) {
		p := NewPage(Options{ExtraFlags: map[string]any{"disable-gpu": true}})
		assert.Equal(t, true, p.launchFlags()["disable-gpu"])
	})
}

func TestIsCertError(t *testing.T) {
	assert.True(t, isCertError("net::ERR_CERT_AUTHORITY_INVALID"))
	assert.True(t, isCertError("net::ERR_CERT_DATE_INVALID"))
	assert.True(t, isCertError("net::ERR_SSL_PROTOCOL_ERROR"))
	assert.False(t, isCertError("net::ERR_CONNECTION_REFUSED"))
	assert.False(t, isCertError(""))
}

// Certificate failures on the main document must surface through the
// SSLErrors hook before the failed load is reported.
func TestLoadingFailedReportsCertErrors(t *testing.T) {
	p := NewPage(Options{})

	var sslURLs []string
	var sslErrs []error
	var finished []bool
	p.SetHooks(engine.Hooks{
		SSLErrors: func(reply engine.Reply, errs []error) {
			sslURLs = append(sslURLs, reply.URL())
			sslErrs = append(sslErrs, errs...)
		},
		LoadFinished: func(ok bool) { finished = append(finished, ok) },
	})

	main := cdpruntime.FrameID("frame-1")
	p.mu.Lock()
	p.loading = true
	p.mu.Unlock()

	p.handleRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: "req-1",
		Request:   &network.Request{URL: "https://bad.cert.test/"},
		Type:      network.ResourceTypeDocument,
		FrameID:   main,
	}, main)
	p.handleLoadingFailed(&network.EventLoadingFailed{
		RequestID: "req-1",
		ErrorText: "net::ERR_CERT_AUTHORITY_INVALID",
	})

	require.NoError(t, p.PumpEvents())
	require.Len(t, sslURLs, 1)
	assert.Equal(t, "https://bad.cert.test/", sslURLs[0])
	require.Len(t, sslErrs, 1)
	assert.EqualError(t, sslErrs[0], "net::ERR_CERT_AUTHORITY_INVALID")
	assert.Equal(t, []bool{false}, finished)
}

func TestLoadingFailedWithoutCertError(t *testing.T) {
	p := NewPage(Options{})

	var sslCalls int
	var finished []bool
	p.SetHooks(engine.Hooks{
		SSLErrors:    func(engine.Reply, []error) { sslCalls++ },
		LoadFinished: func(ok bool) { finished = append(finished, ok) },
	})

	main := cdpruntime.FrameID("frame-1")
	p.mu.Lock()
	p.loading = true
	p.mu.Unlock()

	p.handleRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: "req-1",
		Request:   &network.Request{URL: "http://down.test/"},
		Type:      network.ResourceTypeDocument,
		FrameID:   main,
	}, main)
	p.handleLoadingFailed(&network.EventLoadingFailed{
		RequestID: "req-1",
		ErrorText: "net::ERR_CONNECTION_REFUSED",
	})

	require.NoError(t, p.PumpEvents())
	assert.Zero(t, sslCalls)
	assert.Equal(t, []bool{false}, finished)
}
