// internal/session/session_test.go
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/specter/internal/cookies"
	"github.com/xkilldash9x/specter/internal/engine"
	"github.com/xkilldash9x/specter/internal/engine/enginetest"
)

// -- Open --

func TestOpenWaitsForLoadAndCollectsResources(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://site.test/", enginetest.Response{
		Body:  `<html><body><h1>hello</h1></body></html>`,
		Delay: 50 * time.Millisecond,
		Subresources: []enginetest.Subresource{
			{URL: "http://site.test/app.css", Status: 200, Body: "body{}"},
		},
	})

	start := time.Now()
	pageRes, resources, err := sess.Open("http://site.test/", nil)
	require.NoError(t, err)

	// The load must not settle before the scripted delay has elapsed.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	require.NotNil(t, pageRes)
	assert.Equal(t, "http://site.test/", pageRes.URL)
	assert.Equal(t, 200, pageRes.Status)
	assert.Equal(t, "text/html", pageRes.Headers["Content-Type"])

	urls := make([]string, 0, len(resources))
	for _, r := range resources {
		urls = append(urls, r.URL)
	}
	assert.Contains(t, urls, "http://site.test/app.css")
	assert.True(t, sess.Exists("h1"))
}

func TestOpenRejectsInvalidMethod(t *testing.T) {
	sess, _ := newTestSession(t)
	_, _, err := sess.Open("http://site.test/", &OpenOptions{Method: "TELEPORT"})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "invalid http method")
}

func TestOpenNoWaitDefersTheWait(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://site.test/", enginetest.Response{Body: "<html><body>late</body></html>"})

	pageRes, resources, err := sess.Open("http://site.test/", &OpenOptions{NoWait: true})
	require.NoError(t, err)
	assert.Nil(t, pageRes)
	assert.Empty(t, resources)

	pageRes, _, err = sess.WaitForPageLoaded(0)
	require.NoError(t, err)
	require.NotNil(t, pageRes)
	assert.Equal(t, "http://site.test/", pageRes.URL)
}

func TestOpenTimesOutOnSlowPage(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://slow.test/", enginetest.Response{
		Body:  "<html></html>",
		Delay: 2 * time.Second,
	})

	_, _, err := sess.Open("http://slow.test/", &OpenOptions{Timeout: 80 * time.Millisecond})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 80*time.Millisecond, timeoutErr.Timeout)
	assert.Contains(t, timeoutErr.Error(), "unable to load requested page")
}

func TestOpenRedirectMatchesFinalURL(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://site.test/old", enginetest.Response{
		Body:     "<html></html>",
		FinalURL: "http://site.test/new",
	})

	pageRes, _, err := sess.Open("http://site.test/old", nil)
	require.NoError(t, err)
	require.NotNil(t, pageRes)
	assert.Equal(t, "http://site.test/new", pageRes.URL)
}

func TestOpenAnswersOnlyFirstAuthChallenge(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://secure.test/", enginetest.Response{
		Body:           "<html></html>",
		AuthChallenges: 3,
	})

	_, _, err := sess.Open("http://secure.test/", &OpenOptions{
		Auth: &Credentials{Username: "morpheus", Password: "redpill"},
	})
	require.NoError(t, err)

	// Repeated challenges must not be re-answered.
	require.Len(t, page.AuthAnswers, 1)
	assert.Equal(t, "morpheus", page.AuthAnswers[0].Username)
	assert.Equal(t, "redpill", page.AuthAnswers[0].Password)
}

func TestOpenResetsAuthCounter(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://secure.test/", enginetest.Response{Body: "<html></html>", AuthChallenges: 1})

	creds := &Credentials{Username: "u", Password: "p"}
	_, _, err := sess.Open("http://secure.test/", &OpenOptions{Auth: creds})
	require.NoError(t, err)
	_, _, err = sess.Open("http://secure.test/", &OpenOptions{Auth: creds})
	require.NoError(t, err)

	assert.Len(t, page.AuthAnswers, 2)
}

// -- Waits --

func TestWaitForSelectorSeesLateElement(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")

	page.EnqueueAfter(60*time.Millisecond, func() error {
		page.SetDocument(`<html><body><div id="late">here</div></body></html>`)
		return nil
	})

	start := time.Now()
	_, err := sess.WaitForSelector("#late", 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitForSelectorTimesOut(t *testing.T) {
	sess, _ := openedSession(t, "<html><body></body></html>")

	start := time.Now()
	_, err := sess.WaitForSelector("#never", 100*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, timeoutErr.Error(), `can't find element matching "#never"`)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestWaitWhileSelector(t *testing.T) {
	sess, page := openedSession(t, `<html><body><div id="spinner"></div></body></html>`)

	page.EnqueueAfter(40*time.Millisecond, func() error {
		page.SetDocument("<html><body></body></html>")
		return nil
	})

	_, err := sess.WaitWhileSelector("#spinner", 0)
	require.NoError(t, err)
}

func TestWaitForText(t *testing.T) {
	sess, page := openedSession(t, "<html><body>loading</body></html>")

	page.EnqueueAfter(40*time.Millisecond, func() error {
		page.SetDocument("<html><body>all done</body></html>")
		return nil
	})

	_, err := sess.WaitForText("all done", 0)
	require.NoError(t, err)

	_, err = sess.WaitForText("never shown", 80*time.Millisecond)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestWaitCallbackRunsPerIteration(t *testing.T) {
	calls := 0
	sess, _ := newTestSession(t, WithWaitCallback(func() { calls++ }))

	err := sess.WaitFor(func() bool { return false }, "never", 60*time.Millisecond)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Greater(t, calls, 0)
}

func TestSleepPumpsEvents(t *testing.T) {
	sess, page := newTestSession(t)

	fired := false
	page.EnqueueAfter(30*time.Millisecond, func() error {
		fired = true
		return nil
	})

	require.NoError(t, sess.Sleep(60*time.Millisecond))
	assert.True(t, fired)
}

// -- Resource buffer --

func TestResourceBufferDrainsExactlyOnce(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://site.test/", enginetest.Response{Body: "<html></html>"})

	_, resources, err := sess.Open("http://site.test/", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, resources)

	// Nothing new happened, so a following wait must not re-deliver.
	again, err := sess.WaitForSelector("html", 0)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestResourceDropsUndecodableHeader(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://site.test/", enginetest.Response{
		Body: "<html></html>",
		Headers: []engine.RawHeader{
			{Name: []byte("Content-Type"), Value: []byte("text/html")},
			{Name: []byte("X-Broken"), Value: []byte{0xff, 0xfe, 0xfd}},
		},
	})

	pageRes, _, err := sess.Open("http://site.test/", nil)
	require.NoError(t, err)
	require.NotNil(t, pageRes)

	// The malformed header is dropped, the rest of the capture survives.
	assert.Equal(t, "text/html", pageRes.Headers["Content-Type"])
	_, present := pageRes.Headers["X-Broken"]
	assert.False(t, present)
}

func TestUnsupportedContentIsStillCollected(t *testing.T) {
	sess, page := newTestSession(t)
	page.Handle("http://site.test/blob.bin", enginetest.Response{
		Body:        "\x00\x01\x02",
		ContentType: "application/octet-stream",
		Unsupported: true,
	})

	pageRes, resources, err := sess.Open("http://site.test/blob.bin", nil)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, []byte("\x00\x01\x02"), resources[0].Content)
	require.NotNil(t, pageRes)
}

// -- DOM operations --

func TestClickFollowsLink(t *testing.T) {
	sess, page := openedSession(t, `<html><body><a id="go" href="/next">next</a></body></html>`)
	page.Handle("http://site.test/next", enginetest.Response{Body: "<html><body>arrived</body></html>"})

	pageRes, _, err := sess.Click("#go", &LoadExpectation{})
	require.NoError(t, err)
	require.NotNil(t, pageRes)
	assert.Equal(t, "http://site.test/next", pageRes.URL)
	assert.True(t, sess.Exists("body"))
}

func TestClickMissingElement(t *testing.T) {
	sess, _ := openedSession(t, "<html><body></body></html>")

	_, _, err := sess.Click("#ghost", nil)
	var notFound *ElementNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "#ghost", notFound.Selector)
}

func TestFireDispatchesArbitraryEvent(t *testing.T) {
	sess, page := openedSession(t, `<html><body><div id="zone"></div></body></html>`)

	_, _, err := sess.Fire("#zone", "mouseover", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, page.EventCount("#zone", "mouseover"))
}

func TestCallMethod(t *testing.T) {
	sess, page := openedSession(t, `<html><body><form id="f"></form></body></html>`)

	_, _, err := sess.CallMethod("#f", "submit", nil)
	require.NoError(t, err)
	require.Len(t, page.Calls, 1)
	assert.Equal(t, "submit", page.Calls[0].Method)
}

func TestFrameDescentFailure(t *testing.T) {
	sess, _ := openedSession(t, "<html><body></body></html>")

	err := sess.Frame("iframe#missing")
	var notFound *ElementNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Error(), "child frame")

	require.NoError(t, sess.Frame(nil))
}

func TestFrameRejectsSelectorType(t *testing.T) {
	sess, _ := openedSession(t, "<html><body></body></html>")

	err := sess.Frame(3.14)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "unsupported frame selector type float64")
}

func TestScrollToAnchor(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")
	sess.ScrollToAnchor("section-2")
	assert.Equal(t, []string{"section-2"}, page.Anchors)
}

// -- Script evaluation --

func TestEvaluate(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")
	page.EvalHandler = func(script string) (json.RawMessage, error) {
		return json.RawMessage(`42`), nil
	}

	result, _, err := sess.Evaluate("6 * 7;")
	require.NoError(t, err)
	assert.JSONEq(t, `42`, string(result))
}

func TestEvaluateFile(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")
	page.EvalHandler = func(script string) (json.RawMessage, error) {
		assert.Contains(t, script, "document.title")
		return json.RawMessage(`"Fixture"`), nil
	}

	path := filepath.Join(t.TempDir(), "probe.js")
	require.NoError(t, os.WriteFile(path, []byte("document.title;"), 0o600))

	result, _, err := sess.EvaluateFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `"Fixture"`, string(result))

	_, _, err = sess.EvaluateFile(filepath.Join(t.TempDir(), "missing.js"))
	require.Error(t, err)
}

func TestGlobalExists(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")
	page.EvalHandler = func(script string) (json.RawMessage, error) {
		if script == `!(typeof window["jQuery"] === "undefined");` {
			return json.RawMessage(`true`), nil
		}
		return json.RawMessage(`false`), nil
	}

	exists, err := sess.GlobalExists("jQuery")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = sess.GlobalExists("angular")
	require.NoError(t, err)
	assert.False(t, exists)
}

// -- Engine configuration --

func TestSetProxyValidation(t *testing.T) {
	sess, page := newTestSession(t)

	require.NoError(t, sess.SetProxy("socks5", "127.0.0.1", 1080, "", ""))
	require.NotNil(t, page.Proxy())
	assert.Equal(t, engine.ProxySOCKS5, page.Proxy().Type)
	assert.Equal(t, 1080, page.Proxy().Port)

	err := sess.SetProxy("carrier-pigeon", "coop", 1, "", "")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "none/default/http/https/socks5")
}

func TestSetExcludePattern(t *testing.T) {
	sess, page := newTestSession(t)
	require.NoError(t, sess.SetExcludePattern(`ads\.example`))
	require.Error(t, sess.SetExcludePattern(`([un')`))

	page.Handle("http://site.test/", enginetest.Response{
		Body: "<html></html>",
		Subresources: []enginetest.Subresource{
			{URL: "http://ads.example/pixel.gif", Status: 200, Body: "gif"},
			{URL: "http://site.test/app.js", Status: 200, Body: "js"},
		},
	})
	require.NoError(t, sess.SetExcludePattern(`ads\.example`))

	_, resources, err := sess.Open("http://site.test/", nil)
	require.NoError(t, err)
	for _, r := range resources {
		assert.NotContains(t, r.URL, "ads.example")
	}
}

func TestSetViewportSize(t *testing.T) {
	sess, page := newTestSession(t)
	require.NoError(t, sess.SetViewportSize(800, 600))
	w, h := page.ViewportSize()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}

func TestOpenOverridesUserAgent(t *testing.T) {
	sess, page := newTestSession(t)
	assert.Equal(t, DefaultUserAgent, page.UserAgent())

	page.Handle("http://site.test/", enginetest.Response{Body: "<html></html>"})
	_, _, err := sess.Open("http://site.test/", &OpenOptions{UserAgent: "Probe/2.0"})
	require.NoError(t, err)
	assert.Equal(t, "Probe/2.0", page.UserAgent())
}

// -- Cookies --

func TestCookieRoundTripThroughFile(t *testing.T) {
	sess, page := newTestSession(t)
	page.SetCookies([]engine.Cookie{
		{
			Name:    "sid",
			Value:   "abc123",
			Domain:  ".site.test",
			Path:    "/",
			Secure:  true,
			Expires: time.Unix(1999999999, 0).UTC(),
		},
	})

	path := filepath.Join(t.TempDir(), "jar.lwp")
	require.NoError(t, sess.SaveCookies(path))

	sess.DeleteCookies()
	assert.Empty(t, sess.Cookies())

	require.NoError(t, sess.LoadCookies(path, false))
	records := sess.Cookies()
	require.Len(t, records, 1)
	assert.Equal(t, "sid", records[0].Name)
	assert.Equal(t, "abc123", records[0].Value)
	assert.Equal(t, ".site.test", records[0].Domain)
	assert.True(t, records[0].DomainInitialDot)
	assert.True(t, records[0].Secure)
	assert.Equal(t, int64(1999999999), records[0].Expires)
}

func TestCookieExpiryClamped(t *testing.T) {
	sess, page := newTestSession(t)
	page.SetCookies([]engine.Cookie{{
		Name:    "far",
		Value:   "future",
		Domain:  "site.test",
		Path:    "/",
		Expires: time.Unix(4000000000, 0).UTC(),
	}})

	records := sess.Cookies()
	require.Len(t, records, 1)
	assert.Equal(t, cookies.MaxExpiry, records[0].Expires)
}

func TestCookieStorageTypeRejected(t *testing.T) {
	sess, _ := newTestSession(t)

	err := sess.LoadCookies(42, false)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "unsupported cookie storage type")

	err = sess.SaveCookies(3.14)
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadCookiesKeepOld(t *testing.T) {
	sess, page := newTestSession(t)
	page.SetCookies([]engine.Cookie{{Name: "old", Value: "1", Domain: "site.test", Path: "/"}})

	require.NoError(t, sess.LoadCookies([]cookies.Record{
		{Name: "new", Value: "2", Domain: "site.test", Path: "/", PathSpecified: true},
	}, true))

	names := map[string]bool{}
	for _, r := range sess.Cookies() {
		names[r.Name] = true
	}
	assert.True(t, names["old"])
	assert.True(t, names["new"])
}

// -- Lifecycle --

func TestCloseIsIdempotent(t *testing.T) {
	sess, page := newTestSession(t)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.True(t, page.Closed())
}
