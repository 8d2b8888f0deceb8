// -- cmd/capture.go --
package cmd

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/specter/internal/config"
	"github.com/xkilldash9x/specter/internal/engine"
	"github.com/xkilldash9x/specter/internal/engine/cdp"
	"github.com/xkilldash9x/specter/internal/observability"
	"github.com/xkilldash9x/specter/internal/session"
)

var captureFlags struct {
	output      string
	selector    string
	waitFor     string
	pdf         bool
	paperWidth  float64
	paperHeight float64
	zoom        float64
	rate        float64
	userAgent   string
	cookieFile  string
	exclude     string
	show        bool
}

// captureCmd renders one or more pages to image or PDF files.
var captureCmd = &cobra.Command{
	Use:   "capture [flags] URL...",
	Short: "Render pages to PNG screenshots or PDF documents.",
	Long: `Capture opens each URL in a headless browser, waits for the page to
settle, and writes a screenshot or PDF. With multiple URLs the output flag
names a directory and captures are paced by the rate flag.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)

	flags := captureCmd.Flags()
	flags.StringVarP(&captureFlags.output, "output", "o", "", "output file, or directory for multiple URLs")
	flags.StringVar(&captureFlags.selector, "selector", "", "capture only the region of the first matching element")
	flags.StringVar(&captureFlags.waitFor, "wait-for", "", "wait for this selector before capturing")
	flags.BoolVar(&captureFlags.pdf, "pdf", false, "produce a PDF instead of a PNG")
	flags.Float64Var(&captureFlags.paperWidth, "paper-width", 8.5, "PDF paper width in inches")
	flags.Float64Var(&captureFlags.paperHeight, "paper-height", 11.0, "PDF paper height in inches")
	flags.Float64Var(&captureFlags.zoom, "zoom", 1.0, "PDF zoom factor")
	flags.Float64Var(&captureFlags.rate, "rate", 1.0, "captures per second across multiple URLs")
	flags.StringVar(&captureFlags.userAgent, "user-agent", "", "override the presented User-Agent")
	flags.StringVar(&captureFlags.cookieFile, "cookies", "", "cookie jar file, loaded before and saved after (supports ~)")
	flags.StringVar(&captureFlags.exclude, "exclude", "", "abort requests matching this regular expression")
	flags.BoolVar(&captureFlags.show, "show", false, "run the browser with a visible window")
}

func runCapture(ctx context.Context, urls []string) error {
	logger := observability.GetLogger().Named("capture")
	cfg := appConfig
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	cookiePath, err := resolveCookiePath(cfg)
	if err != nil {
		return err
	}

	if len(urls) > 1 {
		if captureFlags.output == "" {
			return fmt.Errorf("--output must name a directory when capturing multiple URLs")
		}
		// Pace batch captures so a long URL list doesn't hammer a site.
		limiter := rate.NewLimiter(rate.Limit(captureFlags.rate), 1)
		for _, target := range urls {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			output := filepath.Join(captureFlags.output, outputName(target, captureFlags.pdf))
			if err := captureOne(ctx, cfg, logger, target, output, cookiePath); err != nil {
				return fmt.Errorf("capturing %s: %w", target, err)
			}
		}
		return nil
	}

	output := captureFlags.output
	if output == "" {
		output = outputName(urls[0], captureFlags.pdf)
	}
	return captureOne(ctx, cfg, logger, urls[0], output, cookiePath)
}

func captureOne(ctx context.Context, cfg *config.Config, logger *zap.Logger, target, output, cookiePath string) error {
	page := cdp.NewPage(cdp.Options{
		Logger:          logger,
		ShowWindow:      captureFlags.show || !cfg.Browser().Headless,
		OpTimeout:       cfg.Browser().OpTimeout,
		IgnoreTLSErrors: cfg.Browser().IgnoreTLSErrors,
		ExtraFlags:      cfg.Browser().ExtraFlags,
	})

	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithTimeout(cfg.Session().WaitTimeout),
		session.WithPollInterval(cfg.Session().PollInterval),
	}
	if !cfg.Browser().IgnoreTLSErrors {
		sessOpts = append(sessOpts, session.SurfaceSSLErrors())
	}
	sess := session.New(page, sessOpts...)
	defer sess.Close()

	if err := applyNetworkConfig(sess, cfg); err != nil {
		return err
	}
	if err := sess.SetViewportSize(cfg.Session().ViewportWidth, cfg.Session().ViewportHeight); err != nil {
		return err
	}
	if cookiePath != "" {
		if err := sess.LoadCookies(cookiePath, false); err != nil {
			// A jar that doesn't exist yet is created on save.
			logger.Debug("Cookie jar not loaded.", zap.String("path", cookiePath), zap.Error(err))
		}
	}

	openOpts := &session.OpenOptions{UserAgent: userAgent(cfg)}
	if _, _, err := sess.Open(target, openOpts); err != nil {
		return err
	}
	if captureFlags.waitFor != "" {
		if _, err := sess.WaitForSelector(captureFlags.waitFor, 0); err != nil {
			return err
		}
	}

	if captureFlags.pdf {
		err := sess.PrintToPDF(output, session.PDFOptions{
			PaperWidth:  captureFlags.paperWidth,
			PaperHeight: captureFlags.paperHeight,
			ZoomFactor:  captureFlags.zoom,
		})
		if err != nil {
			return err
		}
	} else {
		if captureFlags.selector != "" {
			r, err := sess.RegionForSelector(captureFlags.selector)
			if err != nil {
				return err
			}
			if err := sess.CaptureTo(output, &r); err != nil {
				return err
			}
		} else {
			if err := sess.CaptureTo(output, nil); err != nil {
				return err
			}
		}
	}

	if cookiePath != "" {
		if err := sess.SaveCookies(cookiePath); err != nil {
			return err
		}
	}
	logger.Info("Capture written.", zap.String("url", target), zap.String("output", output))
	return nil
}

func applyNetworkConfig(sess *session.Session, cfg *config.Config) error {
	if pattern := captureFlags.exclude; pattern != "" {
		if err := sess.SetExcludePattern(pattern); err != nil {
			return err
		}
	} else if cfg.Network().ExcludePattern != "" {
		if err := sess.SetExcludePattern(cfg.Network().ExcludePattern); err != nil {
			return err
		}
	}

	proxy := cfg.Network().Proxy
	if proxy.Type != "" && proxy.Type != string(engine.ProxyDefault) {
		return sess.SetProxy(proxy.Type, proxy.Host, proxy.Port, proxy.User, proxy.Password)
	}
	return nil
}

func userAgent(cfg *config.Config) string {
	if captureFlags.userAgent != "" {
		return captureFlags.userAgent
	}
	return cfg.Session().UserAgent
}

// resolveCookiePath picks the flag over the config file and expands a
// leading tilde.
func resolveCookiePath(cfg *config.Config) (string, error) {
	path := captureFlags.cookieFile
	if path == "" {
		path = cfg.Session().CookieFile
	}
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("resolving cookie jar path: %w", err)
	}
	return expanded, nil
}

// outputName derives a filesystem-safe file name from a URL.
func outputName(target string, pdf bool) string {
	ext := ".png"
	if pdf {
		ext = ".pdf"
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return sanitize(target) + ext
	}
	name := u.Host
	if p := strings.Trim(u.Path, "/"); p != "" {
		name += "_" + p
	}
	return sanitize(name) + ext
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
