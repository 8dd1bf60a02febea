// Package browser implements PageDriver: the go-rod wrapper around one
// browser window that drives navigation, request interception, anti-bot
// polling, and frame filtering. Built on go-rod's launcher setup,
// HijackRequests + router, EachEvent response monitoring, and
// recover()-based crash isolation.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"

	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

// ErrCrashed is what a window "error"/target-crashed event surfaces as,
// so PageWorker can tell a crash apart from an ordinary navigate failure.
var ErrCrashed = fmt.Errorf("browser: window crashed")

// Browser owns the single launched Chrome instance a crawl's WorkerPool
// shares; each PageWorker opens its own Window (rod.Page) against it.
type Browser struct {
	launcher *launcher.Launcher
	instance *rod.Browser
	log      zerolog.Logger
}

// Launch starts headless (or headed) Chrome the way dynamic.go does:
// launcher.New with certificate-error tolerance, then Connect.
func Launch(cfg config.WorkersConfig, log zerolog.Logger) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("ignore-certificate-errors").
		Set("disable-dev-shm-usage").
		Set("no-sandbox")
	if cfg.Profile != "" {
		l = l.UserDataDir(cfg.Profile)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launching chrome: %w", err)
	}

	instance := rod.New().ControlURL(controlURL)
	if err := instance.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: connecting: %w", err)
	}

	return &Browser{launcher: l, instance: instance, log: log}, nil
}

func (b *Browser) Close() error {
	err := b.instance.Close()
	b.launcher.Cleanup()
	return err
}

// NewWindow opens a fresh page (blank, about:blank) for a worker to
// drive. Workers reuse a Window across pages per the MAX_REUSE contract;
// browser.Window itself is stateless across pages beyond the
// request-interception router it installs in Prepare.
func (b *Browser) NewWindow() (*Window, error) {
	page, err := b.instance.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("browser: opening page: %w", err)
	}
	return &Window{page: page}, nil
}

// Window wraps one browser tab. Every exported method that touches the
// underlying rod.Page recovers from panics into ErrCrashed, since rod
// surfaces target-crashed/context-canceled conditions as panics from
// deep inside its own goroutines in several code paths (dynamic.go's
// crash isolation follows the same pattern).
type Window struct {
	page    *rod.Page
	router  *rod.HijackRouter
	crashed atomic.Bool
	origin  string
}

func (w *Window) Crashed() bool { return w.crashed.Load() }

func (w *Window) Close() error {
	if w.router != nil {
		_ = w.router.Stop()
	}
	return w.page.Close()
}

// PrepareOpts configures request interception and page bootstrap.
type PrepareOpts struct {
	Auth              *crawltypes.BasicAuth
	RecrawlUpdateData bool
	AlreadyOnDisk     func(url string) bool // §6 archive layout lookup
	BlockAds          bool
	BlockRules        []string
	CustomBehaviors   []string
	OnLink            func(url string) // wired to __addLink by LinkExtractor
	OnResponse        func(url, contentType string, body []byte) // archive write hook
}

// Prepare installs request interception, the __addLink host binding,
// basic auth (if the seed has any), and custom-behavior init scripts.
func (w *Window) Prepare(ctx context.Context, opts PrepareOpts) (err error) {
	defer w.recoverCrash(&err)

	if opts.Auth != nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{
				"Authorization": gson.New(basicAuthHeader(opts.Auth.Username, opts.Auth.Password)),
			},
		}.Call(w.page)
	}

	if opts.OnLink != nil {
		_, err := w.page.Expose("__addLink", func(g gson.JSON) (any, error) {
			opts.OnLink(g.Get("0").Str())
			return nil, nil
		})
		if err != nil {
			return fmt.Errorf("browser: exposing __addLink: %w", err)
		}
	}

	if len(opts.CustomBehaviors) > 0 {
		script := strings.Join(opts.CustomBehaviors, "\n;\n")
		if _, err := w.page.EvalOnNewDocument(script); err != nil {
			return fmt.Errorf("browser: installing behaviors: %w", err)
		}
	}

	router := w.page.HijackRequests()
	router.MustAdd("*", func(hj *rod.Hijack) {
		w.handleHijack(hj, opts)
	})
	w.router = router
	go router.Run()

	return nil
}

// handleHijack implements the interception policy: any document-type
// request (the top-level navigation and its redirect hops) is always
// allowed; same-origin script/stylesheet/image is allowed; everything
// else is aborted unless recrawlUpdateData is set or the resource is
// already on disk.
func (w *Window) handleHijack(hj *rod.Hijack, opts PrepareOpts) {
	reqURL := hj.Request.URL().String()
	resourceType := hj.Request.Type()

	if opts.BlockAds && looksLikeAd(reqURL) {
		hj.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}
	for _, rule := range opts.BlockRules {
		if strings.Contains(reqURL, rule) {
			hj.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
	}

	sameOrigin := w.origin != "" && sameOriginURL(w.origin, reqURL)

	allowed := resourceType == proto.NetworkResourceTypeDocument ||
		(sameOrigin && isAllowedResourceType(resourceType))

	if !allowed && !(opts.RecrawlUpdateData || (opts.AlreadyOnDisk != nil && opts.AlreadyOnDisk(reqURL))) {
		hj.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}

	if err := hj.LoadResponse(http.DefaultClient, true); err != nil {
		hj.Response.Fail(proto.NetworkErrorReasonFailed)
		return
	}

	if opts.OnResponse != nil && resourceType == proto.NetworkResourceTypeDocument {
		contentType := hj.Response.Headers().Get("Content-Type")
		opts.OnResponse(reqURL, contentType, []byte(hj.Response.Body()))
	}
}

func isAllowedResourceType(rt proto.NetworkResourceType) bool {
	switch rt {
	case proto.NetworkResourceTypeDocument, proto.NetworkResourceTypeScript,
		proto.NetworkResourceTypeStylesheet, proto.NetworkResourceTypeImage:
		return true
	default:
		return false
	}
}

func looksLikeAd(url string) bool {
	for _, marker := range []string{"doubleclick.net", "/ads/", "adservice."} {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

// GotoOpts configures Navigate.
type GotoOpts struct {
	WaitUntil string // "load" or "networkidle", matches config.TimingConfig.WaitUntil
	Timeout   time.Duration
}

// Navigate drives the window to url, returning the strongest NavResult
// available under an ordered precedence: a document-download response
// beats a bare non-redirect response, which beats a fully loaded
// response, in the sense that navigate reports whichever is the terminal
// state once timeout/DOM events settle.
func (w *Window) Navigate(ctx context.Context, url string, opts GotoOpts) (res crawltypes.NavResult, err error) {
	defer w.recoverCrash(&err)

	// Set before the request goes out so handleHijack can already tell
	// same-origin subresources apart on this page's very first load,
	// rather than only after WaitLoad returns.
	w.origin = originOf(url)

	navCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	page := w.page.Context(navCtx)

	var firstResp *proto.NetworkResponseReceived
	stopWatch := page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if firstResp == nil && e.Type == proto.NetworkResourceTypeDocument {
			firstResp = e
		}
	})

	navErr := page.Navigate(url)
	if navErr != nil {
		stopWatch()
		if isDownloadAbort(navErr) {
			return crawltypes.NavResult{Outcome: crawltypes.OutcomeDownloadDetected, RespURL: url}, nil
		}
		return crawltypes.NavResult{Outcome: crawltypes.OutcomeLoadFailed, Err: navErr}, nil
	}

	loadErr := page.Timeout(opts.Timeout).WaitLoad()
	stopWatch()

	info, infoErr := page.Info()
	if infoErr == nil && strings.HasPrefix(info.URL, "chrome-error://") {
		return crawltypes.NavResult{Outcome: crawltypes.OutcomeChromeError, RespURL: info.URL}, nil
	}

	if loadErr != nil {
		if firstResp != nil {
			// DOM content loaded but full load timed out: proceed to
			// link extraction, skip behaviors.
			return crawltypes.NavResult{
				Outcome:    crawltypes.OutcomeSlowPage,
				StatusCode: int(firstResp.Response.Status),
				MimeType:   firstResp.Response.MIMEType,
				RespURL:    firstResp.Response.URL,
			}, nil
		}
		return crawltypes.NavResult{Outcome: crawltypes.OutcomeLoadFailed, Err: loadErr}, nil
	}

	if firstResp == nil {
		return crawltypes.NavResult{Outcome: crawltypes.OutcomeLoadFailed}, nil
	}

	if info != nil {
		w.origin = originOf(info.URL)
	}

	return crawltypes.NavResult{
		Outcome:    crawltypes.OutcomeOK,
		StatusCode: int(firstResp.Response.Status),
		MimeType:   firstResp.Response.MIMEType,
		RespURL:    firstResp.Response.URL,
	}, nil
}

func isDownloadAbort(err error) bool {
	return strings.Contains(err.Error(), "net::ERR_ABORTED")
}

// CheckAntiBot polls for a known interstitial for up to maxWait,
// best-effort and idempotent: absence of the selector is success.
func (w *Window) CheckAntiBot(ctx context.Context, selector string, maxWait, pollEvery time.Duration) error {
	if selector == "" {
		selector = "div.cf-browser-verification"
	}
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		has, _, err := w.page.Has(selector)
		if err != nil || !has {
			return nil
		}
		select {
		case <-time.After(pollEvery):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// AwaitNetIdle is a best-effort wait for network quiescence.
func (w *Window) AwaitNetIdle(ctx context.Context, timeout time.Duration) {
	_ = w.page.Context(ctx).WaitIdle(timeout)
}

// AwaitCustomPageLoad invokes an injected behavior's "page loaded"
// signal in the main frame, then sleeps postLoadDelay.
func (w *Window) AwaitCustomPageLoad(ctx context.Context, postLoadDelay time.Duration) {
	_, _ = w.page.Eval(`() => { if (window.__crawlerPageLoaded) { window.__crawlerPageLoaded(); } }`)
	select {
	case <-time.After(postLoadDelay):
	case <-ctx.Done():
	}
}

// FilterFrames returns frames eligible for extraction: the main frame,
// or an IFRAME/FRAME-hosted frame whose URL isn't about:blank and isn't
// classified as an ad by its src.
func (w *Window) FilterFrames(blockAds bool) ([]*rod.Page, error) {
	frames := []*rod.Page{w.page}
	children, err := w.page.ElementsX("//iframe|//frame")
	if err != nil {
		return frames, nil // best effort, main frame still usable
	}
	for _, el := range children {
		src, _ := el.Attribute("src")
		if src == nil || *src == "" || *src == "about:blank" {
			continue
		}
		if blockAds && looksLikeAd(*src) {
			continue
		}
		frame, err := el.Frame()
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// AddExtraSeedOnRedirect handles a depth-0 redirect: called by the
// coordinator/worker after a depth-0 navigate whose RespURL differs from
// the requested URL.
func AddExtraSeedOnRedirect(ctx context.Context, add func(ctx context.Context, origSeedID int, respURL string) (int, error), origSeedID int, requestedURL, respURL string) (newSeedID int, changed bool, err error) {
	if respURL == "" || respURL == requestedURL {
		return origSeedID, false, nil
	}
	newSeedID, err = add(ctx, origSeedID, respURL)
	if err != nil {
		return origSeedID, false, err
	}
	return newSeedID, true, nil
}

func (w *Window) recoverCrash(errOut *error) {
	if r := recover(); r != nil {
		w.crashed.Store(true)
		*errOut = fmt.Errorf("%w: %v", ErrCrashed, r)
	}
}

func basicAuthHeader(user, pass string) string {
	raw := user + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func originOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rawURL[:idx+3] + rest
}

func sameOriginURL(origin, rawURL string) bool {
	return strings.HasPrefix(rawURL, origin)
}
