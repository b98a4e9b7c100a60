// Package chrome drives real browser tabs through chromedp, implementing
// the page surfaces the selector, locator and replay packages are written
// against.
package chrome

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"

	"github.com/chromedp/chromedp"

	"webpilot/backend/internal/replay"
)

// Options configure the browser process.
type Options struct {
	ExecPath     string // empty means autodetect
	Headless     bool
	WindowWidth  int
	WindowHeight int
	UserDataDir  string
	// CaptureWSURL is the backend websocket the injected capture script
	// connects back to.
	CaptureWSURL string
}

// Browser owns one Chrome process; every OpenPage call is a fresh tab in it.
type Browser struct {
	allocCtx     context.Context
	allocCancel  context.CancelFunc
	captureWSURL string
}

func NewBrowser(opts Options) (*Browser, error) {
	execPath := opts.ExecPath
	if execPath == "" {
		execPath = FindExecutable()
	}
	if execPath == "" {
		return nil, fmt.Errorf("chrome: no browser executable found")
	}
	if opts.WindowWidth == 0 {
		opts.WindowWidth = 1280
	}
	if opts.WindowHeight == 0 {
		opts.WindowHeight = 800
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{},
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	log.Printf("chrome: using executable %s (headless=%v)", execPath, opts.Headless)
	return &Browser{allocCtx: allocCtx, allocCancel: allocCancel, captureWSURL: opts.CaptureWSURL}, nil
}

// OpenPage opens a tab, installs the page agent and navigates to url. The
// returned closer tears the tab down.
func (b *Browser) OpenPage(ctx context.Context, url string) (replay.Page, func(), error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))

	page := newPage(tabCtx)
	if err := page.start(ctx, url); err != nil {
		tabCancel()
		return nil, nil, err
	}
	return page, tabCancel, nil
}

// OpenRecordingPage opens a tab with the capture script armed for the
// session, then navigates to url. The script re-registers on every
// navigation in the tab, so one install covers the whole recording; the
// returned closer tears the tab down.
func (b *Browser) OpenRecordingPage(ctx context.Context, sessionID, url string) (func(), error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))

	page := newPage(tabCtx)
	if err := page.InstallCapture(ctx, sessionID, b.captureWSURL); err != nil {
		tabCancel()
		return nil, err
	}
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("chrome: open recording page %s: %w", url, err)
	}
	return tabCancel, nil
}

func (b *Browser) Close() {
	b.allocCancel()
}

// FindExecutable locates a Chrome or Chromium binary on this machine.
func FindExecutable() string {
	var candidates []string
	switch runtime.GOOS {
	case "linux":
		candidates = []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
			"/opt/google/chrome/google-chrome",
		}
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		candidates = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium-browser", "chromium"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
