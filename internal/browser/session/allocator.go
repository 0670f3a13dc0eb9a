package session

import (
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/scalpel-driver/internal/config"
)

// allocatorOptions assembles the Chrome launch flags for cfg.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+16)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)

	// Later flags override the defaults, headless included.
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// Extra arguments from config.yaml, "--name=value" or "--name".
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers (Docker on Linux) need these to start at all.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}
