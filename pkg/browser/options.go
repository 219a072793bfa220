package browser

import (
	"maps"
	"runtime"
	"slices"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/marquee/internal/config"
)

// launchFlags computes the Chrome flag set for one launch. Returning a
// plain map keeps the assembly inspectable; chromedp options are
// opaque closures.
func launchFlags(cfg config.BrowserConfig, net config.NetworkConfig, proxyServer string) map[string]any {
	return launchFlagsFor(runtime.GOOS, cfg, net, proxyServer)
}

func launchFlagsFor(goos string, cfg config.BrowserConfig, net config.NetworkConfig, proxyServer string) map[string]any {
	flags := map[string]any{
		// A false bool drops the flag entirely, which is how the
		// enable-automation default from chromedp gets removed.
		"enable-automation": false,
		// Keeps navigator.webdriver from advertising the automation.
		"disable-blink-features": "AutomationControlled",
		"headless":               cfg.Headless,
		"disable-gpu":            cfg.Headless,
	}

	if cfg.StartMaximized && !cfg.Kiosk {
		flags["start-maximized"] = true
	}
	if cfg.Kiosk {
		flags["kiosk"] = true
	}
	if net.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if proxyServer != "" {
		flags["proxy-server"] = proxyServer
	}

	// Required when running inside containers.
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}

	// Operator-supplied arguments win over everything above.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	return flags
}

// allocatorOptions turns a flag set into chromedp allocator options,
// layered over chromedp's defaults. Flags are applied in sorted order
// so repeated launches produce identical command lines.
func allocatorOptions(flags map[string]any, userAgent, execPath string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	return opts
}
