// Package pdfexport prints console pages to PDF with headless Chromium.
package pdfexport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// ErrDisabled is returned by the renderer used when PDF export is off.
var ErrDisabled = errors.New("pdf export is disabled")

type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
	Close() error
}

// Disabled refuses every render.
type Disabled struct{}

func (Disabled) Render(context.Context, string) ([]byte, error) { return nil, ErrDisabled }
func (Disabled) Close() error                                  { return nil }

type Options struct {
	Format  string
	// Timeout in milliseconds for loading the page content.
	Timeout float64
}

// Chromium starts Playwright and the browser on first use and reuses them
// for later renders.
type Chromium struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewChromium(opts Options, logger *slog.Logger) *Chromium {
	if opts.Format == "" {
		opts.Format = "A4"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15000
	}
	return &Chromium{opts: opts, log: logger.With("component", "pdfexport")}
}

// Install downloads the Chromium build Playwright drives.
func Install() error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}

func (c *Chromium) start() (playwright.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil && c.browser.IsConnected() {
		return c.browser, nil
	}
	if c.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("start playwright: %w", err)
		}
		c.pw = pw
	}
	browser, err := c.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	c.browser = browser
	c.log.Info("chromium started")
	return browser, nil
}

// Render loads html into a fresh page and prints it with backgrounds.
func (c *Chromium) Render(ctx context.Context, html string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browser, err := c.start()
	if err != nil {
		return nil, err
	}
	page, err := browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	if err := page.SetContent(html, playwright.PageSetContentOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(c.opts.Timeout),
	}); err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pdf, err := page.PDF(playwright.PagePdfOptions{
		Format:          playwright.String(c.opts.Format),
		PrintBackground: playwright.Bool(true),
		Margin: &playwright.Margin{
			Top:    playwright.String("12mm"),
			Bottom: playwright.String("12mm"),
			Left:   playwright.String("10mm"),
			Right:  playwright.String("10mm"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

func (c *Chromium) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.browser != nil {
		errs = append(errs, c.browser.Close())
		c.browser = nil
	}
	if c.pw != nil {
		errs = append(errs, c.pw.Stop())
		c.pw = nil
	}
	return errors.Join(errs...)
}
