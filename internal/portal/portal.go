// Package portal reads the SENAVE registry search form without a browser.
// The form is server-rendered, so the report-type options can be listed
// and checked with a plain HTTP request before Chrome is started.
package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/senave-registros/internal/browser"
	"github.com/jmylchreest/senave-registros/internal/logger"
	"github.com/jmylchreest/senave-registros/internal/report"
	"github.com/jmylchreest/senave-registros/internal/version"
)

// ErrNavigation is browser.ErrNavigation, so callers check one sentinel for
// an unreachable portal whichever client saw it.
var ErrNavigation = browser.ErrNavigation

// Option is one entry of the report-type select.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// Client fetches the portal form page.
type Client struct {
	URL            string
	SelectSelector string
	UserAgent      string
	Timeout        time.Duration
}

// NewClient returns a client for the form at url.
func NewClient(url string) *Client {
	return &Client{
		URL:            url,
		SelectSelector: browser.DefaultSelectSelector,
		UserAgent:      version.UserAgent(),
		Timeout:        30 * time.Second,
	}
}

// Options returns the report-type options offered by the form.
func (c *Client) Options(ctx context.Context) ([]Option, error) {
	html, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return ParseOptions(html, c.SelectSelector)
}

// Verify checks that every report code is offered by the form.
func (c *Client) Verify(ctx context.Context, types []report.Type) error {
	opts, err := c.Options(ctx)
	if err != nil {
		return err
	}
	offered := make(map[string]bool, len(opts))
	for _, o := range opts {
		offered[o.Value] = true
	}
	for _, t := range types {
		if !offered[t.Code()] {
			return fmt.Errorf("portal does not offer report %s (code %q)", t, t.Code())
		}
	}
	logger.Debug("portal preflight passed", "options", len(opts))
	return nil
}

func (c *Client) fetch(ctx context.Context) (string, error) {
	col := colly.NewCollector(
		colly.UserAgent(c.UserAgent),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	col.SetRequestTimeout(timeout)

	var (
		body     string
		fetchErr error
	)
	col.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
		logger.Debug("portal form fetched",
			"status", r.StatusCode,
			"content_type", r.Headers.Get("Content-Type"),
			"body_size", len(r.Body))
	})
	col.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("%w: %s (status %d): %v", ErrNavigation, c.URL, status, err)
	})

	if err := col.Visit(c.URL); err != nil {
		if fetchErr != nil {
			return "", fetchErr
		}
		return "", fmt.Errorf("%w: %s: %v", ErrNavigation, c.URL, err)
	}
	if fetchErr != nil {
		return "", fetchErr
	}
	return body, nil
}

// ParseOptions extracts the options of the select matched by selector.
// Options with an empty value (placeholders) are skipped.
func ParseOptions(html, selector string) ([]Option, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse portal page: %w", err)
	}

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("report selector %s not found on portal page", selector)
	}

	var opts []Option
	sel.Find("option").Each(func(_ int, s *goquery.Selection) {
		value, _ := s.Attr("value")
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		opts = append(opts, Option{
			Value: value,
			Label: strings.Join(strings.Fields(s.Text()), " "),
		})
	})
	return opts, nil
}
