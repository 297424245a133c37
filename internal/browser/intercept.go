package browser

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/senave-registros/internal/logger"
)

// enableDownloadInterception pauses document responses so their headers can
// be inspected before Chrome decides to render or download them.
func enableDownloadInterception() chromedp.Action {
	return fetch.Enable().WithPatterns([]*fetch.RequestPattern{
		{
			URLPattern:   "*",
			ResourceType: network.ResourceTypeDocument,
			RequestStage: fetch.RequestStageResponse,
		},
	})
}

// handleInterception resumes a paused response, marking it as an attachment
// when its content type is one of mimeTypes. Listeners must not block, so
// the CDP call runs in its own goroutine.
func handleInterception(ctx context.Context, ev any, mimeTypes []string) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}

	go func() {
		c := chromedp.FromContext(ctx)
		if c == nil || c.Target == nil {
			return
		}
		execCtx := cdp.WithExecutor(ctx, c.Target)

		var err error
		if headers, forced := forceAttachment(paused.ResponseHeaders, mimeTypes); forced && paused.ResponseErrorReason == "" {
			logger.Debug("forcing download", "url", paused.Request.URL)
			err = fetch.ContinueResponse(paused.RequestID).WithResponseHeaders(headers).Do(execCtx)
		} else {
			err = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
		}
		if err != nil && ctx.Err() == nil {
			logger.Debug("failed to resume intercepted response", "error", err)
		}
	}()
}

// forceAttachment returns headers with Content-Disposition set to
// attachment when the response content type is in mimeTypes and the server
// did not already ask for a download.
func forceAttachment(headers []*fetch.HeaderEntry, mimeTypes []string) ([]*fetch.HeaderEntry, bool) {
	var contentType, disposition string
	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case "content-type":
			contentType = h.Value
		case "content-disposition":
			disposition = h.Value
		}
	}
	if contentType == "" {
		return headers, false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return headers, false
	}
	if d, _, err := mime.ParseMediaType(disposition); err == nil && d == "attachment" {
		return headers, false
	}

	matched := false
	for _, m := range mimeTypes {
		if strings.EqualFold(mediaType, m) {
			matched = true
			break
		}
	}
	if !matched {
		return headers, false
	}

	out := make([]*fetch.HeaderEntry, 0, len(headers)+1)
	for _, h := range headers {
		if strings.EqualFold(h.Name, "content-disposition") {
			continue
		}
		out = append(out, h)
	}
	out = append(out, &fetch.HeaderEntry{Name: "Content-Disposition", Value: "attachment"})
	return out, true
}

// hoverAndClick moves the pointer onto node, then presses and releases the
// left button at the same point.
func hoverAndClick(node *cdp.Node) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to get box model: %w", err)
		}
		x, y, err := quadCenter(box.Content)
		if err != nil {
			return err
		}
		if err := chromedp.MouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
			return fmt.Errorf("failed to hover: %w", err)
		}
		return chromedp.MouseClickXY(x, y).Do(ctx)
	})
}

// quadCenter returns the centre of a content quad (x1,y1 .. x4,y4).
func quadCenter(q dom.Quad) (float64, float64, error) {
	if len(q) != 8 {
		return 0, 0, fmt.Errorf("unexpected quad length %d", len(q))
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4, nil
}
