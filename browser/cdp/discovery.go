package cdp

import (
	"context"
	"fmt"
)

// pageTarget is the subset of Chrome's /json/new response this engine
// needs: the target id (to close it later) and its own debugger
// websocket url (to Dial it directly, bypassing CDP's Target/session
// multiplexing entirely — one Connection per page, the simplest correct
// shape for a single-page-at-a-time test runner).
type pageTarget struct {
	ID                   string `json:"id"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// newPage asks the browser's DevTools HTTP endpoint to open a fresh
// about:blank tab and returns its debugger websocket url and target id.
func newPage(ctx context.Context, httpAddr string) (pageTarget, error) {
	var t pageTarget
	url := fmt.Sprintf("http://%s/json/new?about:blank", httpAddr)
	if err := httpGetJSON(ctx, url, &t); err != nil {
		return pageTarget{}, fmt.Errorf("creating page target: %w", err)
	}
	if t.WebSocketDebuggerURL == "" {
		return pageTarget{}, fmt.Errorf("browser did not return a debugger url for the new page")
	}
	return t, nil
}

// closePage tells the browser to discard a page target. The endpoint
// replies with a plain-text body ("Target is closing") rather than
// JSON, so a decode failure here is not itself an error.
func closePage(ctx context.Context, httpAddr, targetID string) error {
	url := fmt.Sprintf("http://%s/json/close/%s", httpAddr, targetID)
	var discard interface{}
	_ = httpGetJSON(ctx, url, &discard)
	return nil
}
