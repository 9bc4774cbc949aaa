// Package browser defines the capability set the interpreter drives,
// grounded on xk6-browser's common/api.go interfaces (BrowserAPI,
// ElementHandleAPI, FrameAPI). The engine depends only on this contract;
// browser/cdp provides a real implementation that speaks the DevTools
// protocol over its own JSON-RPC websocket client, and
// browser/fake provides an in-memory implementation for tests.
package browser

import "context"

// ConsoleMessage is one buffered console message, as captured by the
// client's console domain listener.
type ConsoleMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// NetworkResponse is one buffered network response.
type NetworkResponse struct {
	URL        string `json:"url"`
	Method     string `json:"method"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// DialogAction is the response the client gives to a JS dialog.
type DialogAction string

// Dialog response actions.
const (
	DialogAccept  DialogAction = "accept"
	DialogDismiss DialogAction = "dismiss"
)

// MockRule is a glob-matched interception rule registered against the
// client's network-interception table.
type MockRule struct {
	Match string // glob
	Status int
	Body   interface{} // string passed through; anything else JSON-encoded
	DelayMS int64
}

// Client is the capability set the interpreter drives (spec.md §6.1).
// Every operation is asynchronous; implementations must honor ctx
// cancellation/deadlines as the per-step and whole-run timeout mechanisms
// rely on it.
type Client interface {
	Connect(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, js string) (interface{}, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Select(ctx context.Context, selector, value string) error
	PressKey(ctx context.Context, key string, modifiers ...string) error
	Hover(ctx context.Context, selector string) error
	SwitchFrame(ctx context.Context, selector string) error
	HandleDialog(ctx context.Context, action DialogAction, text string) error
	GetConsoleMessages(ctx context.Context) ([]ConsoleMessage, error)
	GetNetworkResponses(ctx context.Context) ([]NetworkResponse, error)
	GetDOMSnapshot(ctx context.Context) (string, error)
	CaptureScreenshot(ctx context.Context) (string, error)
	AddMockRule(ctx context.Context, rule MockRule) error
	Close(ctx context.Context) error
}
