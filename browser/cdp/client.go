package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stepforge/engine/browser"
	"github.com/stepforge/engine/evidence"
)

const pollIntervalMS = 100

// Client is the chromedp/cdproto-adjacent, CDP-wire-protocol-backed
// browser.Client implementation: it launches one browser process and
// drives one page over that page's own DevTools websocket, dispatching
// every capability through Connection.Execute. Grounded on
// common/browser.go's connect-then-enable-domains lifecycle and
// common/api.go's capability surface, generalized from k6's multi-page,
// multi-context model down to the single current-page model
// browser.Client exposes.
type Client struct {
	opts LaunchOptions

	proc   *Process
	target pageTarget
	conn   *Connection

	frameDoc string // JS expression for the document operations are scoped to; "document" at top level

	console *evidence.ConsoleBuffer
	network *evidence.NetworkBuffer
	mocks   *evidence.MockRegistry

	mu             sync.Mutex
	pendingReqTime map[string]int64 // network requestId -> start unix ms
}

// New builds a Client. The evidence buffers and mock registry are owned
// by this client: its CDP event handlers append to them, and the
// interpreter's console_check/network_check steps and the run
// orchestrator's failure capture read them back through
// GetConsoleMessages/GetNetworkResponses.
func New(opts LaunchOptions, console *evidence.ConsoleBuffer, network *evidence.NetworkBuffer, mocks *evidence.MockRegistry) *Client {
	return &Client{
		opts:           opts,
		frameDoc:       "document",
		console:        console,
		network:        network,
		mocks:          mocks,
		pendingReqTime: make(map[string]int64),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	proc, err := Launch(ctx, c.opts)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	target, err := newPage(ctx, proc.HTTPAddr())
	if err != nil {
		_ = proc.Close()
		return err
	}
	conn, err := Dial(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		_ = proc.Close()
		return err
	}

	c.proc = proc
	c.target = target
	c.conn = conn

	c.registerEventHandlers()

	for _, method := range []string{"Runtime.enable", "Page.enable", "Network.enable", "Fetch.enable"} {
		var params interface{}
		if method == "Fetch.enable" {
			params = map[string]interface{}{"patterns": []map[string]string{{"urlPattern": "*"}}}
		}
		if err := c.conn.Execute(ctx, method, params, nil); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
	}
	return nil
}

func (c *Client) registerEventHandlers() {
	c.conn.On("Runtime.consoleAPICalled", c.onConsoleAPICalled)
	c.conn.On("Network.requestWillBeSent", c.onRequestWillBeSent)
	c.conn.On("Network.responseReceived", c.onResponseReceived)
	c.conn.On("Fetch.requestPaused", c.onRequestPaused)
}

type consoleAPICalledEvent struct {
	Type      string            `json:"type"`
	Args      []remoteObjectRef `json:"args"`
	Timestamp float64           `json:"timestamp"`
}

type remoteObjectRef struct {
	Type        string          `json:"type"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) onConsoleAPICalled(params json.RawMessage) {
	var ev consoleAPICalledEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	text := ""
	for i, a := range ev.Args {
		if i > 0 {
			text += " "
		}
		if len(a.Value) > 0 {
			var v interface{}
			if json.Unmarshal(a.Value, &v) == nil {
				text += fmt.Sprintf("%v", v)
				continue
			}
		}
		text += a.Description
	}
	c.console.Append(browser.ConsoleMessage{Type: ev.Type, Text: text, Timestamp: int64(ev.Timestamp * 1000)})
}

type requestWillBeSentEvent struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
}

func (c *Client) onRequestWillBeSent(params json.RawMessage) {
	var ev requestWillBeSentEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	c.mu.Lock()
	c.pendingReqTime[ev.RequestID] = time.Now().UnixMilli()
	c.mu.Unlock()
}

type responseReceivedEvent struct {
	RequestID string `json:"requestId"`
	Response  struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
	} `json:"response"`
}

func (c *Client) onResponseReceived(params json.RawMessage) {
	var ev responseReceivedEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	c.mu.Lock()
	start, ok := c.pendingReqTime[ev.RequestID]
	delete(c.pendingReqTime, ev.RequestID)
	c.mu.Unlock()
	duration := int64(0)
	if ok {
		duration = time.Now().UnixMilli() - start
	}
	c.network.Append(browser.NetworkResponse{
		URL: ev.Response.URL, Status: ev.Response.Status, DurationMS: duration,
	})
}

type requestPausedEvent struct {
	RequestID string `json:"requestId"`
	Request   struct {
		URL    string `json:"url"`
		Method string `json:"method"`
	} `json:"request"`
}

// onRequestPaused implements the mock-rule interception of spec.md §5:
// a matching rule fulfills the request with its configured status/body
// after an optional delay; everything else passes through untouched.
func (c *Client) onRequestPaused(params json.RawMessage) {
	var ev requestPausedEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	ctx := context.Background()
	rule, matched := c.mocks.Match(ev.Request.URL)
	if !matched {
		_ = c.conn.Execute(ctx, "Fetch.continueRequest", map[string]string{"requestId": ev.RequestID}, nil)
		return
	}
	if rule.DelayMS > 0 {
		time.Sleep(time.Duration(rule.DelayMS) * time.Millisecond)
	}
	var bodyBytes []byte
	switch b := rule.Body.(type) {
	case string:
		bodyBytes = []byte(b)
	case nil:
		bodyBytes = nil
	default:
		bodyBytes, _ = json.Marshal(b)
	}
	status := rule.Status
	if status == 0 {
		status = 200
	}
	_ = c.conn.Execute(ctx, "Fetch.fulfillRequest", map[string]interface{}{
		"requestId":       ev.RequestID,
		"responseCode":    status,
		"responseHeaders": []map[string]string{{"name": "Content-Type", "value": "application/json"}},
		"body":            base64.StdEncoding.EncodeToString(bodyBytes),
	}, nil)
}

func (c *Client) Navigate(ctx context.Context, target string) error {
	if err := c.conn.Execute(ctx, "Page.navigate", map[string]string{"url": target}, nil); err != nil {
		return err
	}
	return c.waitForLoad(ctx)
}

func (c *Client) waitForLoad(ctx context.Context) error {
	for {
		v, err := c.Evaluate(ctx, "document.readyState")
		if err == nil {
			if s, ok := v.(string); ok && s == "complete" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollIntervalMS * time.Millisecond):
		}
	}
}

type evaluateResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value,omitempty"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

func (c *Client) Evaluate(ctx context.Context, js string) (interface{}, error) {
	var res evaluateResult
	err := c.conn.Execute(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    js,
		"returnByValue": true,
		"awaitPromise":  true,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("evaluate: %s", res.ExceptionDetails.Text)
	}
	if len(res.Result.Value) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(res.Result.Value, &v); err != nil {
		return nil, fmt.Errorf("decoding evaluate result: %w", err)
	}
	return v, nil
}

// el returns a JS expression selecting the first element matching
// selector within the current frame scope.
func (c *Client) el(selector string) string {
	return fmt.Sprintf("%s.querySelector(%s)", c.frameDoc, jsonString(selector))
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (c *Client) Fill(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(`(function(){
		var el = %s;
		if (!el) throw new Error(%s);
		var proto = Object.getPrototypeOf(el);
		var setter = Object.getOwnPropertyDescriptor(proto, 'value');
		if (setter && setter.set) { setter.set.call(el, %s); } else { el.value = %s; }
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, c.el(selector), jsonString("element not found: "+selector), jsonString(value), jsonString(value))
	_, err := c.Evaluate(ctx, js)
	return err
}

func (c *Client) Click(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(function(){ var el = %s; if (!el) throw new Error(%s); el.scrollIntoView({block:'center'}); el.click(); })()`,
		c.el(selector), jsonString("element not found: "+selector))
	_, err := c.Evaluate(ctx, js)
	return err
}

func (c *Client) Select(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(`(function(){
		var el = %s;
		if (!el) throw new Error(%s);
		el.value = %s;
		el.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, c.el(selector), jsonString("element not found: "+selector), jsonString(value))
	_, err := c.Evaluate(ctx, js)
	return err
}

func (c *Client) PressKey(ctx context.Context, key string, modifiers ...string) error {
	js := fmt.Sprintf(`(function(){
		var el = %s.activeElement || %s.body;
		var opts = {key: %s, bubbles: true, cancelable: true};
		el.dispatchEvent(new KeyboardEvent('keydown', opts));
		el.dispatchEvent(new KeyboardEvent('keypress', opts));
		el.dispatchEvent(new KeyboardEvent('keyup', opts));
		if (%s === 'Enter' && el.form) { el.form.requestSubmit ? el.form.requestSubmit() : el.form.submit(); }
	})()`, c.frameDoc, c.frameDoc, jsonString(key), jsonString(key))
	_, err := c.Evaluate(ctx, js)
	return err
}

func (c *Client) Hover(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(function(){
		var el = %s;
		if (!el) throw new Error(%s);
		el.scrollIntoView({block:'center'});
		el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
		el.dispatchEvent(new MouseEvent('mouseenter', {bubbles: true}));
	})()`, c.el(selector), jsonString("element not found: "+selector))
	_, err := c.Evaluate(ctx, js)
	return err
}

// SwitchFrame re-scopes every subsequent selector-based capability to an
// iframe's content document by selector, or back to the top document
// when selector is empty. This is a same-origin content-document
// handle rather than a true CDP execution-context switch, since the
// teacher's per-frame session bookkeeping (common/frame.go) was not
// available to ground against (see DESIGN.md).
func (c *Client) SwitchFrame(ctx context.Context, selector string) error {
	if selector == "" {
		c.frameDoc = "document"
		return nil
	}
	candidate := fmt.Sprintf("document.querySelector(%s).contentDocument", jsonString(selector))
	if _, err := c.Evaluate(ctx, candidate); err != nil {
		return fmt.Errorf("switching to frame %q: %w", selector, err)
	}
	c.frameDoc = candidate
	return nil
}

func (c *Client) HandleDialog(ctx context.Context, action browser.DialogAction, text string) error {
	params := map[string]interface{}{"accept": action == browser.DialogAccept}
	if text != "" {
		params["promptText"] = text
	}
	return c.conn.Execute(ctx, "Page.handleJavaScriptDialog", params, nil)
}

func (c *Client) GetConsoleMessages(ctx context.Context) ([]browser.ConsoleMessage, error) {
	return c.console.All(), nil
}

func (c *Client) GetNetworkResponses(ctx context.Context) ([]browser.NetworkResponse, error) {
	return c.network.All(), nil
}

func (c *Client) GetDOMSnapshot(ctx context.Context) (string, error) {
	v, err := c.Evaluate(ctx, "document.documentElement.outerHTML")
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

type captureScreenshotResult struct {
	Data string `json:"data"`
}

func (c *Client) CaptureScreenshot(ctx context.Context) (string, error) {
	var res captureScreenshotResult
	if err := c.conn.Execute(ctx, "Page.captureScreenshot", map[string]string{"format": "png"}, &res); err != nil {
		return "", err
	}
	return res.Data, nil
}

func (c *Client) AddMockRule(ctx context.Context, rule browser.MockRule) error {
	c.mocks.Register(rule)
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	if c.target.ID != "" {
		_ = closePage(ctx, c.proc.HTTPAddr(), c.target.ID)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.proc != nil {
		return c.proc.Close()
	}
	return nil
}

var _ browser.Client = (*Client)(nil)
