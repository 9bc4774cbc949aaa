// Package fake provides an in-memory browser.Client backed by a goja VM
// standing in for the page's JS context. It exists for interp/runner tests
// that need real expression-evaluation semantics (spec.md §8's concrete
// scenarios rely on assert-retry, conditional guards and loop variables
// behaving like actual JS) without driving a real browser over CDP.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/stepforge/engine/browser"
)

// DOMElement is a minimal in-memory stand-in for a page element, keyed by
// CSS-selector-ish string in Client.elements.
type DOMElement struct {
	Selector string
	Value    string
	Text     string
	Visible  bool
	Clicked  int
	Attrs    map[string]string
}

// Client is a fully in-process implementation of browser.Client. Tests
// construct one directly and seed its VM (SetGlobal) and elements
// (Element) before handing it to the interpreter.
type Client struct {
	mu sync.Mutex

	vm *goja.Runtime

	elements map[string]*DOMElement

	console []browser.ConsoleMessage
	network []browser.NetworkResponse
	mocks   []browser.MockRule

	navigatedTo string
	closed      bool

	// Calls records every capability invocation, in order, for assertions
	// in tests (e.g. scenario 2's "no click is issued").
	Calls []string
}

// New constructs a fake client with an empty page.
func New() *Client {
	c := &Client{
		vm:       goja.New(),
		elements: make(map[string]*DOMElement),
	}
	_ = c.vm.Set("window", map[string]interface{}{})
	return c
}

func (c *Client) record(call string) {
	c.Calls = append(c.Calls, call)
}

// Connect is a no-op for the fake; it is always "connected".
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("connect")
	return nil
}

// Navigate records the destination URL. It does not reset VM state, so
// tests can pre-seed globals that should survive the `before` navigation.
func (c *Client) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("navigate:" + url)
	c.navigatedTo = url
	return nil
}

// NavigatedTo returns the last URL passed to Navigate, for test assertions.
func (c *Client) NavigatedTo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigatedTo
}

// Evaluate runs js against the in-process goja VM standing in for the page.
func (c *Client) Evaluate(ctx context.Context, js string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("evaluate:" + js)
	v, err := c.vm.RunString(js)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", js, err)
	}
	return v.Export(), nil
}

// SetGlobal sets a JS global visible to subsequent Evaluate calls. Used by
// tests to simulate async page state changes (spec.md §8 scenario 3).
func (c *Client) SetGlobal(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.vm.Set(name, value)
}

// SetGlobalAfter flips a global to value after delay, from a background
// goroutine, simulating a page that becomes ready asynchronously.
func (c *Client) SetGlobalAfter(name string, value interface{}, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		c.SetGlobal(name, value)
	}()
}

// Element registers (or replaces) an element for the given selector.
func (c *Client) Element(selector string) *DOMElement {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[selector]
	if !ok {
		el = &DOMElement{Selector: selector, Visible: true, Attrs: map[string]string{}}
		c.elements[selector] = el
	}
	return el
}

func (c *Client) lookup(selector string) (*DOMElement, bool) {
	el, ok := c.elements[selector]
	return el, ok
}

// Fill sets an element's value, mirroring the native-setter + input/change
// event semantics spec.md §4.2 calls for (the fake just records the value;
// the event dispatch is a no-op since there is no real DOM listener).
func (c *Client) Fill(ctx context.Context, selector, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("fill:%s=%s", selector, value))
	el, ok := c.lookup(selector)
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	el.Value = value
	return nil
}

// Click records a click against the selector.
func (c *Client) Click(ctx context.Context, selector string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("click:" + selector)
	el, ok := c.lookup(selector)
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	el.Clicked++
	return nil
}

// Select records a dropdown selection.
func (c *Client) Select(ctx context.Context, selector, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("select:%s=%s", selector, value))
	el, ok := c.lookup(selector)
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	el.Value = value
	return nil
}

// PressKey records a key press.
func (c *Client) PressKey(ctx context.Context, key string, modifiers ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("press_key:" + key + strings.Join(modifiers, "+"))
	return nil
}

// Hover records a hover.
func (c *Client) Hover(ctx context.Context, selector string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("hover:" + selector)
	if _, ok := c.lookup(selector); !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

// SwitchFrame records a frame switch.
func (c *Client) SwitchFrame(ctx context.Context, selector string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("switch_frame:" + selector)
	return nil
}

// HandleDialog records the dialog response.
func (c *Client) HandleDialog(ctx context.Context, action browser.DialogAction, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("handle_dialog:%s:%s", action, text))
	return nil
}

// GetConsoleMessages returns a snapshot of the console buffer.
func (c *Client) GetConsoleMessages(ctx context.Context) ([]browser.ConsoleMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.ConsoleMessage, len(c.console))
	copy(out, c.console)
	return out, nil
}

// PushConsole appends a console message for tests to simulate page logging.
func (c *Client) PushConsole(typ, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.console = append(c.console, browser.ConsoleMessage{Type: typ, Text: text, Timestamp: time.Now().UnixMilli()})
}

// GetNetworkResponses returns a snapshot of the network buffer.
func (c *Client) GetNetworkResponses(ctx context.Context) ([]browser.NetworkResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.NetworkResponse, len(c.network))
	copy(out, c.network)
	return out, nil
}

// PushNetwork appends a network response for tests to simulate traffic.
func (c *Client) PushNetwork(resp browser.NetworkResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.network = append(c.network, resp)
}

// GetDOMSnapshot returns a synthesized snapshot string.
func (c *Client) GetDOMSnapshot(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("dom_snapshot")
	var b strings.Builder
	for sel, el := range c.elements {
		fmt.Fprintf(&b, "<%s value=%q text=%q/>", sel, el.Value, el.Text)
	}
	return b.String(), nil
}

// CaptureScreenshot returns a deterministic placeholder payload.
func (c *Client) CaptureScreenshot(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("screenshot")
	return "ZmFrZS1zY3JlZW5zaG90", nil
}

// AddMockRule registers a rule; first-match-wins is enforced by whatever
// reads Mocks() (the fake itself does not intercept requests).
func (c *Client) AddMockRule(ctx context.Context, rule browser.MockRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("mock_network:" + rule.Match)
	c.mocks = append(c.mocks, rule)
	return nil
}

// Mocks returns the registered mock rules, in registration order.
func (c *Client) Mocks() []browser.MockRule {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.MockRule, len(c.mocks))
	copy(out, c.mocks)
	return out
}

// Close marks the client closed.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("close")
	c.closed = true
	return nil
}

var _ browser.Client = (*Client)(nil)
