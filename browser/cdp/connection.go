package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// envelope is the CDP JSON-RPC wire frame: a command carries id+method
// (+params); a reply carries the same id with result or error; an event
// carries method(+params) and no id.
type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message) }

// Connection is a single websocket JSON-RPC session against one CDP
// target (a page, in this engine's case — see discovery.go). It is a
// hand-rolled analogue of the teacher's filtered-out common/connection.go:
// a write-locked command dispatcher keyed by id, plus a read pump that
// routes events to registered handlers.
type Connection struct {
	ws      *websocket.Conn
	nextID  int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan envelope
	closed  bool

	handlersMu sync.RWMutex
	handlers   map[string][]func(json.RawMessage)

	done chan struct{}
}

// Dial opens a websocket connection to a CDP target's debugger URL.
func Dial(ctx context.Context, wsURL string) (*Connection, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("parsing debugger url %q: %w", wsURL, err)
	}
	dialer := websocket.Dialer{}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	c := &Connection{
		ws:       ws,
		pending:  make(map[int64]chan envelope),
		handlers: make(map[string][]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// On registers a handler invoked (in its own goroutine) every time an
// event named method arrives.
func (c *Connection) On(method string, handler func(params json.RawMessage)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = append(c.handlers[method], handler)
}

func (c *Connection) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.failAllPending(err)
			return
		}
		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}
		if msg.Method == "" {
			continue
		}
		c.handlersMu.RLock()
		hs := append([]func(json.RawMessage){}, c.handlers[msg.Method]...)
		c.handlersMu.RUnlock()
		for _, h := range hs {
			go h(msg.Params)
		}
	}
}

func (c *Connection) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- envelope{ID: id, Error: &rpcError{Message: err.Error()}}
		delete(c.pending, id)
	}
}

// Execute sends a CDP command and blocks until its reply arrives, ctx is
// canceled, or the connection closes. result, if non-nil, receives the
// reply's "result" payload.
func (c *Connection) Execute(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := atomic.AddInt64(&c.nextID, 1)

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		rawParams = b
	}

	ch := make(chan envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	frame := envelope{ID: id, Method: method, Params: rawParams}
	b, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling %s command: %w", method, err)
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("writing %s command: %w", method, err)
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return reply.Error
		}
		if result != nil && len(reply.Result) > 0 {
			if err := json.Unmarshal(reply.Result, result); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed while waiting for %s", method)
	}
}

// Close closes the underlying websocket.
func (c *Connection) Close() error {
	return c.ws.Close()
}

// httpGetJSON is a small helper discovery.go uses to talk to the
// browser's plain-HTTP DevTools endpoint (e.g. GET /json/new).
func httpGetJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
