// Package evidence holds the buffers and registries the interpreter reads
// from while executing steps: buffered console messages, buffered network
// responses, and the mock-rule interception table (spec.md §4.2, §5).
// These are the contract-level collaborators a browser.Client
// implementation populates; the engine itself only ever takes snapshots.
package evidence

import (
	"path"
	"regexp"
	"sync"

	"github.com/stepforge/engine/browser"
)

// ConsoleBuffer is an append-only, snapshot-readable buffer of console
// messages, guarded by a mutex the way common/browser.go guards its
// pages/contexts maps — an append-mostly structure under concurrent
// producer (CDP pump) / consumer (step handler) access needs nothing
// fancier than sync.RWMutex.
type ConsoleBuffer struct {
	mu   sync.RWMutex
	msgs []browser.ConsoleMessage
}

// Append adds a message to the buffer.
func (b *ConsoleBuffer) Append(msg browser.ConsoleMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

// Snapshot returns every message buffered up to and including asOf
// (unix millis). A step handler calling this at its own start time sees
// everything captured before it, per spec.md §5's ordering guarantee.
func (b *ConsoleBuffer) Snapshot(asOf int64) []browser.ConsoleMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]browser.ConsoleMessage, 0, len(b.msgs))
	for _, m := range b.msgs {
		if asOf == 0 || m.Timestamp <= asOf {
			out = append(out, m)
		}
	}
	return out
}

// All returns every buffered message regardless of timestamp.
func (b *ConsoleBuffer) All() []browser.ConsoleMessage {
	return b.Snapshot(0)
}

// Clear empties the buffer.
func (b *ConsoleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = nil
}

// NetworkBuffer is the network-response analogue of ConsoleBuffer.
type NetworkBuffer struct {
	mu    sync.RWMutex
	resps []browser.NetworkResponse
}

// Append adds a response to the buffer.
func (b *NetworkBuffer) Append(resp browser.NetworkResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resps = append(b.resps, resp)
}

// All returns every buffered response.
func (b *NetworkBuffer) All() []browser.NetworkResponse {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]browser.NetworkResponse, len(b.resps))
	copy(out, b.resps)
	return out
}

// Clear empties the buffer.
func (b *NetworkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resps = nil
}

// MockRegistry is the shared mock-rule table described in spec.md §5:
// mutated only inside `before` steps by convention (enforced by
// validate.go), read on every intercepted request, first-match-wins by
// insertion order.
type MockRegistry struct {
	mu    sync.RWMutex
	rules []browser.MockRule
}

// Register appends a rule to the end of the table.
func (r *MockRegistry) Register(rule browser.MockRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
}

// Match returns the first registered rule whose glob matches url, and
// whether a match was found.
func (r *MockRegistry) Match(url string) (browser.MockRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if globMatch(rule.Match, url) {
			return rule, true
		}
	}
	return browser.MockRule{}, false
}

// Rules returns every registered rule, in insertion order.
func (r *MockRegistry) Rules() []browser.MockRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]browser.MockRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// globMatch reports whether url matches the glob pattern. path.Match
// handles single-segment '*' but mock patterns commonly span path
// separators (e.g. "https://api.example.com/**"), so '**' is translated to
// ".*" and matched with regexp; a plain '*' keeps path.Match's semantics by
// being translated to "[^/]*".
func globMatch(pattern, url string) bool {
	if !containsMeta(pattern) {
		return pattern == url
	}
	if ok, err := path.Match(pattern, url); err == nil && ok {
		return true
	}
	re := globToRegexp(pattern)
	matched, _ := regexp.MatchString(re, url)
	return matched
}

func containsMeta(pattern string) bool {
	for _, r := range pattern {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

func globToRegexp(pattern string) string {
	var b []byte
	b = append(b, '^')
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch {
		case c == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			b = append(b, '.', '*')
			i += 2
		case c == '*':
			b = append(b, '[', '^', '/', ']', '*')
			i++
		case c == '?':
			b = append(b, '.')
			i++
		case regexp.QuoteMeta(string(c)) != string(c):
			b = append(b, []byte(regexp.QuoteMeta(string(c)))...)
			i++
		default:
			b = append(b, c)
			i++
		}
	}
	b = append(b, '$')
	return string(b)
}
