package interp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepforge/engine/browser"
)

// SyncVarsMirror pushes the current vars map to the page-side
// window.__cdp_vars global, so JS expressions written by the user
// (eval/assert/if) can reference $vars-bound values directly, per
// spec.md §4.1 and §9's "cross-process vars mirror" note: the page is the
// source of truth for JS expressions, the engine map is the source of
// truth for string interpolation, and sync only ever flows engine→page.
func SyncVarsMirror(ctx context.Context, client browser.Client, vars map[string]interface{}) error {
	payload, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal vars mirror: %w", err)
	}
	js := fmt.Sprintf("window.__cdp_vars = Object.assign(window.__cdp_vars || {}, %s);", string(payload))
	_, err = client.Evaluate(ctx, js)
	return err
}

// PublishArray publishes a full array to the browser-side mirror under
// <as>__array, per spec.md §4.3's loop.over semantics (published once per
// loop entry, not per iteration).
func PublishArray(ctx context.Context, client browser.Client, as string, items []interface{}) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal loop array: %w", err)
	}
	js := fmt.Sprintf("window.__cdp_vars = Object.assign(window.__cdp_vars || {}, {%q: %s});", as+"__array", string(payload))
	_, err = client.Evaluate(ctx, js)
	return err
}
