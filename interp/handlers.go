package interp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/stepforge/engine/browser"
	"github.com/stepforge/engine/lib"
)

// defaultRegistry builds the handler table every Interpreter starts with,
// grounded on spec.md §4.2's per-kind contract table. loop and run_test
// close over it (controlflow.go) to recurse back into RunSteps.
func defaultRegistry(it *Interpreter) map[string]Handler {
	reg := map[string]Handler{
		"eval":               handleEval,
		"fill":               handleFill,
		"clear_input":        handleClearInput,
		"fill_form":          handleFillForm,
		"type":               handleType,
		"scan_input":         handleScanInput,
		"click":              handleClick,
		"hover":              handleHover,
		"select":             handleSelect,
		"press_key":          handlePressKey,
		"switch_frame":       handleSwitchFrame,
		"handle_dialog":      handleHandleDialog,
		"screenshot":         handleScreenshot,
		"scroll_to":          handleScrollTo,
		"wait":               handleWait,
		"wait_for":           handleWaitFor,
		"wait_for_text":      handleWaitForText(false),
		"wait_for_text_gone": handleWaitForText(true),
		"assert":             handleAssert,
		"assert_text":        handleAssertText,
		"click_text":         handleClickText,
		"click_nth":          handleClickNth,
		"choose_dropdown":    handleChooseDropdown,
		"expand_menu":        handleExpandMenu,
		"toggle":             handleToggle,
		"close_modal":        handleCloseModal,
		"console_check":      handleConsoleCheck,
		"network_check":      handleNetworkCheck,
		"mock_network":       handleMockNetwork,
		"http_request":       handleHTTPRequest,
	}
	reg["loop"] = loopHandler(it)
	reg["run_test"] = runTestHandler(it)
	return reg
}

// handleEval evaluates `step.eval` in the page context; binding to `as` is
// handled generically by dispatchOne.
func handleEval(sc *StepCtx) Outcome {
	expr, ok, err := sc.Str("eval")
	if err != nil {
		return fail(KindStepValidation, "decoding eval: %v", err)
	}
	if !ok {
		return fail(KindStepValidation, "eval step missing `eval` field")
	}
	v, err := sc.Client.Evaluate(context.Background(), expr)
	if err != nil {
		return fail(KindBrowserTransport, "eval %q: %v", expr, err)
	}
	return succeed(v)
}

func handleFill(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	value, _, err := sc.Str("value")
	if err != nil {
		return fail(KindStepValidation, "decoding value: %v", err)
	}
	if err := sc.Client.Fill(context.Background(), selector, value); err != nil {
		return fail(KindBrowserTransport, "fill %q: %v", selector, err)
	}
	return succeed(nil)
}

func handleClearInput(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	if err := sc.Client.Fill(context.Background(), selector, ""); err != nil {
		return fail(KindBrowserTransport, "clear_input %q: %v", selector, err)
	}
	return succeed(nil)
}

type formField struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

func handleFillForm(sc *StepCtx) Outcome {
	var fields []formField
	ok, err := sc.Raw("fields", &fields)
	if err != nil {
		return fail(KindStepValidation, "decoding fields: %v", err)
	}
	if !ok {
		return fail(KindStepValidation, "fill_form step missing `fields`")
	}
	scopes := sc.scopes()
	for i, f := range fields {
		selector := Interpolate(f.Selector, scopes, nil)
		value := Interpolate(f.Value, scopes, nil)
		if err := sc.Client.Fill(context.Background(), selector, value); err != nil {
			return fail(KindBrowserTransport, "fill_form field %d (%s): %v", i, selector, err)
		}
	}
	return succeed(nil)
}

func handleType(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	text, _, err := sc.Str("text")
	if err != nil {
		return fail(KindStepValidation, "decoding text: %v", err)
	}
	clearFirst, _, _ := sc.Bool("clear")
	delayMS, hasDelay, _ := sc.Int64("delay")
	if !hasDelay || delayMS <= 0 {
		delayMS = 50
	}
	ctx := context.Background()
	if clearFirst {
		if err := sc.Client.Fill(ctx, selector, ""); err != nil {
			return fail(KindBrowserTransport, "type clear %q: %v", selector, err)
		}
	}
	built := ""
	for _, r := range text {
		built += string(r)
		if err := sc.Client.Fill(ctx, selector, built); err != nil {
			return fail(KindBrowserTransport, "type %q: %v", selector, err)
		}
		time.Sleep(time.Duration(delayMS) * time.Millisecond)
	}
	return succeed(nil)
}

func handleScanInput(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	value, _, err := sc.Str("value")
	if err != nil {
		return fail(KindStepValidation, "decoding value: %v", err)
	}
	ctx := context.Background()
	if err := sc.Client.Fill(ctx, selector, value); err != nil {
		return fail(KindBrowserTransport, "scan_input fill %q: %v", selector, err)
	}
	if err := sc.Client.PressKey(ctx, "Enter"); err != nil {
		return fail(KindBrowserTransport, "scan_input enter: %v", err)
	}
	return succeed(nil)
}

func handleClick(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	if err := sc.Client.Click(context.Background(), selector); err != nil {
		return fail(KindBrowserTransport, "click %q: %v", selector, err)
	}
	return succeed(nil)
}

func handleHover(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	if err := sc.Client.Hover(context.Background(), selector); err != nil {
		return fail(KindBrowserTransport, "hover %q: %v", selector, err)
	}
	return succeed(nil)
}

func handleSelect(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	value, _, err := sc.Str("value")
	if err != nil {
		return fail(KindStepValidation, "decoding value: %v", err)
	}
	if err := sc.Client.Select(context.Background(), selector, value); err != nil {
		return fail(KindBrowserTransport, "select %q: %v", selector, err)
	}
	return succeed(nil)
}

func handlePressKey(sc *StepCtx) Outcome {
	key, ok, err := sc.Str("press_key")
	if err != nil {
		return fail(KindStepValidation, "decoding press_key: %v", err)
	}
	if !ok {
		key, _, err = sc.Str("key")
		if err != nil {
			return fail(KindStepValidation, "decoding key: %v", err)
		}
	}
	mods, _, err := sc.StrSlice("modifiers")
	if err != nil {
		return fail(KindStepValidation, "decoding modifiers: %v", err)
	}
	if err := sc.Client.PressKey(context.Background(), key, mods...); err != nil {
		return fail(KindBrowserTransport, "press_key %q: %v", key, err)
	}
	return succeed(nil)
}

func handleSwitchFrame(sc *StepCtx) Outcome {
	selector, ok, err := sc.Str("switch_frame")
	if err != nil {
		return fail(KindStepValidation, "decoding switch_frame: %v", err)
	}
	if !ok {
		selector, _, err = sc.Str("selector")
		if err != nil {
			return fail(KindStepValidation, "decoding selector: %v", err)
		}
	}
	if err := sc.Client.SwitchFrame(context.Background(), selector); err != nil {
		return fail(KindBrowserTransport, "switch_frame %q: %v", selector, err)
	}
	return succeed(nil)
}

func handleHandleDialog(sc *StepCtx) Outcome {
	action, _, err := sc.Str("action")
	if err != nil {
		return fail(KindStepValidation, "decoding action: %v", err)
	}
	text, _, err := sc.Str("text")
	if err != nil {
		return fail(KindStepValidation, "decoding text: %v", err)
	}
	da := browser.DialogAccept
	if action == string(browser.DialogDismiss) {
		da = browser.DialogDismiss
	}
	if err := sc.Client.HandleDialog(context.Background(), da, text); err != nil {
		return fail(KindBrowserTransport, "handle_dialog: %v", err)
	}
	return succeed(nil)
}

func handleScreenshot(sc *StepCtx) Outcome {
	b64, err := sc.Client.CaptureScreenshot(context.Background())
	if err != nil {
		return fail(KindBrowserTransport, "screenshot: %v", err)
	}
	return succeed(b64)
}

func handleScrollTo(sc *StepCtx) Outcome {
	selector, ok, err := sc.Str("scroll_to")
	if err != nil {
		return fail(KindStepValidation, "decoding scroll_to: %v", err)
	}
	if !ok {
		selector, _, err = sc.Str("selector")
		if err != nil {
			return fail(KindStepValidation, "decoding selector: %v", err)
		}
	}
	js := fmt.Sprintf("(function(){var el=document.querySelector(%s); if(!el) throw new Error('element not found'); el.scrollIntoView({behavior:'smooth',block:'center'}); return true;})()", jsonQuote(selector))
	if _, err := sc.Client.Evaluate(context.Background(), js); err != nil {
		return fail(KindBrowserTransport, "scroll_to %q: %v", selector, err)
	}
	return succeed(nil)
}

func handleWait(sc *StepCtx) Outcome {
	ms, ok, err := sc.Int64("wait")
	if err != nil {
		return fail(KindStepValidation, "decoding wait: %v", err)
	}
	if !ok {
		ms, _, err = sc.Int64("ms")
		if err != nil {
			return fail(KindStepValidation, "decoding ms: %v", err)
		}
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return succeed(nil)
}

const pollIntervalMS = 200

func handleWaitFor(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	timeoutMS, ok, err := sc.Int64("timeout")
	if err != nil {
		return fail(KindStepValidation, "decoding timeout: %v", err)
	}
	if !ok || timeoutMS <= 0 {
		timeoutMS = 5000
	}
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	js := fmt.Sprintf("!!document.querySelector(%s)", jsonQuote(selector))
	for {
		v, err := sc.Client.Evaluate(context.Background(), js)
		if err == nil && truthy(v) {
			return succeed(nil)
		}
		if time.Now().After(deadline) {
			return fail(KindStepTimeout, TimeoutMessage(timeoutMS))
		}
		time.Sleep(pollIntervalMS * time.Millisecond)
	}
}

// handleWaitForText returns wait_for_text (gone=false) or wait_for_text_gone
// (gone=true), since their only difference is the truth test polarity.
func handleWaitForText(gone bool) Handler {
	return func(sc *StepCtx) Outcome {
		text, _, err := sc.Str("text")
		if err != nil {
			return fail(KindStepValidation, "decoding text: %v", err)
		}
		selector, _, err := sc.Str("selector")
		if err != nil {
			return fail(KindStepValidation, "decoding selector: %v", err)
		}
		mode, err := matchModeOf(sc)
		if err != nil {
			return fail(KindStepValidation, "%v", err)
		}
		timeoutMS, ok, err := sc.Int64("timeout")
		if err != nil {
			return fail(KindStepValidation, "decoding timeout: %v", err)
		}
		if !ok || timeoutMS <= 0 {
			timeoutMS = 5000
		}
		deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
		scopeExpr := "document.body"
		if selector != "" {
			scopeExpr = fmt.Sprintf("document.querySelector(%s)", jsonQuote(selector))
		}
		js := fmt.Sprintf("(function(){var s=%s; return s ? s.innerText : '';})()", scopeExpr)
		for {
			v, err := sc.Client.Evaluate(context.Background(), js)
			if err == nil {
				present := matchText(fmt.Sprintf("%v", v), text, mode)
				if present != gone {
					return succeed(nil)
				}
			}
			if time.Now().After(deadline) {
				return fail(KindStepTimeout, TimeoutMessage(timeoutMS))
			}
			time.Sleep(pollIntervalMS * time.Millisecond)
		}
	}
}

func handleAssert(sc *StepCtx) Outcome {
	expr, ok, err := sc.Str("assert")
	if err != nil {
		return fail(KindStepValidation, "decoding assert: %v", err)
	}
	if !ok {
		return fail(KindStepValidation, "assert step missing `assert` field")
	}
	var retry lib.Retry
	hasRetry, err := sc.Raw("retry", &retry)
	if err != nil {
		return fail(KindStepValidation, "decoding retry: %v", err)
	}
	ctx := context.Background()
	if !hasRetry || retry.TimeoutMS <= 0 {
		v, err := sc.Client.Evaluate(ctx, expr)
		if err != nil {
			return fail(KindAssertionFailure, "%v", err)
		}
		if !truthy(v) {
			return fail(KindAssertionFailure, "%s", expr)
		}
		return succeed(nil)
	}

	interval := time.Duration(retry.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = pollIntervalMS * time.Millisecond
	}
	deadline := time.Now().Add(time.Duration(retry.TimeoutMS) * time.Millisecond)
	var lastErr error
	for {
		v, err := sc.Client.Evaluate(ctx, expr)
		if err == nil && truthy(v) {
			return succeed(nil)
		}
		lastErr = err
		if time.Now().After(deadline) {
			if lastErr != nil {
				return fail(KindAssertionFailure, "%v", lastErr)
			}
			return fail(KindAssertionFailure, "%s", expr)
		}
		time.Sleep(interval)
	}
}

func matchModeOf(sc *StepCtx) (lib.MatchMode, error) {
	m, ok, err := sc.Str("match")
	if err != nil {
		return "", err
	}
	if !ok || m == "" {
		return lib.MatchContains, nil
	}
	return lib.MatchMode(m), nil
}

func matchText(haystack, needle string, mode lib.MatchMode) bool {
	switch mode {
	case lib.MatchExact:
		return haystack == needle
	case lib.MatchRegex:
		re, err := regexp.Compile(needle)
		if err != nil {
			return false
		}
		return re.MatchString(haystack)
	default:
		return strings.Contains(haystack, needle)
	}
}

func handleAssertText(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	text, _, err := sc.Str("text")
	if err != nil {
		return fail(KindStepValidation, "decoding text: %v", err)
	}
	absent, _, err := sc.Bool("absent")
	if err != nil {
		return fail(KindStepValidation, "decoding absent: %v", err)
	}
	mode, err := matchModeOf(sc)
	if err != nil {
		return fail(KindStepValidation, "%v", err)
	}
	var retry lib.Retry
	hasRetry, err := sc.Raw("retry", &retry)
	if err != nil {
		return fail(KindStepValidation, "decoding retry: %v", err)
	}

	scopeExpr := "document.body"
	if selector != "" {
		scopeExpr = fmt.Sprintf("document.querySelector(%s)", jsonQuote(selector))
	}
	js := fmt.Sprintf("(function(){var s=%s; return s ? s.innerText : '';})()", scopeExpr)
	ctx := context.Background()

	check := func() (bool, error) {
		v, err := sc.Client.Evaluate(ctx, js)
		if err != nil {
			return false, err
		}
		present := matchText(fmt.Sprintf("%v", v), text, mode)
		want := !absent
		return present == want, nil
	}

	if !hasRetry || retry.TimeoutMS <= 0 {
		okNow, err := check()
		if err != nil {
			return fail(KindAssertionFailure, "%v", err)
		}
		if !okNow {
			return fail(KindAssertionFailure, "assert_text %q against %q", text, selector)
		}
		return succeed(nil)
	}

	interval := time.Duration(retry.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = pollIntervalMS * time.Millisecond
	}
	deadline := time.Now().Add(time.Duration(retry.TimeoutMS) * time.Millisecond)
	for {
		okNow, err := check()
		if err == nil && okNow {
			return succeed(nil)
		}
		if time.Now().After(deadline) {
			return fail(KindAssertionFailure, "assert_text %q against %q", text, selector)
		}
		time.Sleep(interval)
	}
}

func handleClickText(sc *StepCtx) Outcome {
	return clickTextAt(sc, 0)
}

func handleClickNth(sc *StepCtx) Outcome {
	idx, _, err := sc.Int64("index")
	if err != nil {
		return fail(KindStepValidation, "decoding index: %v", err)
	}
	return clickTextAt(sc, int(idx))
}

func clickTextAt(sc *StepCtx, index int) Outcome {
	text, _, err := sc.Str("text")
	if err != nil {
		return fail(KindStepValidation, "decoding text: %v", err)
	}
	scope, _, err := sc.Str("scope")
	if err != nil {
		return fail(KindStepValidation, "decoding scope: %v", err)
	}
	mode, err := matchModeOf(sc)
	if err != nil {
		return fail(KindStepValidation, "%v", err)
	}
	rootExpr := "document.body"
	if scope != "" {
		rootExpr = fmt.Sprintf("document.querySelector(%s)", jsonQuote(scope))
	}
	js := fmt.Sprintf(`(function(){
		var root=%s; if(!root) return -1;
		var mode=%s, needle=%s, idx=%d, matched=0;
		var nodes=root.querySelectorAll('*');
		for (var i=0;i<nodes.length;i++){
			var t=(nodes[i].innerText||'').trim();
			var hit=false;
			if (mode==='exact') hit = t===needle;
			else if (mode==='regex') hit = new RegExp(needle).test(t);
			else hit = t.indexOf(needle)>=0;
			if (hit){ if (matched===idx){ nodes[i].click(); return matched; } matched++; }
		}
		return -1;
	})()`, rootExpr, jsonQuote(string(mode)), jsonQuote(text), index)
	v, err := sc.Client.Evaluate(context.Background(), js)
	if err != nil {
		return fail(KindBrowserTransport, "click_text: %v", err)
	}
	if n, isNum := v.(float64); isNum && n >= 0 {
		return succeed(nil)
	}
	return fail(KindAssertionFailure, "element not found: no element matching text %q at index %d", text, index)
}

func handleChooseDropdown(sc *StepCtx) Outcome {
	selector, _, err := sc.Str("selector")
	if err != nil {
		return fail(KindStepValidation, "decoding selector: %v", err)
	}
	text, _, err := sc.Str("text")
	if err != nil {
		return fail(KindStepValidation, "decoding text: %v", err)
	}
	mode, err := matchModeOf(sc)
	if err != nil {
		return fail(KindStepValidation, "%v", err)
	}
	deadlineMS, ok, err := sc.Int64("timeout")
	if err != nil {
		return fail(KindStepValidation, "decoding timeout: %v", err)
	}
	if !ok || deadlineMS <= 0 {
		deadlineMS = 3000
	}
	ctx := context.Background()
	if err := sc.Client.Click(ctx, selector); err != nil {
		return fail(KindBrowserTransport, "choose_dropdown open %q: %v", selector, err)
	}
	deadline := time.Now().Add(time.Duration(deadlineMS) * time.Millisecond)
	js := fmt.Sprintf(`(function(){
		var mode=%s, needle=%s;
		var opts=document.querySelectorAll('[role=menuitem],[role=option]');
		for (var i=0;i<opts.length;i++){
			var t=(opts[i].innerText||'').trim();
			var hit=false;
			if (mode==='exact') hit = t===needle;
			else if (mode==='regex') hit = new RegExp(needle).test(t);
			else hit = t.indexOf(needle)>=0;
			if (hit){ opts[i].click(); return true; }
		}
		return false;
	})()`, jsonQuote(string(mode)), jsonQuote(text))
	for {
		v, err := sc.Client.Evaluate(ctx, js)
		if err == nil && truthy(v) {
			return succeed(nil)
		}
		if time.Now().After(deadline) {
			return fail(KindStepTimeout, "choose_dropdown: no option matching %q", text)
		}
		time.Sleep(pollIntervalMS * time.Millisecond)
	}
}

func handleExpandMenu(sc *StepCtx) Outcome {
	group, _, err := sc.Str("group")
	if err != nil {
		return fail(KindStepValidation, "decoding group: %v", err)
	}
	js := fmt.Sprintf(`(function(){
		var needle=%s;
		var collapsed = document.querySelector('[aria-label$=", collapsed"]');
		var all = document.querySelectorAll('[aria-label]');
		for (var i=0;i<all.length;i++){
			var lbl = all[i].getAttribute('aria-label')||'';
			if (lbl.indexOf(needle)===0 && lbl.slice(-11)===', collapsed'){ all[i].click(); return 'expanded'; }
			if (lbl.indexOf(needle)===0 && lbl.slice(-10)===', expanded'){ return 'already'; }
		}
		return 'missing';
	})()`, jsonQuote(group))
	v, err := sc.Client.Evaluate(context.Background(), js)
	if err != nil {
		return fail(KindBrowserTransport, "expand_menu: %v", err)
	}
	switch fmt.Sprintf("%v", v) {
	case "expanded", "already":
		return succeed(nil)
	default:
		return fail(KindAssertionFailure, "expand_menu: group %q not found", group)
	}
}

func handleToggle(sc *StepCtx) Outcome {
	label, _, err := sc.Str("label")
	if err != nil {
		return fail(KindStepValidation, "decoding label: %v", err)
	}
	var desiredState *bool
	if state, has, err := sc.Bool("state"); err != nil {
		return fail(KindStepValidation, "decoding state: %v", err)
	} else if has {
		desiredState = &state
	}
	js := fmt.Sprintf(`(function(){
		var labels=document.querySelectorAll('label');
		for (var i=0;i<labels.length;i++){
			if ((labels[i].innerText||'').indexOf(%s)>=0){
				var ctrl=null;
				var f=labels[i].getAttribute('for');
				if (f) ctrl=document.getElementById(f);
				if (!ctrl) ctrl=labels[i].querySelector('input,[role=switch],[role=checkbox]');
				if (!ctrl) continue;
				var checked = ctrl.checked!==undefined ? !!ctrl.checked : ctrl.getAttribute('aria-checked')==='true';
				return JSON.stringify({found:true, checked:checked});
			}
		}
		return JSON.stringify({found:false});
	})()`, jsonQuote(label))
	v, err := sc.Client.Evaluate(context.Background(), js)
	if err != nil {
		return fail(KindBrowserTransport, "toggle: %v", err)
	}
	var decoded struct {
		Found   bool `json:"found"`
		Checked bool `json:"checked"`
	}
	if s, isStr := v.(string); isStr {
		_ = json.Unmarshal([]byte(s), &decoded)
	}
	if !decoded.Found {
		return fail(KindAssertionFailure, "toggle: no label matching %q", label)
	}
	if desiredState != nil && decoded.Checked == *desiredState {
		return succeed(nil)
	}
	clickJS := fmt.Sprintf(`(function(){
		var labels=document.querySelectorAll('label');
		for (var i=0;i<labels.length;i++){
			if ((labels[i].innerText||'').indexOf(%s)>=0){
				var ctrl=null;
				var f=labels[i].getAttribute('for');
				if (f) ctrl=document.getElementById(f);
				if (!ctrl) ctrl=labels[i].querySelector('input,[role=switch],[role=checkbox]');
				if (ctrl) ctrl.click();
				return true;
			}
		}
		return false;
	})()`, jsonQuote(label))
	if _, err := sc.Client.Evaluate(context.Background(), clickJS); err != nil {
		return fail(KindBrowserTransport, "toggle click: %v", err)
	}
	return succeed(nil)
}

var closeModalButtonSelectors = []string{
	`[aria-label="Close modal"]`,
	`[aria-label="Close"]`,
	`.close-button`,
	`button.close`,
	`[data-dismiss="modal"]`,
}

func handleCloseModal(sc *StepCtx) Outcome {
	strategy, _, err := sc.Str("strategy")
	if err != nil {
		return fail(KindStepValidation, "decoding strategy: %v", err)
	}
	ctx := context.Background()
	switch strategy {
	case "button":
		return closeModalByButton(sc, ctx)
	case "escape":
		if err := sc.Client.PressKey(ctx, "Escape"); err != nil {
			return fail(KindBrowserTransport, "close_modal escape: %v", err)
		}
		return succeed(nil)
	case "backdrop":
		return closeModalByBackdrop(sc, ctx)
	default:
		if out := closeModalByButton(sc, ctx); out.Success {
			return out
		}
		if err := sc.Client.PressKey(ctx, "Escape"); err != nil {
			return fail(KindBrowserTransport, "close_modal escape: %v", err)
		}
		return succeed(nil)
	}
}

func closeModalByButton(sc *StepCtx, ctx context.Context) Outcome {
	selectorList := "[" + strings.Join(quoteAll(closeModalButtonSelectors), ",") + "]"
	js := fmt.Sprintf(`(function(){
		var sels=%s;
		for (var i=0;i<sels.length;i++){
			var el=document.querySelector(sels[i]);
			if (el){ el.click(); return true; }
		}
		return false;
	})()`, selectorList)
	v, err := sc.Client.Evaluate(ctx, js)
	if err != nil {
		return fail(KindBrowserTransport, "close_modal button: %v", err)
	}
	if truthy(v) {
		return succeed(nil)
	}
	return fail(KindAssertionFailure, "close_modal: no close button found")
}

func closeModalByBackdrop(sc *StepCtx, ctx context.Context) Outcome {
	js := `(function(){
		var el=document.querySelector('[role=dialog]') || document.querySelector('.modal-backdrop');
		if (!el) return false;
		var target = el.classList && el.classList.contains('modal-backdrop') ? el : el.parentElement;
		if (!target) return false;
		target.click();
		return true;
	})()`
	v, err := sc.Client.Evaluate(ctx, js)
	if err != nil {
		return fail(KindBrowserTransport, "close_modal backdrop: %v", err)
	}
	if truthy(v) {
		return succeed(nil)
	}
	return fail(KindAssertionFailure, "close_modal: no dialog/backdrop found")
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = jsonQuote(s)
	}
	return out
}

var consoleLevels = map[string]string{"warn": "warning"}

func handleConsoleCheck(sc *StepCtx) Outcome {
	var levels []string
	_, err := sc.Raw("console_check", &levels)
	if err != nil {
		return fail(KindStepValidation, "decoding console_check: %v", err)
	}
	if len(levels) == 0 {
		if _, err := sc.Raw("levels", &levels); err != nil {
			return fail(KindStepValidation, "decoding levels: %v", err)
		}
	}
	want := map[string]bool{}
	for _, l := range levels {
		if norm, ok := consoleLevels[l]; ok {
			l = norm
		}
		want[l] = true
	}
	msgs, err := sc.Client.GetConsoleMessages(context.Background())
	if err != nil {
		return fail(KindBrowserTransport, "console_check: %v", err)
	}
	for _, m := range msgs {
		level := m.Type
		if norm, ok := consoleLevels[level]; ok {
			level = norm
		}
		if want[level] {
			return fail(KindConsoleCheck, "console message at level %q: %s", level, m.Text)
		}
	}
	return succeed(nil)
}

func handleNetworkCheck(sc *StepCtx) Outcome {
	enabled, _, err := sc.Bool("network_check")
	if err != nil {
		return fail(KindStepValidation, "decoding network_check: %v", err)
	}
	if !enabled {
		return succeed(nil)
	}
	resps, err := sc.Client.GetNetworkResponses(context.Background())
	if err != nil {
		return fail(KindBrowserTransport, "network_check: %v", err)
	}
	for _, r := range resps {
		if r.Status >= 400 {
			return fail(KindNetworkCheck, "response %d from %s %s", r.Status, r.Method, r.URL)
		}
	}
	return succeed(nil)
}

func handleMockNetwork(sc *StepCtx) Outcome {
	var rule struct {
		Match string      `json:"match"`
		Status int        `json:"status"`
		Body   interface{} `json:"body"`
		Delay  int64       `json:"delay"`
	}
	ok, err := sc.Raw("mock_network", &rule)
	if err != nil {
		return fail(KindStepValidation, "decoding mock_network: %v", err)
	}
	if !ok {
		return fail(KindStepValidation, "mock_network step missing payload")
	}
	scopes := sc.scopes()
	match := Interpolate(rule.Match, scopes, nil)
	status := rule.Status
	if status == 0 {
		status = 200
	}
	if err := sc.Client.AddMockRule(context.Background(), browser.MockRule{
		Match:   match,
		Status:  status,
		Body:    rule.Body,
		DelayMS: rule.Delay,
	}); err != nil {
		return fail(KindBrowserTransport, "mock_network: %v", err)
	}
	return succeed(nil)
}

func handleHTTPRequest(sc *StepCtx) Outcome {
	url, _, err := sc.Str("url")
	if err != nil {
		return fail(KindStepValidation, "decoding url: %v", err)
	}
	method, hasMethod, err := sc.Str("method")
	if err != nil {
		return fail(KindStepValidation, "decoding method: %v", err)
	}
	if !hasMethod || method == "" {
		method = http.MethodGet
	}
	var bodyRaw json.RawMessage
	_, err = sc.Raw("body", &bodyRaw)
	if err != nil {
		return fail(KindStepValidation, "decoding body: %v", err)
	}
	var reqBody io.Reader
	if len(bodyRaw) > 0 {
		var asString string
		if err := json.Unmarshal(bodyRaw, &asString); err == nil {
			reqBody = strings.NewReader(Interpolate(asString, sc.scopes(), nil))
		} else {
			reqBody = bytes.NewReader(bodyRaw)
		}
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, reqBody)
	if err != nil {
		return fail(KindStepValidation, "building http_request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var headers map[string]string
	if ok, err := sc.Raw("headers", &headers); err != nil {
		return fail(KindStepValidation, "decoding headers: %v", err)
	} else if ok {
		for k, v := range headers {
			req.Header.Set(k, Interpolate(v, sc.scopes(), nil))
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail(KindBrowserTransport, "http_request %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(KindBrowserTransport, "reading http_request response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(KindAssertionFailure, "http_request %s %s: status %d", method, url, resp.StatusCode)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fail(KindBrowserTransport, "parsing http_request JSON response: %v", err)
		}
		return succeed(parsed)
	}
	return succeed(string(data))
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
