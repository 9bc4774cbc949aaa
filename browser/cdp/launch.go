// Package cdp is the real browser.Client implementation: it launches a
// local Chromium/Chrome process, attaches to one page over its own
// Chrome DevTools Protocol websocket, and drives every step-handler
// capability through that connection. Grounded on xk6-browser's
// chromium/allocator.go (process launch, flag building, reading the
// "DevTools listening on" line off stdout) and common/browser.go
// (connect-then-enable-domains lifecycle), generalized from a
// k6-VU-scoped browser to one long-lived process per engine run.
package cdp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// LaunchOptions configures a Process.
type LaunchOptions struct {
	ExecPath string        // overrides exec-path discovery when set
	Headless bool
	Args     map[string]string // extra --flag=value pairs merged over the defaults
	Timeout  time.Duration     // bound on waiting for the DevTools listening line
}

// defaultFlags mirrors chromium/browser_type.go's Launch flag set, trimmed
// to what a headless automation run needs; callers add to it via
// LaunchOptions.Args rather than the engine hardcoding every switch.
func defaultFlags(headless bool) map[string]string {
	return map[string]string{
		"no-first-run":                     "",
		"no-default-browser-check":         "",
		"no-sandbox":                       "",
		"disable-background-networking":    "",
		"disable-background-timer-throttling": "",
		"disable-backgrounding-occluded-windows": "",
		"disable-breakpad":                 "",
		"disable-client-side-phishing-detection": "",
		"disable-default-apps":             "",
		"disable-dev-shm-usage":            "",
		"disable-extensions":               "",
		"disable-hang-monitor":             "",
		"disable-popup-blocking":           "",
		"disable-prompt-on-repost":         "",
		"disable-sync":                     "",
		"metrics-recording-only":           "",
		"safebrowsing-disable-auto-update": "",
		"password-store":                   "basic",
		"use-mock-keychain":                "",
		"remote-debugging-port":            "0",
		"headless":                         fmt.Sprintf("%t", headless),
	}
}

// execCandidates is the search list a findExecPath probes, in order,
// mirroring chromium/allocator.go's findExecPath table.
var execCandidates = []string{
	"headless_shell", "headless-shell", "chromium", "chromium-browser",
	"google-chrome", "google-chrome-stable", "/usr/bin/google-chrome",
	"chrome", "chrome.exe",
}

func findExecPath() string {
	for _, path := range execCandidates {
		if p, err := exec.LookPath(path); err == nil {
			return p
		}
	}
	return "google-chrome"
}

// Process is a running browser with its DevTools HTTP endpoint resolved.
type Process struct {
	cmd         *exec.Cmd
	userDataDir string
	httpAddr    string // host:port, e.g. "127.0.0.1:41223"

	wg sync.WaitGroup
}

// Launch starts a new browser process and waits for its DevTools
// endpoint to come up, per chromium/allocator.go's Allocate.
func Launch(ctx context.Context, opts LaunchOptions) (*Process, error) {
	execPath := opts.ExecPath
	if execPath == "" {
		execPath = findExecPath()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	userDataDir, err := os.MkdirTemp("", "stepforge-browser-data-*")
	if err != nil {
		return nil, fmt.Errorf("creating user data dir: %w", err)
	}

	flags := defaultFlags(opts.Headless)
	for k, v := range opts.Args {
		flags[k] = v
	}
	flags["user-data-dir"] = userDataDir

	args := make([]string, 0, len(flags))
	for name, value := range flags {
		if value == "" {
			args = append(args, "--"+name)
		} else {
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		}
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, execPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("attaching stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("starting browser process %q: %w", execPath, err)
	}

	p := &Process{cmd: cmd, userDataDir: userDataDir}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = cmd.Wait()
		os.RemoveAll(userDataDir)
	}()

	wsURLChan := make(chan string, 1)
	errChan := make(chan error, 1)
	go func() {
		wsURL, err := readListeningLine(stdout)
		if err != nil {
			errChan <- err
			return
		}
		wsURLChan <- wsURL
	}()

	select {
	case wsURL := <-wsURLChan:
		addr, err := httpAddrFromWS(wsURL)
		if err != nil {
			cancel()
			return nil, err
		}
		p.httpAddr = addr
		return p, nil
	case err := <-errChan:
		cancel()
		return nil, err
	case <-time.After(timeout):
		cancel()
		return nil, errors.New("timed out waiting for browser DevTools endpoint")
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// readListeningLine scans the process's combined stdout/stderr for
// chrome's "DevTools listening on <ws url>" announcement, as
// chromium/allocator.go's readOutput does.
func readListeningLine(rc io.Reader) (string, error) {
	prefix := []byte("DevTools listening on")
	var accumulated bytes.Buffer
	bufr := bufio.NewReader(rc)
	for {
		line, err := bufr.ReadBytes('\n')
		if err != nil {
			return "", fmt.Errorf("browser process exited before DevTools was ready:\n%s", accumulated.Bytes())
		}
		if bytes.HasPrefix(line, prefix) {
			return string(bytes.TrimSpace(line[len(prefix):])), nil
		}
		accumulated.Write(line)
	}
}

func httpAddrFromWS(wsURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(wsURL))
	if err != nil {
		return "", fmt.Errorf("parsing browser websocket url %q: %w", wsURL, err)
	}
	return u.Host, nil
}

// HTTPAddr returns the host:port of the browser's DevTools HTTP endpoint.
func (p *Process) HTTPAddr() string { return p.httpAddr }

// Close terminates the browser process and waits for its cleanup
// goroutine to finish removing its temporary profile directory.
func (p *Process) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.wg.Wait()
	return nil
}
