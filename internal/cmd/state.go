// Package cmd implements the engine's CLI: root command plus run/serve/
// tests subcommands, grounded on the teacher's cmd/root.go
// (globalState-as-dependency-injection, rather than package-level
// globals) and cmd/state/state.go's GlobalState. cmd/stepforge/main.go
// is the sole caller of Execute.
package cmd

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/stepforge/engine/internal/config"
)

// State bundles the process-external dependencies every subcommand
// needs, mirroring the teacher's globalState: tests construct their own
// State with an in-memory afero.Fs and buffered writers instead of the
// real os-backed ones.
type State struct {
	Ctx context.Context

	FS     afero.Fs
	Stdout io.Writer
	Stderr io.Writer

	Logger *logrus.Logger

	Config config.Config

	OSExit func(int)
}

// NewState builds a State wired to the real OS.
func NewState(ctx context.Context) *State {
	logger := logrus.New()
	logger.SetOutput(consoleWriter(os.Stdout))

	return &State{
		Ctx:    ctx,
		FS:     afero.NewOsFs(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
		Config: config.Default(),
		OSExit: os.Exit,
	}
}

// consoleWriter wraps stdout the way cmd/root.go does: colorable on a
// real terminal, passed through unchanged otherwise (e.g. when piped).
func consoleWriter(f *os.File) io.Writer {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return colorable.NewColorable(f)
	}
	return f
}
