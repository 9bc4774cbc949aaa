// Command stepforge is the engine's entry point: it builds a State wired
// to the real OS and hands off to the cobra command tree in
// internal/cmd, mirroring the teacher's cmd/k6/main.go -> cmd.Execute()
// split between a thin main and the actual command tree.
package main

import (
	"context"
	"os"

	"github.com/stepforge/engine/internal/cmd"
)

func main() {
	s := cmd.NewState(context.Background())
	root := cmd.NewRootCommand(s)

	if err := root.Execute(); err != nil {
		s.Logger.WithError(err).Error("stepforge failed")
		os.Exit(1)
	}
}
