package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/stepforge/engine/browser/cdp"
	"github.com/stepforge/engine/event"
	"github.com/stepforge/engine/evidence"
	"github.com/stepforge/engine/interp"
	"github.com/stepforge/engine/lib"
	"github.com/stepforge/engine/runner"
	"github.com/stepforge/engine/store"
)

// newRunCommand implements `stepforge run <test.json>`: loads a test
// definition straight from a file (as opposed to the saved-test store
// that `stepforge serve` runs tests from) and drives it to completion,
// printing a pass/fail summary — the engine's analogue of the teacher's
// `k6 run <script.js>`.
func newRunCommand(s *State) *cobra.Command {
	var debug bool
	var headless bool

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a test definition file once and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := afero.ReadFile(s.FS, args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			var def lib.TestDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			client := cdp.New(cdp.LaunchOptions{Headless: headless, ExecPath: s.Config.BrowserExec},
				&evidence.ConsoleBuffer{}, &evidence.NetworkBuffer{}, &evidence.MockRegistry{})
			stream := event.New()
			st := store.New(s.FS, s.Config.StoreRoot)
			lookup := func(id string) (*lib.TestDefinition, bool) {
				t := st.GetTest(id)
				if t == nil {
					return nil, false
				}
				return &t.Definition, true
			}
			logger := interp.NewLogger(s.Logger, "", "")
			orch := runner.New(client, stream, lookup, logger)

			result, _, err := orch.Run(s.Ctx, &def, runner.Options{
				TestID: args[0], Debug: debug, ProjectRoot: s.Config.StoreRoot,
			})
			if err != nil {
				return err
			}

			if result.IsPassed() {
				fmt.Fprintf(s.Stdout, "PASS (%d steps, %dms)\n", result.Passed.StepsCompleted, result.Passed.DurationMS)
				return nil
			}
			fmt.Fprintf(s.Stdout, "FAIL at step %d (%s): %s\n", result.Failed.FailedStep, result.Failed.FailedLabel, result.Failed.Error)
			s.OSExit(1)
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "start the run paused in single-step mode")
	cmd.Flags().BoolVar(&headless, "headless", true, "launch the browser headless")
	return cmd
}
