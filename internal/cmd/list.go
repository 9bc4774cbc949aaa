package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stepforge/engine/store"
)

// newListCommand implements `stepforge tests`: a thin CLI window onto the
// same store the control surface (internal/api) reads and writes,
// mirroring the teacher's cmd/inspect.go (a read-only CLI view over
// state the REST API also exposes).
func newListCommand(s *State) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List and manage saved test definitions",
	}

	cmd.AddCommand(newTestsListCommand(s))
	cmd.AddCommand(newTestsRemoveCommand(s))

	return cmd
}

func newTestsListCommand(s *State) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(s.FS, s.Config.StoreRoot)
			tests, err := st.ListTests(store.ListTestsOptions{Tag: tag})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(s.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tUPDATED\tTAGS")
			for _, t := range tests {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", t.ID, t.Name, t.UpdatedAt, t.Tags)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	return cmd
}

func newTestsRemoveCommand(s *State) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [id]",
		Short: "Delete a saved test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(s.FS, s.Config.StoreRoot)
			return st.DeleteTest(args[0])
		},
	}
}
