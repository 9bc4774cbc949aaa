package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/stepforge/engine/browser"
	"github.com/stepforge/engine/browser/cdp"
	"github.com/stepforge/engine/event"
	"github.com/stepforge/engine/evidence"
	"github.com/stepforge/engine/internal/api"
	"github.com/stepforge/engine/store"
)

// newServeCommand implements `stepforge serve`: starts the HTTP+WebSocket
// control surface (spec.md §6.4) over a long-lived test/result store,
// the engine's analogue of the teacher's `k6 cloud`/REST-API server
// entrypoint in cmd/server.go.
func newServeCommand(s *State) *cobra.Command {
	var listen string
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = s.Config.ListenAddr
			}

			st := store.New(s.FS, s.Config.StoreRoot)
			stream := event.New()

			newClient := func() browser.Client {
				// Every run gets its own browser process and its own
				// evidence buffers; a Client is never reused across runs.
				return cdp.New(cdp.LaunchOptions{Headless: headless, ExecPath: s.Config.BrowserExec},
					&evidence.ConsoleBuffer{}, &evidence.NetworkBuffer{}, &evidence.MockRegistry{})
			}

			srv := api.NewServer(st, stream, s.Logger, newClient)

			s.Logger.WithField("addr", listen).Info("listening")
			httpServer := &http.Server{Addr: listen, Handler: srv.Handler()}
			return httpServer.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (defaults to config's listen_addr)")
	cmd.Flags().BoolVar(&headless, "headless", true, "launch browsers headless")
	return cmd
}
