package app

import (
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xbridge/internal/api"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/settlement"
)

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	var monitor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve routes and transfer records over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if listen == "" {
				listen = s.settings.ListenAddr
			}
			store, err := s.ensureStore()
			if err != nil {
				return err
			}
			// Built up front so request handlers never race on lazy wiring.
			if _, err := s.ensureAggregator(ctx); err != nil {
				return err
			}

			if monitor {
				m, err := s.newMonitor(store)
				if err != nil {
					return err
				}
				active, err := store.Active(ctx)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "load active records", err)
				}
				handles := make([]*settlement.Handle, 0, len(active))
				for _, rec := range active {
					handles = append(handles, m.Start(ctx, rec))
				}
				s.log.Info().Int("records", len(handles)).Msg("resumed settlement tracking")
				defer func() {
					for _, h := range handles {
						h.Cancel()
						<-h.Done()
					}
				}()
			}

			server := api.New(routeService{state: s}, store, s.log)
			return server.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&monitor, "monitor", true, "Resume settlement tracking for active records while serving")
	return cmd
}
