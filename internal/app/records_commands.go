package app

import (
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

func (s *runtimeState) newStatusCommand() *cobra.Command {
	var track bool
	cmd := &cobra.Command{
		Use:   "status <record-id|source-tx-hash>",
		Short: "Show a transfer's settlement status, optionally tracking it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.ensureStore()
			if err != nil {
				return err
			}
			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var warnings []string
			if track && !rec.Status.Terminal() {
				monitor, err := s.newMonitor(store)
				if err != nil {
					return err
				}
				rec = monitor.Track(rec).Run(cmd.Context())
				if !rec.Status.Terminal() {
					warnings = append(warnings, "tracking stopped before settlement")
				}
			}
			if rec.Status == model.StatusUnknown {
				warnings = append(warnings, "settlement could not be tracked automatically; check the destination chain manually")
			}
			return s.emitSuccess(rec, warnings, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().BoolVar(&track, "track", false, "Poll until the transfer settles or the command is interrupted")
	return cmd
}

func (s *runtimeState) newRecordsCommand() *cobra.Command {
	root := &cobra.Command{Use: "records", Short: "Stored transfer records"}
	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List transfer records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				if _, ok := model.ParseSettlementStatus(status); !ok {
					return clierr.New(clierr.CodeUsage, "unknown status "+status)
				}
			}
			store, err := s.ensureStore()
			if err != nil {
				return err
			}
			records, err := store.List(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			return s.emitSuccess(records, nil, nil, cacheMetaBypass())
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (pending|source_confirmed|destination_pending|completed|failed|unknown)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum records to return")
	root.AddCommand(list)
	return root
}
