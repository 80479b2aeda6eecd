package main

import (
	"fmt"

	"github.com/example/go-kernelopt/internal/replay"
	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Inspect a process-replay database written by --capture-process-replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := replay.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open replay store: %w", err)
			}
			defer store.Close()

			if len(args) == 0 {
				n, err := store.Count()
				if err != nil {
					return fmt.Errorf("count replay records: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d records in %s\n", n, dbPath)
				return nil
			}

			for _, key := range args {
				rec, found, err := store.Get(key)
				if err != nil {
					return fmt.Errorf("read replay record %s: %w", key, err)
				}
				if !found {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", key)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: name=%s opts=%d caller=%s\n", key, rec.Name, len(rec.AppliedOpts), rec.CallerLoc)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "process_replay.db", "Path to the process-replay database")
	return cmd
}
