package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bfollington/claude-blackboard-sub000/internal/config"
)

func newWorkersCmd() *cobra.Command {
	var (
		jsonOut  bool
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List active workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			workers, err := st.ListActiveWorkers(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(workers)
			}
			if len(workers) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No active workers")
				return nil
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "%-14s %-14s %-20s %-10s %s\n", "WORKER", "CONTAINER", "OWNER", "ITER", "LAST HEARTBEAT")
			for _, wk := range workers {
				owner := wk.ThreadName
				if owner == "" {
					owner = "(drone)"
				}
				container := wk.ContainerID
				if len(container) > 12 {
					container = container[:12]
				}
				_, _ = fmt.Fprintf(w, "%-14s %-14s %-20s %d/%-8d %s\n",
					wk.ID, container, owner, wk.Iteration, wk.MaxIterations,
					wk.LastHeartbeat.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit workers as JSON")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")

	return cmd
}

func newPurgeCmd() *cobra.Command {
	var (
		olderThan int
		dbDriver  string
		dbURL     string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete terminal worker records older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := st.PurgeWorkers(cmd.Context(), time.Duration(olderThan)*time.Hour)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d worker record(s)\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThan, "older-than", 168, "Retention window in hours")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")

	return cmd
}
