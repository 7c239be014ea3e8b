package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bfollington/claude-blackboard-sub000/internal/config"
	"github.com/bfollington/claude-blackboard-sub000/internal/farm"
	"github.com/bfollington/claude-blackboard-sub000/internal/runtime"
)

func newDrainCmd() *cobra.Command {
	var (
		force    bool
		timeout  int
		jsonOut  bool
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Stop all active workers and mark them killed",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := farm.Drain(cmd.Context(), st, &runtime.Docker{}, force, time.Duration(timeout)*time.Second)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int{"drained": n})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Drained %d worker(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Kill containers immediately instead of stopping gracefully")
	cmd.Flags().IntVar(&timeout, "timeout", 30, "Graceful stop timeout in seconds")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit result as JSON")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")

	return cmd
}

func newKillCmd() *cobra.Command {
	var (
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "kill <worker-id|thread-name>",
		Short: "Kill one worker by id prefix or owning thread name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			w, err := farm.KillWorker(cmd.Context(), st, &runtime.Docker{}, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Killed worker %s\n", w.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")

	return cmd
}
