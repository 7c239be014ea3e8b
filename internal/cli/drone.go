package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bfollington/claude-blackboard-sub000/internal/config"
	"github.com/bfollington/claude-blackboard-sub000/internal/drone"
	"github.com/bfollington/claude-blackboard-sub000/internal/runtime"
)

func newDroneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drone",
		Short: "Manage persistent single-session agents",
	}
	cmd.AddCommand(newDroneCreateCmd())
	cmd.AddCommand(newDroneListCmd())
	cmd.AddCommand(newDroneStartCmd())
	cmd.AddCommand(newDroneStopCmd())
	cmd.AddCommand(newDroneLogsCmd())
	return cmd
}

func newDroneCreateCmd() *cobra.Command {
	var (
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new drone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			d, err := st.CreateDrone(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created drone %s (%s)\n", d.Name, d.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")
	return cmd
}

func newDroneListCmd() *cobra.Command {
	var (
		jsonOut  bool
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered drones",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			drones, err := st.ListDrones(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(drones)
			}
			if len(drones) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No drones registered")
				return nil
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "%-20s %-10s %-14s %s\n", "NAME", "STATUS", "SESSION", "CREATED")
			for _, d := range drones {
				sessionID := "-"
				if sess, err := st.RunningSessionForDrone(cmd.Context(), d.ID); err == nil && sess != nil {
					sessionID = sess.ID
				}
				_, _ = fmt.Fprintf(w, "%-20s %-10s %-14s %s\n", d.Name, d.Status, sessionID, d.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit drones as JSON")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")
	return cmd
}

func newDroneStartCmd() *cobra.Command {
	var (
		authMode      string
		apiKey        string
		repo          string
		maxIterations int
		memory        string
		image         string
		build         bool
		jsonOut       bool
		dbDriver      string
		dbURL         string
	)

	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Launch a session for a drone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			l := &drone.Launcher{Store: st, Runtime: &runtime.Docker{}}
			launch, err := l.Launch(cmd.Context(), args[0], drone.LaunchOptions{
				AuthMode:      authMode,
				APIKey:        apiKey,
				RepoDir:       repo,
				DBDir:         config.DBDir(home),
				Image:         cfg.ImageOr(image),
				Build:         build,
				Memory:        cfg.DroneMemoryOr(memory),
				MaxIterations: cfg.MaxIterationsOr(maxIterations),
				ProjectRoot:   mustGetwd(),
				PluginRoot:    pluginRoot(),
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(launch)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started session %s (worker %s, branch %s)\n",
				launch.SessionID, launch.WorkerID, launch.Branch)
			return nil
		},
	}

	cmd.Flags().StringVar(&authMode, "auth", "", "Authentication mode: env, config, or oauth (default: auto-detect)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Anthropic API key (implies --auth env)")
	cmd.Flags().StringVar(&repo, "repo", "", "Workspace directory mounted read-write into the container")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap for the session (default 50)")
	cmd.Flags().StringVar(&memory, "memory", "", `Container memory limit (default "1g")`)
	cmd.Flags().StringVar(&image, "image", "", "Worker image (default blackboard-worker)")
	cmd.Flags().BoolVar(&build, "build", false, "Build the worker image before starting")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the launch result as JSON")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")
	return cmd
}

func newDroneStopCmd() *cobra.Command {
	var (
		jsonOut  bool
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a drone's running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			l := &drone.Launcher{Store: st, Runtime: &runtime.Docker{}}
			res, err := l.Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stopped session %s (worker %s)\n", res.SessionID, res.WorkerID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the stop result as JSON")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")
	return cmd
}

func newDroneLogsCmd() *cobra.Command {
	var (
		follow   bool
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Show container logs for a drone's running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := openStore(home, dbDriver, dbURL)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			d, err := st.GetDroneByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sess, err := st.RunningSessionForDrone(cmd.Context(), d.ID)
			if err != nil {
				return err
			}
			if sess == nil {
				return fmt.Errorf("drone %q has no running session", args[0])
			}
			worker, err := st.GetWorker(cmd.Context(), sess.WorkerID)
			if err != nil {
				return err
			}
			if worker.ContainerID == "" {
				return fmt.Errorf("session %s has no container yet", sess.ID)
			}
			client := &runtime.Docker{}
			return client.Logs(cmd.Context(), worker.ContainerID, follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs until interrupted")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN when --db-driver postgres")
	return cmd
}
