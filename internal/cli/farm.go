package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bfollington/claude-blackboard-sub000/internal/config"
	"github.com/bfollington/claude-blackboard-sub000/internal/farm"
	"github.com/bfollington/claude-blackboard-sub000/internal/otel"
	"github.com/bfollington/claude-blackboard-sub000/internal/runtime"
)

func newFarmCmd() *cobra.Command {
	var (
		threads       []string
		concurrency   int
		authMode      string
		apiKey        string
		repo          string
		maxIterations int
		memory        string
		image         string
		build         bool
		jsonOut       bool
		metricsAddr   string
		dbDriver      string
		dbURL         string
	)

	cmd := &cobra.Command{
		Use:   "farm",
		Short: "Run pending threads as a bounded fleet of worker containers",
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

			if metricsAddr != "" {
				handler, err := otel.InitMeterProvider(cmd.Context(), "blackboard")
				if err != nil {
					slog.Warn("metrics init failed, continuing without", "err", err)
				} else {
					if err := otel.InitMetrics(cmd.Context(), func() int64 {
						ids, err := st.ActiveWorkerIDs(cmd.Context())
						if err != nil {
							return 0
						}
						return int64(len(ids))
					}); err != nil {
						slog.Warn("metrics instrument init failed", "err", err)
					}
					mux := http.NewServeMux()
					mux.Handle("/metrics", handler)
					go func() {
						if err := http.ListenAndServe(metricsAddr, mux); err != nil {
							slog.Warn("metrics server stopped", "err", err)
						}
					}()
				}
			}

			orch := &farm.Orchestrator{
				Store:   st,
				Runtime: &runtime.Docker{},
				Opts: farm.Options{
					ThreadNames:      threads,
					Concurrency:      cfg.ConcurrencyOr(concurrency),
					MaxIterations:    cfg.MaxIterationsOr(maxIterations),
					Memory:           cfg.MemoryOr(memory),
					Image:            cfg.ImageOr(image),
					Build:            build,
					RepoDir:          repo,
					DBDir:            config.DBDir(home),
					ProjectRoot:      mustGetwd(),
					PluginRoot:       pluginRoot(),
					AuthMode:         authMode,
					APIKey:           apiKey,
					PollInterval:     cfg.PollInterval(),
					HeartbeatTimeout: cfg.HeartbeatTimeout(),
				},
			}
			summary, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Farm run complete: %d completed, %d failed, %d total\n",
				summary.Completed, summary.Failed, summary.Total)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&threads, "threads", nil, "Thread names to run (default: all active threads with pending work)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum concurrent workers (default 3)")
	cmd.Flags().StringVar(&authMode, "auth", "", "Authentication mode: env, config, or oauth (default: auto-detect)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Anthropic API key (implies --auth env)")
	cmd.Flags().StringVar(&repo, "repo", "", "Workspace directory mounted read-write into workers")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap per worker (default 50)")
	cmd.Flags().StringVar(&memory, "memory", "", `Container memory limit (default "512m")`)
	cmd.Flags().StringVar(&image, "image", "", "Worker image (default blackboard-worker)")
	cmd.Flags().BoolVar(&build, "build", false, "Build the worker image before starting")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the final summary as JSON")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Registry driver: sqlite (default) or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres DSN (or DATABASE_URL) when --db-driver postgres")

	return cmd
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// pluginRoot is the directory the blackboard binary is installed in;
// the bundled default Dockerfile.worker ships next to it.
func pluginRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}
