package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/bfollington/claude-blackboard-sub000/internal/auth"
	"github.com/bfollington/claude-blackboard-sub000/internal/config"
	"github.com/bfollington/claude-blackboard-sub000/internal/runtime"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()

			var problems []string

			_, _ = fmt.Fprintf(out, "home: %s\n", home)

			if _, err := exec.LookPath("git"); err != nil {
				problems = append(problems, "missing dependency: git (not found on PATH)")
			}

			client := &runtime.Docker{}
			if client.IsAvailable(cmd.Context()) {
				_, _ = fmt.Fprintln(out, "container runtime: ok")
			} else {
				problems = append(problems, "container runtime unavailable: start Docker and try again")
			}

			if cred, err := auth.Resolve("", ""); err != nil {
				problems = append(problems, err.Error())
			} else {
				_, _ = fmt.Fprintf(out, "auth: %s\n", cred.Mode)
			}

			if buildFile := runtime.ResolveBuildFile(mustGetwd(), pluginRoot()); buildFile != "" {
				_, _ = fmt.Fprintf(out, "build file: %s\n", buildFile)
			} else {
				_, _ = fmt.Fprintln(out, "build file: none (workers need a prebuilt image, or create .blackboard/Dockerfile.worker)")
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	return cmd
}
