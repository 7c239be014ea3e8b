package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Docker drives the docker CLI via os/exec. It holds no state; every
// method is one blocking CLI invocation.
type Docker struct {
	// Binary overrides the docker binary name (tests, podman shims).
	Binary string
}

func (d *Docker) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "docker"
}

// run executes one docker command, returning trimmed stdout. Non-zero
// exits become *Error with captured stderr (stdout when stderr is empty).
func (d *Docker) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &Error{
				Command:  d.binary() + " " + strings.Join(args, " "),
				ExitCode: exitErr.ExitCode(),
				Stderr:   detail,
			}
		}
		return "", fmt.Errorf("%s %s: %w", d.binary(), args[0], err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsAvailable probes the daemon with docker info. Any failure is false.
func (d *Docker) IsAvailable(ctx context.Context) bool {
	_, err := d.run(ctx, "info", "--format", "{{.ServerVersion}}")
	return err == nil
}

// ImageExists reports whether the image is present locally.
func (d *Docker) ImageExists(ctx context.Context, name string) (bool, error) {
	_, err := d.run(ctx, "image", "inspect", name)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// BuildImage builds dockerfile in contextDir and tags the result.
func (d *Docker) BuildImage(ctx context.Context, tag, contextDir, dockerfile string) error {
	args := []string{"build", "-t", tag}
	if dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	args = append(args, contextDir)
	_, err := d.run(ctx, args...)
	return err
}

// ResolveBuildFile returns the worker Dockerfile to build from:
// the project-level override first, then the bundled default, else "".
// The caller decides what a missing build file means.
func ResolveBuildFile(projectRoot, pluginRoot string) string {
	var candidates []string
	if projectRoot != "" {
		candidates = append(candidates, filepath.Join(projectRoot, ".blackboard", "Dockerfile.worker"))
	}
	if pluginRoot != "" {
		candidates = append(candidates, filepath.Join(pluginRoot, "docker", "Dockerfile.worker"))
	}
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// spawnArgs builds the docker run argument list for Spawn. Split out so
// tests can assert on the invocation without a docker daemon.
func spawnArgs(opts SpawnOptions) []string {
	args := []string{"run", "-d"}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Memory != "" {
		args = append(args, "--memory", opts.Memory)
	}
	labelKeys := make([]string, 0, len(opts.Labels))
	for k := range opts.Labels {
		labelKeys = append(labelKeys, k)
	}
	sort.Strings(labelKeys)
	for _, k := range labelKeys {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	for _, m := range opts.Mounts {
		spec := m.Host + ":" + m.Container
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	envKeys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	return append(args, opts.Image)
}

// Spawn starts a detached container and returns the id docker assigns.
func (d *Docker) Spawn(ctx context.Context, opts SpawnOptions) (string, error) {
	out, err := d.run(ctx, spawnArgs(opts)...)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Kill terminates the container immediately.
func (d *Docker) Kill(ctx context.Context, containerID string) error {
	_, err := d.run(ctx, "kill", containerID)
	return err
}

// Stop stops the container gracefully, escalating after timeout.
func (d *Docker) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 30
	}
	_, err := d.run(ctx, "stop", "-t", strconv.Itoa(secs), containerID)
	return err
}

// Remove force-removes the container.
func (d *Docker) Remove(ctx context.Context, containerID string) error {
	_, err := d.run(ctx, "rm", "-f", containerID)
	return err
}

// List returns containers (running or not) matching the label filter.
func (d *Docker) List(ctx context.Context, labelFilter string) ([]ContainerInfo, error) {
	args := []string{"ps", "-a", "--format", "{{.ID}}\t{{.Names}}\t{{.Status}}\t{{.Labels}}"}
	if labelFilter != "" {
		args = append(args, "--filter", "label="+labelFilter)
	}
	out, err := d.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var infos []ContainerInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) < 3 {
			continue
		}
		info := ContainerInfo{ID: parts[0], Name: parts[1], Status: parts[2]}
		if len(parts) == 4 {
			info.Labels = parseLabels(parts[3])
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// parseLabels parses docker's native "k=v,k=v" label serialization.
func parseLabels(s string) map[string]string {
	labels := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		labels[k] = v
	}
	return labels
}

// InspectState returns the state of an existing container. A container
// that no longer exists yields an error wrapping ErrNotFound; a stopped
// container is a successful inspect with Running=false.
func (d *Docker) InspectState(ctx context.Context, containerID string) (State, error) {
	out, err := d.run(ctx, "inspect", "--format", "{{.State.Running}} {{.State.ExitCode}} {{.State.Status}}", containerID)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return State{}, fmt.Errorf("%s: %w", containerID, ErrNotFound)
		}
		return State{}, err
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return State{}, fmt.Errorf("inspect %s: unexpected output %q", containerID, out)
	}
	st := State{Running: fields[0] == "true", Status: fields[2]}
	if code, err := strconv.Atoi(fields[1]); err == nil {
		st.ExitCode = &code
	}
	return st, nil
}

// Alive is the three-valued liveness check used by reconciliation.
func (d *Docker) Alive(ctx context.Context, containerID string) (Liveness, error) {
	st, err := d.InspectState(ctx, containerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Gone, nil
		}
		return Gone, err
	}
	if st.Running {
		return Running, nil
	}
	return Stopped, nil
}

// Logs streams container logs to the process stdout/stderr.
func (d *Docker) Logs(ctx context.Context, containerID string, follow bool) error {
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	args = append(args, containerID)
	cmd := exec.CommandContext(ctx, d.binary(), args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
