package auth

import "github.com/bfollington/claude-blackboard-sub000/internal/runtime"

// ApplyTo injects the credential into spawn options: an env var for the
// env and oauth modes, a read-only mount of the Claude config directory
// for config mode. Exactly one mechanism is applied.
func (c Credential) ApplyTo(opts *runtime.SpawnOptions) {
	switch c.Mode {
	case ModeEnv:
		if opts.Env == nil {
			opts.Env = make(map[string]string)
		}
		opts.Env["ANTHROPIC_API_KEY"] = c.APIKey
	case ModeOAuth:
		if opts.Env == nil {
			opts.Env = make(map[string]string)
		}
		opts.Env["CLAUDE_CODE_OAUTH_TOKEN"] = c.OAuthToken
	case ModeConfig:
		opts.Mounts = append(opts.Mounts, runtime.Mount{
			Host:      c.ConfigDir,
			Container: "/home/worker/.claude",
			ReadOnly:  true,
		})
	}
}
