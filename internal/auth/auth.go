// Package auth resolves the credential a spawned container authenticates
// with. Resolution happens once per orchestration run; the chosen mode is
// recorded on the worker for audit and never re-resolved after spawn.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Auth modes. Exactly one is applied to each container.
const (
	ModeEnv    = "env"    // API key injected via environment
	ModeConfig = "config" // ~/.claude mounted read-only
	ModeOAuth  = "oauth"  // OAuth token injected via environment
)

// ErrNoCredentials is returned when no authentication method is
// available in any mode.
var ErrNoCredentials = errors.New("no authentication method available")

// Credential is the resolved authentication for a run. Exactly one of
// APIKey, OAuthToken, or ConfigDir is set, matching Mode.
type Credential struct {
	Mode       string
	APIKey     string
	OAuthToken string
	ConfigDir  string
}

// Resolve picks a credential for mode. Mode "" tries env, then oauth,
// then config, and reports remediation for all three when nothing works.
func Resolve(mode, explicitKey string) (Credential, error) {
	switch mode {
	case ModeEnv:
		return resolveEnv(explicitKey)
	case ModeOAuth:
		return resolveOAuth()
	case ModeConfig:
		return resolveConfig()
	case "":
		if cred, err := resolveEnv(explicitKey); err == nil {
			return cred, nil
		}
		if cred, err := resolveOAuth(); err == nil {
			return cred, nil
		}
		if cred, err := resolveConfig(); err == nil {
			return cred, nil
		}
		return Credential{}, fmt.Errorf("%w: set ANTHROPIC_API_KEY, run `claude setup-token`, or log in with `claude` so ~/.claude exists", ErrNoCredentials)
	default:
		return Credential{}, fmt.Errorf("unknown auth mode %q (want env, oauth, or config)", mode)
	}
}

func resolveEnv(explicitKey string) (Credential, error) {
	key := explicitKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return Credential{}, fmt.Errorf("%w: pass --api-key or set ANTHROPIC_API_KEY", ErrNoCredentials)
	}
	return Credential{Mode: ModeEnv, APIKey: key}, nil
}

func resolveOAuth() (Credential, error) {
	if tok := os.Getenv("CLAUDE_CODE_OAUTH_TOKEN"); tok != "" {
		return Credential{Mode: ModeOAuth, OAuthToken: tok}, nil
	}
	tok, err := tokenFromCredentialsFile()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: set CLAUDE_CODE_OAUTH_TOKEN or run `claude setup-token` (%v)", ErrNoCredentials, err)
	}
	return Credential{Mode: ModeOAuth, OAuthToken: tok}, nil
}

func resolveConfig() (Credential, error) {
	dir, err := claudeConfigDir()
	if err != nil {
		return Credential{}, err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Credential{}, fmt.Errorf("%w: %s does not exist; log in with `claude` first", ErrNoCredentials, dir)
	}
	return Credential{Mode: ModeConfig, ConfigDir: dir}, nil
}

// tokenFromCredentialsFile reads the access token out of the local
// Claude Code credential store. The file layout is treated as opaque
// beyond the one field read here.
func tokenFromCredentialsFile() (string, error) {
	dir, err := claudeConfigDir()
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(dir, ".credentials.json"))
	if err != nil {
		return "", err
	}
	var creds struct {
		ClaudeAiOauth struct {
			AccessToken string `json:"accessToken"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return "", fmt.Errorf("parse credentials file: %w", err)
	}
	if creds.ClaudeAiOauth.AccessToken == "" {
		return "", errors.New("credentials file has no access token")
	}
	return creds.ClaudeAiOauth.AccessToken, nil
}

func claudeConfigDir() (string, error) {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".claude"), nil
}
