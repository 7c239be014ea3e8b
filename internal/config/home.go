// Package config resolves the blackboard home directory and the
// optional config.yaml defaults inside it.
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

type homeKey struct{}

// WithHome stores the blackboard home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the blackboard home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("blackboard home missing from context")
}

// ResolveHome returns the blackboard home directory (override,
// BLACKBOARD_HOME, or default ~/.blackboard).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("BLACKBOARD_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".blackboard"), nil
}

// DBDir returns the directory holding the SQLite database under home.
// This is the directory mounted read-write into every container.
func DBDir(home string) string {
	return filepath.Join(home, "protected")
}
