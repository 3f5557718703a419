// Package executable resolves the server binary that nodes are launched from.
//
// Resolution is a strategy picked when a topology is built: a fixed path, an environment variable,
// a $PATH lookup, a search up the directory tree, or a download cached on local disk.
package executable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/tobi-laa/embedded-valkey/internal/files"
)

// EnvVar is consulted by Default before falling back to $PATH.
const EnvVar = "EMBEDDED_VALKEY_EXECUTABLE"

// ErrNotFound is returned when a provider has nothing to offer.
var ErrNotFound = errors.New("executable not found")

// Provider resolves the absolute path of a server executable.
type Provider interface {
	Resolve(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }

// Path always resolves to p, made absolute. Existence is checked when the node starts.
func Path(p string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		return filepath.Abs(p)
	})
}

// Env resolves to the path stored in the environment variable name.
func Env(name string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("environment variable %s is empty: %w", name, ErrNotFound)
		}
		return filepath.Abs(v)
	})
}

// InPath looks name up in $PATH.
func InPath(name string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		p, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("looking up %q: %w: %s", name, ErrNotFound, err)
		}
		return filepath.Abs(p)
	})
}

// FindUp searches dir and its parents for a file called name. An empty dir means the working directory.
func FindUp(name, dir string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		start := dir
		if start == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("getting wd: %w", err)
			}
			start = wd
		}
		p, err := files.FindUp(name, start)
		if err != nil {
			return "", err
		}
		if p == "" {
			return "", fmt.Errorf("no %q above %q: %w", name, start, ErrNotFound)
		}
		return p, nil
	})
}

// FirstOf tries each provider in order and returns the first path that resolves.
func FirstOf(providers ...Provider) Provider {
	return ProviderFunc(func(ctx context.Context) (string, error) {
		var errs error
		for _, p := range providers {
			path, err := p.Resolve(ctx)
			if err == nil {
				return path, nil
			}
			errs = multierr.Append(errs, err)
		}
		return "", fmt.Errorf("%w: tried %d providers: %v", ErrNotFound, len(providers), errs)
	})
}

// Default checks EnvVar, then valkey-server and redis-server in $PATH.
func Default() Provider {
	return FirstOf(Env(EnvVar), InPath("valkey-server"), InPath("redis-server"))
}
