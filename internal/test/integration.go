package test

import (
	"context"
	"os"
	"testing"

	"github.com/tobi-laa/embedded-valkey/executable"
)

// IntegrationEnvVar must be set for tests that launch real server binaries.
const IntegrationEnvVar = "EMBEDDED_VALKEY_INTEGRATION"

// Integration skips the test unless integration tests were requested.
func Integration(t *testing.T) {
	t.Helper()
	if os.Getenv(IntegrationEnvVar) == "" {
		t.Skipf("skipping integration test, set %s to run it", IntegrationEnvVar)
	}
}

// Executable resolves a real server binary for integration tests, skipping the test if none is available.
func Executable(t *testing.T) executable.Provider {
	t.Helper()
	Integration(t)
	p := executable.Default()
	if _, err := p.Resolve(context.Background()); err != nil {
		t.Skipf("no server executable available: %s", err)
	}
	return p
}
