package main

import (
	"os"
	"testing"
)

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "invalid"} {
		t.Run(level, func(t *testing.T) {
			// Just verify it doesn't panic.
			setupLogging(level)
		})
	}
}

func TestInitSetsUTC(t *testing.T) {
	if tz := os.Getenv("TZ"); tz != "UTC" {
		t.Errorf("expected TZ=UTC, got %s", tz)
	}
}
