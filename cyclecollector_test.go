// ABOUTME: Tests for the root cyclecollector package, verifying version and imports
// ABOUTME: These tests ensure the basic package setup is working correctly

package cyclecollector_test

import (
	"strings"
	"testing"

	"github.com/prateek/cyclecollector"
)

func TestVersion(t *testing.T) {
	if cyclecollector.Version == "" {
		t.Error("Version constant should not be empty")
	}
	if !strings.HasPrefix(cyclecollector.Version, "0.") {
		t.Errorf("Version should start with %q, got %q", "0.", cyclecollector.Version)
	}
}
