package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docopt/docopt-go"
	"github.com/sirupsen/logrus"

	"github.com/c74tools/maxutils/pkg/maxutils"
)

func testBundle(t *testing.T) string {
	t.Helper()
	bundle := filepath.Join(t.TempDir(), "chorus.mxo")
	macos := filepath.Join(bundle, "Contents", "MacOS")
	if err := os.MkdirAll(macos, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(macos, "chorus"), []byte("bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	return bundle
}

// TestFixerFromOptsDevID verifies that --dev-id reaches the signing
// identity on the default external layout, not just the custom one.
func TestFixerFromOptsDevID(t *testing.T) {
	bundle := testBundle(t)
	opts := docopt.Opts{"--path": bundle, "--dev-id": "Bugs Bunny"}

	f, err := fixerFromOpts(opts, logrus.New())
	if err != nil {
		t.Fatalf("fixerFromOpts failed: %v", err)
	}
	if f.Config.Identity != "Developer ID Application: Bugs Bunny" {
		t.Errorf("Identity = %q", f.Config.Identity)
	}
}

// TestFixerFromOptsDevIDEnv verifies the DEV_ID fallback.
func TestFixerFromOptsDevIDEnv(t *testing.T) {
	t.Setenv("DEV_ID", "Daffy Duck")
	bundle := testBundle(t)
	opts := docopt.Opts{"--path": bundle}

	f, err := fixerFromOpts(opts, logrus.New())
	if err != nil {
		t.Fatalf("fixerFromOpts failed: %v", err)
	}
	if f.Config.Identity != "Developer ID Application: Daffy Duck" {
		t.Errorf("Identity = %q", f.Config.Identity)
	}
}

// TestFixerFromOptsAdhoc verifies that without a developer ID the fixer
// re-signs ad-hoc.
func TestFixerFromOptsAdhoc(t *testing.T) {
	t.Setenv("DEV_ID", "")
	bundle := testBundle(t)
	opts := docopt.Opts{"--path": bundle}

	f, err := fixerFromOpts(opts, logrus.New())
	if err != nil {
		t.Fatalf("fixerFromOpts failed: %v", err)
	}
	if f.Config.Identity != maxutils.AdhocIdentity {
		t.Errorf("Identity = %q", f.Config.Identity)
	}
}

// TestFixerFromOptsCustomLayout verifies that explicit layout flags
// carry the identity as well.
func TestFixerFromOptsCustomLayout(t *testing.T) {
	bundle := testBundle(t)
	opts := docopt.Opts{
		"--path":     bundle,
		"--dest-dir": filepath.Join(bundle, "Contents", "Frameworks"),
		"--exec":     filepath.Join(bundle, "Contents", "MacOS", "chorus"),
		"--dev-id":   "Bugs Bunny",
	}

	f, err := fixerFromOpts(opts, logrus.New())
	if err != nil {
		t.Fatalf("fixerFromOpts failed: %v", err)
	}
	if f.Config.Identity != "Developer ID Application: Bugs Bunny" {
		t.Errorf("Identity = %q", f.Config.Identity)
	}
}
