package maxutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"howett.net/plist"
)

// TestWriteEntitlements verifies the generated plist parses back to the
// same keys.
func TestWriteEntitlements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.plist")
	if err := WriteEntitlements(path, StandaloneEntitlements); err != nil {
		t.Fatalf("WriteEntitlements failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<?xml") {
		t.Error("entitlements must be written as XML plist")
	}

	var parsed map[string]interface{}
	if _, err := plist.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generated plist does not parse: %v", err)
	}
	if len(parsed) != len(StandaloneEntitlements) {
		t.Errorf("expected %d keys, got %d", len(StandaloneEntitlements), len(parsed))
	}
	if v, ok := parsed["com.apple.security.cs.disable-library-validation"].(bool); !ok || !v {
		t.Error("library validation must be disabled for standalones")
	}
}

// TestDefaultEntitlements verifies the per-kind entitlement sets.
func TestDefaultEntitlements(t *testing.T) {
	standalone := DefaultEntitlements(ProductStandalone)
	if _, ok := standalone["com.apple.security.automation.apple-events"]; !ok {
		t.Error("standalones need the apple-events entitlement")
	}
	external := DefaultEntitlements(ProductExternal)
	if len(external) >= len(standalone) {
		t.Error("externals should carry a smaller entitlement set than standalones")
	}
	if _, ok := external["com.apple.security.cs.disable-library-validation"]; !ok {
		t.Error("externals need library validation disabled")
	}
}

// TestConfigRoundtrip verifies JSON configuration write and load.
func TestConfigRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maxutils.json")
	sample := SampleConfig("MyApp")
	if err := WriteConfig(path, sample); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Standalone != "MyApp.app" {
		t.Errorf("Standalone = %q", loaded.Standalone)
	}
	if loaded.BundleID != "com.acme.MyApp" {
		t.Errorf("BundleID = %q", loaded.BundleID)
	}
	if loaded.Packaging != "zip" {
		t.Errorf("Packaging = %q", loaded.Packaging)
	}
	if len(loaded.Entitlements) != len(StandaloneEntitlements) {
		t.Errorf("entitlements lost in roundtrip: %d keys", len(loaded.Entitlements))
	}
}

// TestLoadConfigErrors verifies failure modes for missing and malformed
// configuration files.
func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}
