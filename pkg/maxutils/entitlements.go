package maxutils

import (
	"encoding/json"
	"fmt"
	"os"

	"howett.net/plist"
)

// StandaloneEntitlements are the hardened-runtime exceptions a Max
// standalone needs to load third-party externals, JIT-compiled code
// (Gen, Java, Javascript), audio drivers, and AppleScript automation.
var StandaloneEntitlements = map[string]interface{}{
	"com.apple.security.automation.apple-events":             true,
	"com.apple.security.cs.allow-dyld-environment-variables": true,
	"com.apple.security.cs.allow-jit":                        true,
	"com.apple.security.cs.allow-unsigned-executable-memory": true,
	"com.apple.security.cs.disable-library-validation":       true,
	"com.apple.security.device.audio-input":                  true,
}

// ExternalEntitlements is the smaller set an external needs on its own.
var ExternalEntitlements = map[string]interface{}{
	"com.apple.security.cs.allow-jit":                        true,
	"com.apple.security.cs.allow-unsigned-executable-memory": true,
	"com.apple.security.cs.disable-library-validation":       true,
}

// DefaultEntitlements returns the built-in entitlement set for a product
// kind. Packages sign their contained externals, so they share the
// external set.
func DefaultEntitlements(kind ProductKind) map[string]interface{} {
	if kind == ProductStandalone {
		return StandaloneEntitlements
	}
	return ExternalEntitlements
}

// WriteEntitlements writes an entitlements map as an XML plist.
func WriteEntitlements(path string, entitlements map[string]interface{}) error {
	data, err := plist.MarshalIndent(entitlements, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("failed to marshal entitlements: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write entitlements: %w", err)
	}
	return nil
}

// Config is the project configuration driving the automated process
// pipeline, normally read from a JSON file next to the product.
type Config struct {
	Standalone      string                 `json:"standalone"`
	Version         string                 `json:"app_version"`
	Arch            string                 `json:"arch"`
	DevID           string                 `json:"dev_id"`
	KeychainProfile string                 `json:"keychain_profile"`
	BundleID        string                 `json:"bundle_id"`
	Packaging       string                 `json:"packaging"`
	RemoveAttrs     bool                   `json:"remove_attrs"`
	NormPerms       bool                   `json:"norm_perms"`
	Include         []string               `json:"include,omitempty"`
	Entitlements    map[string]interface{} `json:"entitlements,omitempty"`
}

// SampleConfig returns a filled-in configuration suitable as a starting
// point for a new project.
func SampleConfig(appname string) *Config {
	return &Config{
		Standalone:      appname + ".app",
		Version:         "0.1.2",
		Arch:            "dual",
		DevID:           "Bugs Bunny",
		KeychainProfile: "notary-profile",
		BundleID:        "com.acme." + appname,
		Packaging:       "zip",
		Include:         []string{"README.md"},
		Entitlements:    StandaloneEntitlements,
	}
}

// LoadConfig reads a JSON project configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// WriteConfig writes a JSON project configuration.
func WriteConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
