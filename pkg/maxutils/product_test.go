package maxutils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"howett.net/plist"
)

// TestDetectProduct verifies suffix-based product classification.
func TestDetectProduct(t *testing.T) {
	cases := []struct {
		path string
		kind ProductKind
		name string
	}{
		{"/build/chorus.mxo", ProductExternal, "chorus"},
		{"/build/chorus.mxe64", ProductExternal, "chorus"},
		{"/build/MyApp.app", ProductStandalone, "MyApp"},
	}
	for _, tc := range cases {
		p, err := DetectProduct(tc.path, "1.2.3")
		if err != nil {
			t.Fatalf("DetectProduct(%q) failed: %v", tc.path, err)
		}
		if p.Kind != tc.kind {
			t.Errorf("DetectProduct(%q).Kind = %v, want %v", tc.path, p.Kind, tc.kind)
		}
		if p.Name != tc.name {
			t.Errorf("DetectProduct(%q).Name = %q, want %q", tc.path, p.Name, tc.name)
		}
	}
}

// TestDetectProductPackage verifies that a plain directory classifies as
// a package and a plain file is rejected.
func TestDetectProductPackage(t *testing.T) {
	tmp := t.TempDir()
	pkgDir := filepath.Join(tmp, "MyPackage")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	p, err := DetectProduct(pkgDir, "")
	if err != nil {
		t.Fatalf("DetectProduct failed: %v", err)
	}
	if p.Kind != ProductPackage {
		t.Errorf("expected package, got %v", p.Kind)
	}
	if p.Version != "0.0.1" {
		t.Errorf("expected default version, got %q", p.Version)
	}

	file := filepath.Join(tmp, "notes.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := DetectProduct(file, ""); err == nil {
		t.Error("expected an error for a plain file")
	}
}

// TestDistName verifies the canonical artifact naming scheme.
func TestDistName(t *testing.T) {
	p := &Product{
		Name:    "MyApp",
		Version: "2.0.0",
		Arch:    "arm64",
		System:  "darwin",
	}
	if got, want := p.DistName(), "MyApp-darwin-arm64-2.0.0"; got != want {
		t.Errorf("DistName = %q, want %q", got, want)
	}
	if got, want := filepath.Base(p.DMGPath()), "MyApp-darwin-arm64-2.0.0.dmg"; got != want {
		t.Errorf("DMGPath base = %q, want %q", got, want)
	}
}

// TestBuildCacheRoundtrip verifies that cache entries survive a write
// and read cycle.
func TestBuildCacheRoundtrip(t *testing.T) {
	tmp := t.TempDir()
	p, err := DetectProduct(filepath.Join(tmp, "MyApp.app"), "1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	entries := map[string]string{
		"artifact": "/out/MyApp-darwin-arm64-1.0.0.dmg",
		"arch":     "arm64",
	}
	if err := p.CacheSet(entries); err != nil {
		t.Fatalf("CacheSet failed: %v", err)
	}
	for key, want := range entries {
		got, err := p.CacheGet(key)
		if err != nil {
			t.Fatalf("CacheGet(%q) failed: %v", key, err)
		}
		if got != want {
			t.Errorf("CacheGet(%q) = %q, want %q", key, got, want)
		}
	}
	if _, err := p.CacheGet("missing"); err == nil {
		t.Error("expected an error for a missing cache key")
	}
}

// TestHostArch verifies the Go-to-toolchain architecture mapping.
func TestHostArch(t *testing.T) {
	arch := hostArch()
	switch runtime.GOARCH {
	case "amd64":
		if arch != "x86_64" {
			t.Errorf("expected x86_64, got %s", arch)
		}
	case "arm64":
		if arch != "arm64" {
			t.Errorf("expected arm64, got %s", arch)
		}
	}
}

func writeInfoPlist(t *testing.T, bundle string, info map[string]interface{}) {
	t.Helper()
	dir := filepath.Join(bundle, "Contents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := plist.MarshalIndent(info, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Info.plist"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestBundleMetadata verifies Info.plist access helpers.
func TestBundleMetadata(t *testing.T) {
	bundle := filepath.Join(t.TempDir(), "MyApp.app")
	writeInfoPlist(t, bundle, map[string]interface{}{
		"CFBundleIdentifier": "com.acme.myapp",
		"CFBundleExecutable": "MyApp",
	})

	id, err := BundleID(bundle)
	if err != nil {
		t.Fatalf("BundleID failed: %v", err)
	}
	if id != "com.acme.myapp" {
		t.Errorf("BundleID = %q", id)
	}

	exe, err := ExecutablePath(bundle)
	if err != nil {
		t.Fatalf("ExecutablePath failed: %v", err)
	}
	want := filepath.Join(bundle, "Contents", "MacOS", "MyApp")
	if exe != want {
		t.Errorf("ExecutablePath = %q, want %q", exe, want)
	}

	if _, err := BundleID(filepath.Join(t.TempDir(), "Nope.app")); err == nil {
		t.Error("expected an error for a missing Info.plist")
	}
}

// TestProductKindString keeps the kind names stable for artifact naming
// and logging.
func TestProductKindString(t *testing.T) {
	for kind, want := range map[ProductKind]string{
		ProductExternal:   "external",
		ProductStandalone: "standalone",
		ProductPackage:    "package",
	} {
		if got := fmt.Sprint(kind); got != want {
			t.Errorf("ProductKind(%d) = %q, want %q", kind, got, want)
		}
	}
}
