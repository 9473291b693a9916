package maxutils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-ini/ini"
	"howett.net/plist"
)

// ProductKind identifies the kind of Max artifact being processed.
type ProductKind int

const (
	ProductExternal ProductKind = iota
	ProductStandalone
	ProductPackage
)

func (k ProductKind) String() string {
	switch k {
	case ProductExternal:
		return "external"
	case ProductStandalone:
		return "standalone"
	case ProductPackage:
		return "package"
	default:
		return "unknown"
	}
}

var externalSuffixes = map[string]bool{".mxo": true, ".mxe64": true, ".mxe": true}

// Product is a Max artifact on disk together with the release metadata
// used to derive archive names.
type Product struct {
	Path    string
	Name    string
	Kind    ProductKind
	Version string
	Arch    string
	System  string
}

// DetectProduct classifies path by suffix: externals (.mxo/.mxe64/.mxe),
// standalones (.app) or, for plain directories, packages.
func DetectProduct(path, version string) (*Product, error) {
	if version == "" {
		version = "0.0.1"
	}
	p := &Product{
		Path:    path,
		Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Version: version,
		Arch:    hostArch(),
		System:  runtime.GOOS,
	}
	ext := filepath.Ext(path)
	switch {
	case externalSuffixes[ext]:
		p.Kind = ProductExternal
	case ext == ".app":
		p.Kind = ProductStandalone
	default:
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot classify product: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("cannot classify product: %s", path)
		}
		p.Kind = ProductPackage
	}
	return p, nil
}

// DistName is the standard distributable name:
// <name>-<system>-<arch>-<version>.
func (p *Product) DistName() string {
	return fmt.Sprintf("%s-%s-%s-%s", p.Name, p.System, p.Arch, p.Version)
}

// DMGPath is where the product's disk image lands, next to the product.
func (p *Product) DMGPath() string {
	return filepath.Join(filepath.Dir(p.Path), p.DistName()+".dmg")
}

// CachePath is the build cache file, next to the product.
func (p *Product) CachePath() string {
	return filepath.Join(filepath.Dir(p.Path), "build.ini")
}

// CacheSet writes key/value entries to the build cache, replacing any
// existing cache section.
func (p *Product) CacheSet(entries map[string]string) error {
	cfg := ini.Empty()
	sec, err := cfg.NewSection("cache")
	if err != nil {
		return err
	}
	for k, v := range entries {
		if _, err := sec.NewKey(k, v); err != nil {
			return err
		}
	}
	return cfg.SaveTo(p.CachePath())
}

// CacheGet reads one entry from the build cache.
func (p *Product) CacheGet(key string) (string, error) {
	cfg, err := ini.Load(p.CachePath())
	if err != nil {
		return "", fmt.Errorf("reading build cache: %w", err)
	}
	k, err := cfg.Section("cache").GetKey(key)
	if err != nil {
		return "", fmt.Errorf("build cache has no %q: %w", key, err)
	}
	return k.String(), nil
}

// hostArch maps the Go architecture name to the macOS toolchain name.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i386"
	default:
		return runtime.GOARCH
	}
}

// ReadInfoPlist parses a bundle's Info.plist into a generic map.
func ReadInfoPlist(bundle string) (map[string]interface{}, error) {
	data, err := os.ReadFile(filepath.Join(bundle, "Contents", "Info.plist"))
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}
	var info map[string]interface{}
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	return info, nil
}

// BundleID reads CFBundleIdentifier from a bundle's Info.plist.
func BundleID(bundle string) (string, error) {
	info, err := ReadInfoPlist(bundle)
	if err != nil {
		return "", err
	}
	id, ok := info["CFBundleIdentifier"].(string)
	if !ok {
		return "", fmt.Errorf("CFBundleIdentifier not found in Info.plist")
	}
	return id, nil
}

// ExecutablePath resolves the main binary of an .app bundle from
// CFBundleExecutable.
func ExecutablePath(bundle string) (string, error) {
	info, err := ReadInfoPlist(bundle)
	if err != nil {
		return "", err
	}
	name, ok := info["CFBundleExecutable"].(string)
	if !ok {
		return "", fmt.Errorf("CFBundleExecutable not found in Info.plist")
	}
	return filepath.Join(bundle, "Contents", "MacOS", name), nil
}
