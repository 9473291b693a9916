package maxutils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// bundleSuffixes are directory bundles that receive their own signature.
var bundleSuffixes = map[string]bool{
	".mxo":       true,
	".framework": true,
	".app":       true,
	".bundle":    true,
}

// binarySuffixes are loose binary files signed individually.
var binarySuffixes = map[string]bool{
	".so":    true,
	".dylib": true,
}

// Codesigner recursively signs a bundle: loose binaries and nested
// bundles first, the enclosing runtime last, so every signature covers
// already-valid contents.
type Codesigner struct {
	Path         string
	Authority    string
	Entitlements string // path to an entitlements plist, optional

	run Runner
	log *logrus.Logger

	internals  []string
	frameworks []string
	apps       []string
}

// NewCodesigner returns a Codesigner for the bundle at path. An empty
// authority signs ad-hoc.
func NewCodesigner(path, authority, entitlements string, run Runner, log *logrus.Logger) *Codesigner {
	if authority == "" {
		authority = AdhocIdentity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if run == nil {
		run = NewRunner(log)
	}
	return &Codesigner{
		Path:         path,
		Authority:    authority,
		Entitlements: entitlements,
		run:          run,
		log:          log,
	}
}

// Collect walks the bundle and gathers signable targets. Symlinks are
// skipped; regular files without a known suffix are signed only when
// they carry a Mach-O magic number.
func (c *Codesigner) Collect() error {
	c.internals = nil
	c.frameworks = nil
	c.apps = nil

	err := filepath.WalkDir(c.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == c.Path {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		ext := filepath.Ext(path)
		if d.IsDir() {
			switch {
			case ext == ".framework":
				c.frameworks = append(c.frameworks, path)
			case ext == ".app":
				c.apps = append(c.apps, path)
			case bundleSuffixes[ext]:
				c.internals = append(c.internals, path)
			}
			return nil
		}
		if binarySuffixes[ext] {
			c.internals = append(c.internals, path)
			return nil
		}
		// Extensionless Mach-O files (helper executables) also need a
		// signature, but only when they are actual binaries.
		if ext == "" && IsMachO(path) {
			c.internals = append(c.internals, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collecting signable targets in %s: %w", c.Path, err)
	}

	// Deepest first, so nested bundles are signed before what contains
	// them.
	for _, group := range [][]string{c.internals, c.frameworks, c.apps} {
		sort.SliceStable(group, func(i, j int) bool {
			return strings.Count(group[i], string(os.PathSeparator)) >
				strings.Count(group[j], string(os.PathSeparator))
		})
	}
	return nil
}

// Targets returns the collected signable paths, internals first.
func (c *Codesigner) Targets() []string {
	var all []string
	all = append(all, c.internals...)
	all = append(all, c.frameworks...)
	all = append(all, c.apps...)
	return all
}

func (c *Codesigner) baseArgs() []string {
	args := []string{"--sign", c.Authority}
	if c.Authority != AdhocIdentity {
		args = append(args, "--timestamp")
	}
	return append(args, "--deep", "--force")
}

// SignInternal signs one nested binary or bundle.
func (c *Codesigner) SignInternal(path string) error {
	c.log.WithField("target", path).Info("signing internal")
	args := append(c.baseArgs(), path)
	if err := c.run.Run("codesign", args...); err != nil {
		return &SignError{Path: path, Err: err}
	}
	return nil
}

// SignRuntime signs a runtime bundle with the hardened runtime enabled
// and the configured entitlements.
func (c *Codesigner) SignRuntime(path string) error {
	c.log.WithField("target", path).Info("signing runtime")
	args := append(c.baseArgs(), "--options", "runtime")
	if c.Entitlements != "" {
		args = append(args, "--entitlements", c.Entitlements)
	}
	args = append(args, path)
	if err := c.run.Run("codesign", args...); err != nil {
		return &SignError{Path: path, Err: err}
	}
	return nil
}

// Verify checks the bundle's signature with codesign.
func (c *Codesigner) Verify() error {
	return c.run.Run("codesign", "--verify", "--deep", "--strict", c.Path)
}

// IsSigned reports whether the bundle currently carries a valid
// signature.
func (c *Codesigner) IsSigned() bool {
	return c.run.Run("codesign", "--verify", c.Path) == nil
}

// IsAdhocSigned reports whether the bundle's signature is ad-hoc.
func (c *Codesigner) IsAdhocSigned() bool {
	out, err := c.run.Output("codesign", "--display", "--verbose", c.Path)
	if err != nil {
		return false
	}
	return strings.Contains(out, "Signature=adhoc")
}

// RemoveSignature strips the existing signature from the bundle.
func (c *Codesigner) RemoveSignature() error {
	return c.run.Run("codesign", "--remove-signature", c.Path)
}

// Process collects and signs everything, then verifies the result.
func (c *Codesigner) Process() error {
	if len(c.internals) == 0 && len(c.frameworks) == 0 && len(c.apps) == 0 {
		if err := c.Collect(); err != nil {
			return err
		}
	}

	for _, path := range c.internals {
		if err := c.SignInternal(path); err != nil {
			return err
		}
	}
	for _, path := range c.apps {
		// Nested apps sign their own executables before their runtime.
		macosDir := filepath.Join(path, "Contents", "MacOS")
		entries, err := os.ReadDir(macosDir)
		if err == nil {
			for _, entry := range entries {
				if err := c.SignInternal(filepath.Join(macosDir, entry.Name())); err != nil {
					return err
				}
			}
		}
		if err := c.SignRuntime(path); err != nil {
			return err
		}
	}
	for _, path := range c.frameworks {
		if err := c.SignInternal(path); err != nil {
			return err
		}
	}
	if err := c.SignRuntime(c.Path); err != nil {
		return err
	}
	if err := c.Verify(); err != nil {
		return fmt.Errorf("signature verification failed for %s: %w", c.Path, err)
	}
	return nil
}

// SignFolder signs every bundle directly inside folder, in the manner of
// a package's externals/ or support/ directory.
func SignFolder(folder, authority, entitlements string, run Runner, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("cannot sign folder %s: %w", folder, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no targets to sign in %s", folder)
	}
	for _, entry := range entries {
		path := filepath.Join(folder, entry.Name())
		if !bundleSuffixes[filepath.Ext(path)] && !binarySuffixes[filepath.Ext(path)] {
			continue
		}
		signer := NewCodesigner(path, authority, entitlements, run, log)
		if err := signer.Process(); err != nil {
			return err
		}
	}
	return nil
}
