package maxutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// AdhocIdentity is the codesign identity for ad-hoc signatures.
const AdhocIdentity = "-"

// defaultLocalPrefixes are directory prefixes that mark a linked library
// as a user/local install rather than an OS-provided one. Only libraries
// under these prefixes are bundled; everything else is guaranteed present
// on the target machine and must not be duplicated.
var defaultLocalPrefixes = []string{
	"/opt/local/",
	"/usr/local/",
	"/Users/",
	"/tmp/",
}

// FixConfig parameterizes a Fixer with a destination layout and
// classification policy.
type FixConfig struct {
	// DestDir is the absolute directory inside the bundle that resolved
	// dependencies are copied into.
	DestDir string
	// Backref is the reference prefix written into the top-level binary,
	// pointing from its location back to DestDir.
	Backref string
	// LocalPrefixes overrides the default set of local-install prefixes.
	LocalPrefixes []string
	// DefaultLibDir resolves references with an empty directory
	// component. Defaults to /usr/local/lib.
	DefaultLibDir string
	// Identity is the codesign identity used for signature repair.
	// Defaults to ad-hoc.
	Identity string
}

func (c FixConfig) withDefaults() FixConfig {
	if c.LocalPrefixes == nil {
		c.LocalPrefixes = defaultLocalPrefixes
	}
	if c.DefaultLibDir == "" {
		c.DefaultLibDir = "/usr/local/lib"
	}
	if c.Identity == "" {
		c.Identity = AdhocIdentity
	}
	return c
}

// IsLocal reports whether a reference whose directory component is dir
// points at a relocatable local dependency. An empty directory component
// is local (it resolves under DefaultLibDir, never the working directory).
func (c FixConfig) IsLocal(dir string) bool {
	if dir == "" {
		return true
	}
	for _, prefix := range c.LocalPrefixes {
		if strings.HasPrefix(dir, prefix) {
			return true
		}
	}
	return false
}

// ExternalLayout is the FixConfig for a Max external (.mxo): dependencies
// live in Contents/Frameworks and the plugin binary reaches them through
// @loader_path.
func ExternalLayout(bundle string) FixConfig {
	return FixConfig{
		DestDir: filepath.Join(bundle, "Contents", "Frameworks"),
		Backref: "@loader_path/../Frameworks",
	}
}

// PackageLayout is the FixConfig for a Max package: dependencies live in
// support/libs next to the externals directory.
func PackageLayout(root string) FixConfig {
	return FixConfig{
		DestDir: filepath.Join(root, "support", "libs"),
		Backref: "@loader_path/../../../../support/libs",
	}
}

// Reference is a single linked-library entry found in a binary,
// classified as local.
type Reference struct {
	// Raw is the path string exactly as recorded in the binary.
	Raw string
	// Resolved is the cleaned filesystem path after empty-directory
	// normalization.
	Resolved string
	// Name is the destination basename.
	Name string
}

// Dependency is one distinct local library discovered during resolution.
type Dependency struct {
	// Source is the resolved on-disk path the library is copied from.
	Source string
	// Name is the destination basename; exactly one Dependency exists
	// per distinct name.
	Name string
	// Dest is the copy destination inside the bundle.
	Dest string
}

// RewriteInstruction is one install-name edit to apply to Target. With
// SetID set it rewrites the library's own install name; otherwise it
// changes the single reference Old to New.
type RewriteInstruction struct {
	Target string
	Old    string
	New    string
	SetID  bool
}

// Fixer makes the bundle containing Executable self-contained: it
// discovers the transitive closure of local dylib dependencies, copies
// them into the configured destination, rewrites every reference to the
// bundle-relative form, and re-signs all touched binaries.
//
// The five phases run strictly in order: the closure is fully computed
// before any copy, every copy lands before any rewrite, and signing
// happens last because any binary edit invalidates an existing signature.
type Fixer struct {
	Executable string
	Config     FixConfig

	tc  Toolchain
	log *logrus.Logger

	deps         []Dependency
	byName       map[string]string
	seen         map[string]bool
	instructions []RewriteInstruction
}

// NewFixer returns a Fixer for the given top-level binary. A nil
// toolchain uses the macOS command-line tools; a nil log uses the logrus
// standard logger.
func NewFixer(executable string, cfg FixConfig, tc Toolchain, log *logrus.Logger) *Fixer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if tc == nil {
		tc = NewMacToolchain(NewRunner(log))
	}
	return &Fixer{
		Executable: executable,
		Config:     cfg.withDefaults(),
		tc:         tc,
		log:        log,
	}
}

// NewExternalFixer returns a Fixer for a Max external bundle, using the
// external layout. The bundle must be a .mxo directory with a plugin
// binary at Contents/MacOS/<name>.
func NewExternalFixer(bundle string, log *logrus.Logger) (*Fixer, error) {
	if filepath.Ext(bundle) != ".mxo" {
		return nil, fmt.Errorf("not an external bundle: %s", bundle)
	}
	stem := strings.TrimSuffix(filepath.Base(bundle), ".mxo")
	executable := filepath.Join(bundle, "Contents", "MacOS", stem)
	if _, err := os.Stat(executable); err != nil {
		return nil, fmt.Errorf("external has no plugin binary: %w", err)
	}
	return NewFixer(executable, ExternalLayout(bundle), nil, log), nil
}

// Dependencies returns the discovered closure after Resolve, in discovery
// order.
func (f *Fixer) Dependencies() []Dependency { return f.deps }

// Instructions returns the rewrite instructions computed by Resolve.
func (f *Fixer) Instructions() []RewriteInstruction { return f.instructions }

// Process runs the full pipeline: resolve, materialize, rewrite, re-sign.
// It either completes all phases or returns the first failure; there is
// no rollback, so after a mid-pipeline failure callers should re-run
// against a pristine copy of the bundle.
func (f *Fixer) Process() error {
	if err := f.Resolve(); err != nil {
		return err
	}
	if err := f.materialize(); err != nil {
		return err
	}
	if err := f.rewrite(); err != nil {
		return err
	}
	return f.resign()
}

// Resolve computes the dependency closure and the rewrite plan without
// mutating anything on disk. State from a previous call is discarded.
func (f *Fixer) Resolve() error {
	f.deps = nil
	f.byName = make(map[string]string)
	f.seen = make(map[string]bool)
	f.instructions = nil

	refs, err := f.scan(f.Executable)
	if err != nil {
		return err
	}
	f.log.WithField("binary", f.Executable).Infof("found %d local references", len(refs))
	for _, ref := range refs {
		f.instructions = append(f.instructions, RewriteInstruction{
			Target: f.Executable,
			Old:    ref.Raw,
			New:    f.Config.Backref + "/" + ref.Name,
		})
		if err := f.visit(ref.Resolved); err != nil {
			return err
		}
	}
	return nil
}

// visit expands one dependency: registers it, scans its own references,
// and recurses into any not yet seen. The seen set guarantees termination
// on cyclic graphs.
func (f *Fixer) visit(source string) error {
	if f.seen[source] {
		return nil
	}
	f.seen[source] = true

	name := filepath.Base(source)
	if prev, ok := f.byName[name]; ok {
		if prev != source {
			return &CollisionError{Name: name, First: prev, Second: source}
		}
		return nil
	}
	f.byName[name] = source
	dest := filepath.Join(f.Config.DestDir, name)
	f.deps = append(f.deps, Dependency{Source: source, Name: name, Dest: dest})
	f.log.WithField("dep", source).Debug("discovered dependency")

	refs, err := f.scan(source)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if ref.Resolved == source {
			// The library's own install-name entry: rewritten in place
			// on the copied file with an id-style edit. Matched by the
			// resolved path, so a same-basename library from another
			// prefix falls through and surfaces as a collision instead.
			f.instructions = append(f.instructions, RewriteInstruction{
				Target: dest,
				New:    "@rpath/" + ref.Name,
				SetID:  true,
			})
			continue
		}
		f.instructions = append(f.instructions, RewriteInstruction{
			Target: dest,
			Old:    ref.Raw,
			New:    "@rpath/" + ref.Name,
		})
		if err := f.visit(ref.Resolved); err != nil {
			return err
		}
	}
	return nil
}

// scan introspects one binary and returns its local references in
// load-command order. System references are dropped here.
func (f *Fixer) scan(path string) ([]Reference, error) {
	libs, err := f.tc.LinkedLibraries(path)
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	var refs []Reference
	for _, lib := range libs {
		dir, name := filepath.Split(lib.Path)
		dir = strings.TrimSuffix(dir, "/")
		if !f.Config.IsLocal(dir) {
			continue
		}
		resolved := lib.Path
		if dir == "" {
			resolved = filepath.Join(f.Config.DefaultLibDir, name)
		}
		resolved = filepath.Clean(resolved)
		refs = append(refs, Reference{
			Raw:      lib.Path,
			Resolved: resolved,
			Name:     filepath.Base(resolved),
		})
	}
	return refs, nil
}

// materialize copies every resolved dependency into DestDir, once each.
// An already-present destination file is left alone so that re-runs are
// cheap and do not re-copy.
func (f *Fixer) materialize() error {
	if len(f.deps) == 0 {
		return nil
	}
	if err := os.MkdirAll(f.Config.DestDir, 0o755); err != nil {
		return &MaterializeError{Dest: f.Config.DestDir, Err: err}
	}
	for _, dep := range f.deps {
		if _, err := os.Stat(dep.Dest); err == nil {
			f.log.WithField("dest", dep.Dest).Debug("already materialized")
			continue
		}
		f.log.Infof("copying %s -> %s", dep.Source, dep.Dest)
		if err := copyFile(dep.Source, dep.Dest); err != nil {
			return &MaterializeError{Source: dep.Source, Dest: dep.Dest, Err: err}
		}
		if err := os.Chmod(dep.Dest, 0o644); err != nil {
			return &MaterializeError{Source: dep.Source, Dest: dep.Dest, Err: err}
		}
	}
	return nil
}

// rewrite applies every planned install-name edit. Must run after
// materialize: instructions target the copied files.
func (f *Fixer) rewrite() error {
	for _, ins := range f.instructions {
		if ins.SetID {
			if err := f.tc.SetInstallName(ins.New, ins.Target); err != nil {
				return &RewriteError{Target: ins.Target, New: ins.New, Err: err}
			}
			continue
		}
		if err := f.tc.ChangeReference(ins.Old, ins.New, ins.Target); err != nil {
			return &RewriteError{Target: ins.Target, Old: ins.Old, New: ins.New, Err: err}
		}
	}
	return nil
}

// resign re-signs every touched binary. Runs last: both the copy (new
// install name) and every reference edit invalidate prior signatures, and
// downstream notarization rejects invalid ones.
func (f *Fixer) resign() error {
	for _, dep := range f.deps {
		f.log.Infof("re-signing %s", dep.Dest)
		if err := f.tc.Sign(dep.Dest, f.Config.Identity, true); err != nil {
			return &SignError{Path: dep.Dest, Err: err}
		}
	}
	f.log.Infof("re-signing %s", f.Executable)
	if err := f.tc.Sign(f.Executable, f.Config.Identity, true); err != nil {
		return &SignError{Path: f.Executable, Err: err}
	}
	return nil
}

// copyFile copies a single file using streaming I/O, following symlinks
// at the source.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}
