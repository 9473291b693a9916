package maxutils

import (
	"fmt"
	"regexp"
	"strings"
)

// LinkedLibrary is one load-command entry reported by the introspection
// tool: the raw path string recorded in the binary plus the trailing
// compatibility-version annotation.
type LinkedLibrary struct {
	Path   string
	Compat string
}

// Toolchain abstracts the native binary tools the Fixer drives. The only
// contract with them is exit status: zero means success, anything else
// aborts the pipeline.
type Toolchain interface {
	// LinkedLibraries lists the dynamic libraries linked by the binary at
	// path, in load-command order (equivalent to `otool -L`).
	LinkedLibraries(path string) ([]LinkedLibrary, error)
	// SetInstallName rewrites target's own install name
	// (equivalent to `install_name_tool -id`).
	SetInstallName(id, target string) error
	// ChangeReference rewrites one linked-library reference inside target
	// (equivalent to `install_name_tool -change`).
	ChangeReference(old, new, target string) error
	// Sign applies a code signature to path. A preserving sign keeps the
	// existing identifier, entitlements, flags and runtime metadata.
	Sign(path, identity string, preserve bool) error
}

// MacToolchain drives the macOS command-line developer tools through a
// Runner.
type MacToolchain struct {
	Run Runner
}

// NewMacToolchain returns a Toolchain backed by otool, install_name_tool
// and codesign.
func NewMacToolchain(run Runner) *MacToolchain {
	return &MacToolchain{Run: run}
}

func (t *MacToolchain) LinkedLibraries(path string) ([]LinkedLibrary, error) {
	out, err := t.Run.Output("otool", "-L", path)
	if err != nil {
		return nil, err
	}
	return parseLinkedLibraries(out)
}

func (t *MacToolchain) SetInstallName(id, target string) error {
	return t.Run.Run("install_name_tool", "-id", id, target)
}

func (t *MacToolchain) ChangeReference(old, new, target string) error {
	return t.Run.Run("install_name_tool", "-change", old, new, target)
}

func (t *MacToolchain) Sign(path, identity string, preserve bool) error {
	args := []string{"-s", identity, "--force"}
	if preserve {
		args = append(args, "--deep", "--preserve-metadata=identifier,entitlements,flags,runtime")
	}
	args = append(args, path)
	return t.Run.Run("codesign", args...)
}

// refLine matches one reference line of otool -L output, e.g.
//
//	/usr/lib/libSystem.B.dylib (compatibility version 1.0.0, current version 1319.0.0)
//
// The leading header line ("<binary>:") does not match and is skipped.
var refLine = regexp.MustCompile(`^(\S+)\s+(\(compatibility version .+\))$`)

func parseLinkedLibraries(out string) ([]LinkedLibrary, error) {
	var libs []LinkedLibrary
	for i, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasSuffix(trimmed, ":") {
			continue // header line naming the inspected binary
		}
		m := refLine.FindStringSubmatch(trimmed)
		if m == nil {
			return nil, fmt.Errorf("unrecognized otool output at line %d: %q", i+1, line)
		}
		libs = append(libs, LinkedLibrary{Path: m[1], Compat: m[2]})
	}
	return libs, nil
}
