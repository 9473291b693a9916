package maxutils

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// SupportedArchitectures are the targets ditto can thin a universal
// binary down to.
var SupportedArchitectures = []string{"x86_64", "arm64", "i386"}

// PreProcessor prepares a bundle for signing: it strips extended
// attributes, normalizes permissions and optionally thins fat binaries
// to a single architecture.
type PreProcessor struct {
	Path        string
	Arch        string // thin to this architecture; empty keeps all slices
	RemoveAttrs bool
	NormPerms   bool

	run Runner
	log *logrus.Logger
}

// NewPreProcessor returns a PreProcessor for the bundle at path.
func NewPreProcessor(path, arch string, removeAttrs, normPerms bool, run Runner, log *logrus.Logger) *PreProcessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if run == nil {
		run = NewRunner(log)
	}
	return &PreProcessor{
		Path:        path,
		Arch:        arch,
		RemoveAttrs: removeAttrs,
		NormPerms:   normPerms,
		run:         run,
		log:         log,
	}
}

// RemoveAttributes strips extended attributes recursively. Stale
// com.apple.FinderInfo or quarantine attributes make codesign reject a
// bundle outright.
func (p *PreProcessor) RemoveAttributes() error {
	p.log.WithField("path", p.Path).Info("removing extended attributes")
	return p.run.Run("xattr", "-cr", p.Path)
}

// NormalizePermissions makes everything under the bundle writable by
// the owner so later copy and rewrite steps do not trip over read-only
// files.
func (p *PreProcessor) NormalizePermissions() error {
	p.log.WithField("path", p.Path).Info("normalizing permissions")
	return p.run.Run("chmod", "-R", "u+rw", p.Path)
}

// Size returns a human-readable size of the bundle as reported by du.
func (p *PreProcessor) Size() (string, error) {
	out, err := p.run.Output("du", "-s", "-h", p.Path)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("unexpected du output for %s: %q", p.Path, out)
	}
	return fields[0], nil
}

// Shrink thins every fat binary inside the bundle down to the
// configured architecture using ditto, replacing the bundle in place.
func (p *PreProcessor) Shrink() error {
	valid := false
	for _, arch := range SupportedArchitectures {
		if p.Arch == arch {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unsupported architecture %q (supported: %s)",
			p.Arch, strings.Join(SupportedArchitectures, ", "))
	}

	before, err := p.Size()
	if err != nil {
		p.log.WithError(err).Debug("could not measure initial size")
	}

	tmp := p.Path + "__tmp"
	p.log.WithFields(logrus.Fields{
		"path": p.Path,
		"arch": p.Arch,
	}).Info("shrinking to single architecture")
	if err := p.run.Run("ditto", "--arch", p.Arch, p.Path, tmp); err != nil {
		return fmt.Errorf("ditto failed for %s: %w", p.Path, err)
	}
	if err := os.RemoveAll(p.Path); err != nil {
		return fmt.Errorf("cannot remove original %s: %w", p.Path, err)
	}
	if err := os.Rename(tmp, p.Path); err != nil {
		return fmt.Errorf("cannot move shrunk copy into place: %w", err)
	}

	after, err := p.Size()
	if err == nil && before != "" {
		p.log.WithFields(logrus.Fields{
			"before": before,
			"after":  after,
		}).Info("shrink complete")
	}
	return nil
}

// Process runs the configured preparation steps in order.
func (p *PreProcessor) Process() error {
	if _, err := os.Stat(p.Path); err != nil {
		return fmt.Errorf("cannot preprocess %s: %w", p.Path, err)
	}
	if p.RemoveAttrs {
		if err := p.RemoveAttributes(); err != nil {
			return err
		}
	}
	if p.NormPerms {
		if err := p.NormalizePermissions(); err != nil {
			return err
		}
	}
	if p.Arch != "" {
		if err := p.Shrink(); err != nil {
			return err
		}
	}
	return nil
}
