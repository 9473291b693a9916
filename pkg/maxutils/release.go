package maxutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Notarizer submits signed artifacts to Apple's notary service and
// waits for the verdict.
type Notarizer struct {
	KeychainProfile string

	run Runner
	log *logrus.Logger
}

// NewNotarizer returns a Notarizer that authenticates with a stored
// notarytool keychain profile.
func NewNotarizer(profile string, run Runner, log *logrus.Logger) *Notarizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if run == nil {
		run = NewRunner(log)
	}
	return &Notarizer{KeychainProfile: profile, run: run, log: log}
}

// Submit uploads the archive at path and blocks until notarization
// completes.
func (n *Notarizer) Submit(path string) error {
	if n.KeychainProfile == "" {
		return fmt.Errorf("notarization requires a keychain profile")
	}
	n.log.WithField("archive", path).Info("submitting for notarization")
	return n.run.Run("xcrun", "notarytool", "submit", path,
		"--keychain-profile", n.KeychainProfile, "--wait")
}

// IsNotarized reports whether Gatekeeper accepts the artifact. Apps and
// bundles are assessed for execution, packages for install.
func (n *Notarizer) IsNotarized(path string) bool {
	assessType := "execute"
	if strings.HasSuffix(path, ".pkg") {
		assessType = "install"
	}
	return n.run.Run("spctl", "--assess", "--type="+assessType, path) == nil
}

// Staple attaches the notarization ticket to the artifact so it
// validates offline.
func Staple(path string, run Runner, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if run == nil {
		run = NewRunner(log)
	}
	log.WithField("target", path).Info("stapling notarization ticket")
	return run.Run("xcrun", "stapler", "staple", "-v", path)
}

// ZipArchive compresses src into a zip at dst with ditto, preserving
// resource forks and the enclosing directory.
func ZipArchive(src, dst string, run Runner) error {
	return run.Run("ditto", "-c", "-k", "--keepParent", src, dst)
}

// CreateDMG wraps src in a compressed disk image at dst.
func CreateDMG(src, dst, volname string, run Runner) error {
	if volname == "" {
		volname = strings.TrimSuffix(filepath.Base(dst), ".dmg")
	}
	return run.Run("hdiutil", "create",
		"-volname", volname,
		"-srcfolder", src,
		"-ov", "-format", "UDZO",
		dst)
}

// CreatePKG builds a signed installer package that places the app in
// /Applications. The developer name selects the matching Developer ID
// Installer certificate.
func CreatePKG(app, dst, developer string, run Runner) error {
	args := []string{}
	if developer != "" {
		args = append(args, "--sign", "Developer ID Installer: "+developer)
	}
	args = append(args, "--component", app, "/Applications", dst)
	return run.Run("productbuild", args...)
}

// SignArtifact signs a distribution artifact (a dmg, typically) with
// the hardened runtime.
func SignArtifact(path, authority string, run Runner) error {
	return run.Run("codesign",
		"--sign", authority,
		"--deep", "--force", "--verbose",
		"--options", "runtime",
		path)
}

// PackagingFormat selects the distribution container for a release.
type PackagingFormat string

const (
	PackageZip PackagingFormat = "zip"
	PackagePKG PackagingFormat = "pkg"
	PackageDMG PackagingFormat = "dmg"
)

// Distributor names and stages release artifacts.
type Distributor struct {
	Product *Product
	OutDir  string

	log *logrus.Logger
}

// NewDistributor returns a Distributor that writes artifacts next to the
// product unless outDir says otherwise.
func NewDistributor(product *Product, outDir string, log *logrus.Logger) *Distributor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if outDir == "" {
		outDir = filepath.Dir(product.Path)
	}
	return &Distributor{Product: product, OutDir: outDir, log: log}
}

// ArtifactPath returns the destination path for the given format.
func (d *Distributor) ArtifactPath(format PackagingFormat) string {
	return filepath.Join(d.OutDir, d.Product.DistName()+"."+string(format))
}

// Stage copies the finished artifact into the output directory, making
// the directory on demand.
func (d *Distributor) Stage(artifact string) (string, error) {
	if err := os.MkdirAll(d.OutDir, 0755); err != nil {
		return "", fmt.Errorf("cannot create output dir %s: %w", d.OutDir, err)
	}
	dst := filepath.Join(d.OutDir, filepath.Base(artifact))
	if artifact == dst {
		return dst, nil
	}
	if err := copyFile(artifact, dst); err != nil {
		return "", fmt.Errorf("cannot stage %s: %w", artifact, err)
	}
	d.log.WithField("artifact", dst).Info("staged release artifact")
	return dst, nil
}

// Standalone drives the full release pipeline for one product:
// preprocess, fix references, sign, package, notarize, staple and
// stage.
type Standalone struct {
	Product   *Product
	Config    *Config
	Authority string
	Format    PackagingFormat

	run Runner
	log *logrus.Logger
}

// NewStandalone builds the pipeline from a product and its release
// configuration.
func NewStandalone(product *Product, cfg *Config, run Runner, log *logrus.Logger) *Standalone {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if run == nil {
		run = NewRunner(log)
	}
	format := PackagingFormat(cfg.Packaging)
	if format == "" {
		format = PackageZip
	}
	authority := AdhocIdentity
	if cfg.DevID != "" {
		authority = "Developer ID Application: " + cfg.DevID
	}
	return &Standalone{
		Product:   product,
		Config:    cfg,
		Authority: authority,
		Format:    format,
		run:       run,
		log:       log,
	}
}

// Preprocess cleans attributes and permissions and thins architectures
// per the configuration.
func (s *Standalone) Preprocess() error {
	arch := ""
	if s.Config.Arch != "" && s.Config.Arch != "dual" {
		arch = s.Config.Arch
	}
	pre := NewPreProcessor(s.Product.Path, arch, s.Config.RemoveAttrs, s.Config.NormPerms, s.run, s.log)
	return pre.Process()
}

// Fix relocates bundled dylib dependencies inside the product.
func (s *Standalone) Fix() error {
	exe, err := ExecutablePath(s.Product.Path)
	if err != nil {
		return err
	}
	cfg := ExternalLayout(s.Product.Path)
	cfg.Identity = s.Authority
	fixer := NewFixer(exe, cfg, NewMacToolchain(s.run), s.log)
	return fixer.Process()
}

// Sign writes entitlements and recursively signs the product.
func (s *Standalone) Sign() error {
	entitlements := filepath.Join(filepath.Dir(s.Product.Path), "entitlements.plist")
	ent := s.Config.Entitlements
	if len(ent) == 0 {
		ent = DefaultEntitlements(s.Product.Kind)
	}
	if err := WriteEntitlements(entitlements, ent); err != nil {
		return err
	}
	signer := NewCodesigner(s.Product.Path, s.Authority, entitlements, s.run, s.log)
	return signer.Process()
}

// Package produces the distribution artifact for the configured format
// and returns its path.
func (s *Standalone) Package() (string, error) {
	dist := NewDistributor(s.Product, "", s.log)
	artifact := dist.ArtifactPath(s.Format)

	switch s.Format {
	case PackageZip:
		if err := ZipArchive(s.Product.Path, artifact, s.run); err != nil {
			return "", err
		}
	case PackagePKG:
		if err := CreatePKG(s.Product.Path, artifact, s.Config.DevID, s.run); err != nil {
			return "", err
		}
	case PackageDMG:
		if err := CreateDMG(s.Product.Path, artifact, s.Product.Name, s.run); err != nil {
			return "", err
		}
		if s.Authority != AdhocIdentity {
			if err := SignArtifact(artifact, s.Authority, s.run); err != nil {
				return "", err
			}
		}
	default:
		return "", fmt.Errorf("unknown packaging format %q", s.Format)
	}
	return artifact, nil
}

// Notarize submits the artifact and staples the resulting ticket. A zip
// cannot hold a ticket, so the enclosed bundle is stapled instead.
func (s *Standalone) Notarize(artifact string) error {
	if s.Authority == AdhocIdentity {
		s.log.Info("ad-hoc signature, skipping notarization")
		return nil
	}
	notarizer := NewNotarizer(s.Config.KeychainProfile, s.run, s.log)
	if err := notarizer.Submit(artifact); err != nil {
		return err
	}
	target := artifact
	if s.Format == PackageZip {
		target = s.Product.Path
	}
	return Staple(target, s.run, s.log)
}

// Process runs the whole pipeline and returns the final artifact path.
func (s *Standalone) Process() (string, error) {
	if err := s.Preprocess(); err != nil {
		return "", err
	}
	if err := s.Fix(); err != nil {
		return "", err
	}
	if err := s.Sign(); err != nil {
		return "", err
	}
	artifact, err := s.Package()
	if err != nil {
		return "", err
	}
	if err := s.Notarize(artifact); err != nil {
		return "", err
	}
	if err := s.Product.CacheSet(map[string]string{
		"product":  s.Product.Path,
		"artifact": artifact,
		"arch":     s.Product.Arch,
		"version":  s.Product.Version,
	}); err != nil {
		s.log.WithError(err).Warn("could not record build cache")
	}
	return artifact, nil
}
