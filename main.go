package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/sirupsen/logrus"

	"github.com/c74tools/maxutils/pkg/maxutils"
)

const version = "0.2.0"

const usage = `maxutils - Max/MSP product packaging tool

Post-production utilities for Max externals, packages and standalones:
relocate bundled dylib dependencies, clean and thin bundles, codesign
recursively, and produce notarized distribution archives.

Usage:
  maxutils fix --path=<path> [--dest-dir=<dir>] [--backref=<prefix>] [--exec=<path>] [--dev-id=<name>] [--dry-run]
  maxutils clean --path=<path>
  maxutils shrink --path=<path> --arch=<arch>
  maxutils sign --path=<path> [--dev-id=<name>] [--entitlements=<plist>] [--folder]
  maxutils package --path=<path> --format=<fmt> [--dev-id=<name>] [--version=<ver>] [--out=<dir>]
  maxutils notarize --path=<path> --keychain-profile=<name>
  maxutils staple --path=<path>
  maxutils dist --path=<path> [--version=<ver>] [--out=<dir>]
  maxutils process --path=<path> [--config=<json>]
  maxutils generate --name=<appname> [--config=<json>] [--entitlements=<plist>]
  maxutils info --path=<path> [--p12=<path>] [--password=<password>]
  maxutils -h | --help
  maxutils --version

Commands:
  fix       Copy local dylib dependencies into the bundle and rewrite references
  clean     Remove extended attributes and normalize permissions
  shrink    Thin fat binaries down to a single architecture
  sign      Codesign a bundle recursively (or every bundle in a folder)
  package   Produce a zip, pkg or dmg distribution archive
  notarize  Submit a signed archive to the notary service and wait
  staple    Attach the notarization ticket to an artifact
  dist      Stage a finished artifact under a canonical release name
  process   Run the full pipeline: clean, fix, sign, package, notarize, staple
  generate  Write sample configuration and entitlements files
  info      Show product and code signature details

Options:
  --path=<path>             Product bundle, binary or archive to operate on
  --dest-dir=<dir>          Directory dependencies are copied into (defaults to Contents/Frameworks)
  --backref=<prefix>        Loader-relative prefix for rewritten references (defaults to @loader_path/../Frameworks)
  --exec=<path>             Main executable, when it cannot be derived from the bundle
  --dev-id=<name>           Developer name on the signing certificate (or DEV_ID env var; ad-hoc when empty)
  --entitlements=<plist>    Entitlements plist to sign with (generate: output path)
  --folder                  Treat --path as a folder of bundles and sign each one
  --format=<fmt>            Packaging format: zip, pkg or dmg
  --version=<ver>           Product version used in artifact names
  --out=<dir>               Output directory for artifacts
  --keychain-profile=<name> notarytool keychain profile (or KEYCHAIN_PROFILE env var)
  --config=<json>           Project configuration file (defaults to maxutils.json)
  --name=<appname>          Application name for generated configuration
  --p12=<path>              P12 certificate to show identity details for (or MAXUTILS_P12 env var)
  --password=<password>     Password for the P12 certificate (or MAXUTILS_PASSWORD env var)
  --dry-run                 Resolve and print planned changes without applying them
  -h --help                 Show this help message
  --version                 Show version

Environment Variables:
  DEV_ID             Developer name on the signing certificate (overridden by --dev-id)
  KEYCHAIN_PROFILE   notarytool keychain profile (overridden by --keychain-profile)
  MAXUTILS_P12       Path to a P12 certificate file (overridden by --p12)
  MAXUTILS_PASSWORD  P12 certificate password (overridden by --password)

Examples:
  # Relocate Homebrew dylibs into an external and re-sign ad-hoc
  maxutils fix --path=chorus.mxo

  # Clean and thin a package to arm64
  maxutils clean --path=MyPackage
  maxutils shrink --path=MyPackage --arch=arm64

  # Sign a standalone with a Developer ID and hardened runtime
  maxutils sign --path=MyApp.app --dev-id="Bugs Bunny" --entitlements=entitlements.plist

  # Package, notarize and staple a standalone
  maxutils package --path=MyApp.app --format=dmg --dev-id="Bugs Bunny"
  maxutils notarize --path=MyApp-darwin-arm64-0.0.1.dmg --keychain-profile=notary-profile
  maxutils staple --path=MyApp.app

  # Full pipeline from a project configuration
  maxutils generate --name=MyApp
  maxutils process --path=MyApp.app --config=maxutils.json
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	commands := map[string]func(docopt.Opts, *logrus.Logger) error{
		"fix":      runFix,
		"clean":    runClean,
		"shrink":   runShrink,
		"sign":     runSign,
		"package":  runPackage,
		"notarize": runNotarize,
		"staple":   runStaple,
		"dist":     runDist,
		"process":  runProcess,
		"generate": runGenerate,
		"info":     runInfo,
	}

	for name, cmd := range commands {
		if selected, _ := opts.Bool(name); selected {
			if err := cmd(opts, log); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
}

func devID(opts docopt.Opts) string {
	dev, _ := opts.String("--dev-id")
	if dev == "" {
		dev = os.Getenv("DEV_ID")
	}
	return dev
}

func authority(opts docopt.Opts) string {
	if dev := devID(opts); dev != "" {
		return "Developer ID Application: " + dev
	}
	return maxutils.AdhocIdentity
}

func fixerFromOpts(opts docopt.Opts, log *logrus.Logger) (*maxutils.Fixer, error) {
	path, _ := opts.String("--path")
	destDir, _ := opts.String("--dest-dir")
	backref, _ := opts.String("--backref")
	exec, _ := opts.String("--exec")

	if destDir == "" && backref == "" && exec == "" {
		f, err := maxutils.NewExternalFixer(path, log)
		if err != nil {
			return nil, err
		}
		f.Config.Identity = authority(opts)
		return f, nil
	}

	cfg := maxutils.ExternalLayout(path)
	if destDir != "" {
		cfg.DestDir = destDir
	}
	if backref != "" {
		cfg.Backref = backref
	}
	if exec == "" {
		var err error
		exec, err = maxutils.ExecutablePath(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.Identity = authority(opts)
	return maxutils.NewFixer(exec, cfg, nil, log), nil
}

func runFix(opts docopt.Opts, log *logrus.Logger) error {
	dryRun, _ := opts.Bool("--dry-run")

	fixer, err := fixerFromOpts(opts, log)
	if err != nil {
		return err
	}

	if dryRun {
		if err := fixer.Resolve(); err != nil {
			return err
		}
		for _, dep := range fixer.Dependencies() {
			fmt.Printf("copy    %s -> %s\n", dep.Source, dep.Dest)
		}
		for _, ins := range fixer.Instructions() {
			verb := "rewrite"
			if ins.SetID {
				verb = "set-id "
			}
			fmt.Printf("%s %s: %s -> %s\n", verb, ins.Target, ins.Old, ins.New)
		}
		return nil
	}
	return fixer.Process()
}

func runClean(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	pre := maxutils.NewPreProcessor(path, "", true, true, nil, log)
	return pre.Process()
}

func runShrink(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	arch, _ := opts.String("--arch")
	pre := maxutils.NewPreProcessor(path, arch, false, false, nil, log)
	return pre.Process()
}

func runSign(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	entitlements, _ := opts.String("--entitlements")
	folder, _ := opts.Bool("--folder")

	if folder {
		return maxutils.SignFolder(path, authority(opts), entitlements, nil, log)
	}
	signer := maxutils.NewCodesigner(path, authority(opts), entitlements, nil, log)
	return signer.Process()
}

func runPackage(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	format, _ := opts.String("--format")
	ver, _ := opts.String("--version")
	out, _ := opts.String("--out")

	product, err := maxutils.DetectProduct(path, ver)
	if err != nil {
		return err
	}
	dist := maxutils.NewDistributor(product, out, log)
	artifact := dist.ArtifactPath(maxutils.PackagingFormat(format))
	run := maxutils.NewRunner(log)

	switch maxutils.PackagingFormat(format) {
	case maxutils.PackageZip:
		err = maxutils.ZipArchive(product.Path, artifact, run)
	case maxutils.PackagePKG:
		err = maxutils.CreatePKG(product.Path, artifact, devID(opts), run)
	case maxutils.PackageDMG:
		if err = maxutils.CreateDMG(product.Path, artifact, product.Name, run); err == nil {
			if auth := authority(opts); auth != maxutils.AdhocIdentity {
				err = maxutils.SignArtifact(artifact, auth, run)
			}
		}
	default:
		return fmt.Errorf("unknown packaging format %q (want zip, pkg or dmg)", format)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Created %s\n", artifact)
	return nil
}

func runNotarize(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	profile, _ := opts.String("--keychain-profile")
	if profile == "" {
		profile = os.Getenv("KEYCHAIN_PROFILE")
	}
	if profile == "" {
		return fmt.Errorf("--keychain-profile is required (or set KEYCHAIN_PROFILE environment variable)")
	}
	notarizer := maxutils.NewNotarizer(profile, nil, log)
	if err := notarizer.Submit(path); err != nil {
		return err
	}
	fmt.Printf("Notarization accepted for %s\n", path)
	return nil
}

func runStaple(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	return maxutils.Staple(path, nil, log)
}

func runDist(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	ver, _ := opts.String("--version")
	out, _ := opts.String("--out")

	product, err := maxutils.DetectProduct(path, ver)
	if err != nil {
		return err
	}
	dist := maxutils.NewDistributor(product, out, log)
	staged, err := dist.Stage(path)
	if err != nil {
		return err
	}
	fmt.Printf("Staged %s\n", staged)
	return nil
}

func runProcess(opts docopt.Opts, log *logrus.Logger) error {
	path, _ := opts.String("--path")
	configPath, _ := opts.String("--config")
	if configPath == "" {
		configPath = "maxutils.json"
	}

	cfg, err := maxutils.LoadConfig(configPath)
	if err != nil {
		return err
	}
	product, err := maxutils.DetectProduct(path, cfg.Version)
	if err != nil {
		return err
	}
	pipeline := maxutils.NewStandalone(product, cfg, nil, log)
	artifact, err := pipeline.Process()
	if err != nil {
		return err
	}
	fmt.Printf("Release ready: %s\n", artifact)
	return nil
}

func runGenerate(opts docopt.Opts, log *logrus.Logger) error {
	name, _ := opts.String("--name")
	configPath, _ := opts.String("--config")
	entPath, _ := opts.String("--entitlements")
	if configPath == "" {
		configPath = "maxutils.json"
	}
	if entPath == "" {
		entPath = "entitlements.plist"
	}

	if err := maxutils.WriteConfig(configPath, maxutils.SampleConfig(name)); err != nil {
		return err
	}
	if err := maxutils.WriteEntitlements(entPath, maxutils.StandaloneEntitlements); err != nil {
		return err
	}
	fmt.Printf("Wrote %s and %s\n", configPath, entPath)
	return nil
}

func runInfo(opts docopt.Opts, log *logrus.Logger) error {
	p12Path, _ := opts.String("--p12")
	if p12Path == "" {
		p12Path = os.Getenv("MAXUTILS_P12")
	}
	if p12Path != "" {
		password, _ := opts.String("--password")
		if password == "" {
			password = os.Getenv("MAXUTILS_PASSWORD")
		}
		identity, err := maxutils.LoadIdentityFile(p12Path, password)
		if err != nil {
			return err
		}
		fmt.Printf("Authority: %s\n", identity.Authority())
		if identity.TeamID != "" {
			fmt.Printf("Team ID:   %s\n", identity.TeamID)
		}
		fmt.Println()
	}

	path, _ := opts.String("--path")
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return printBinaryInfo(path)
	}

	product, err := maxutils.DetectProduct(path, "")
	if err != nil {
		return err
	}
	fmt.Printf("Product: %s (%s)\n", product.Name, product.Kind)
	fmt.Printf("Release: %s\n", product.DistName())
	if id, err := maxutils.BundleID(product.Path); err == nil {
		fmt.Printf("Bundle ID: %s\n", id)
	}
	fmt.Println()
	return maxutils.InspectBundle(os.Stdout, path)
}

func printBinaryInfo(path string) error {
	if !maxutils.IsMachO(path) {
		return fmt.Errorf("%s is not a Mach-O binary", path)
	}
	kind, err := maxutils.Kind(path)
	if err != nil {
		return err
	}
	arches, err := maxutils.Architectures(path)
	if err != nil {
		return err
	}
	fmt.Printf("Binary: %s\n", filepath.Base(path))
	fmt.Printf("Kind:   %s\n", kind)
	fmt.Printf("Arch:   %s\n", strings.Join(arches, ", "))

	summary, err := maxutils.ReadSignature(path)
	if err != nil {
		fmt.Printf("Signature: none (%v)\n", err)
		return nil
	}
	fmt.Println()
	maxutils.PrintSignature(os.Stdout, summary)
	return nil
}
