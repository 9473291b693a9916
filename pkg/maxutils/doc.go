// Package maxutils provides post-production tooling for Max/MSP artifacts
// on macOS: standalone applications (.app), externals (.mxo), and packages.
//
// The central piece is the Fixer, which makes a bundle self-contained by
// resolving the transitive closure of its non-system dylib dependencies,
// copying them into the bundle, rewriting install-name references, and
// re-signing every binary it touched.
//
// # Basic Usage
//
// To relocate an external's dependencies:
//
//	fixer, err := maxutils.NewExternalFixer("csound~.mxo", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = fixer.Process()
//
// The remaining types cover the surrounding release workflow: cleaning
// extended attributes, thinning fat binaries, recursive codesigning,
// zip/dmg/pkg packaging, notarization, and stapling.
package maxutils
