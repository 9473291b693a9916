// Package main provides the maxutils CLI tool for Max/MSP product
// packaging.
//
// For the library API, see the maxutils subpackage:
//
//	import "github.com/c74tools/maxutils/pkg/maxutils"
//
// # Installation
//
// Install the CLI:
//
//	go install github.com/c74tools/maxutils@latest
package main
