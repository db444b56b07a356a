// Package version exports the release version of the mtrip binary.
package version

// Version is set at build time using linker flags:
//
//	go build -ldflags "-X github.com/andrejnano/mtrip/version.Version=$(git describe --tags)"
var Version = "no-version"
