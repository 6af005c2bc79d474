// Package version holds the build version string, set at link time via
// -ldflags "-X .../internal/version.Version=<version>".
package version

// Version defaults to "dev" for unreleased builds.
var Version = "dev"
