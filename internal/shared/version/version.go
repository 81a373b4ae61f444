// Package version holds the build-time version string reported by the CLI.
package version

// Current is overridden at build time via -ldflags "-X .../version.Current=...".
var Current = "dev"
