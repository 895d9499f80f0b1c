// Package version holds the build version string every component prints
// in its --help usage header and its startup log line, set at link time
// via -ldflags
// "-X github.com/electoral-net/votepipeline/internal/version.Version=...".
package version

// Version is overridden at build time; "dev" otherwise.
var Version = "dev"
