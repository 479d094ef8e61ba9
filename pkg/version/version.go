// Package version holds build information injected at link time.
package version

// Version is the release of this build.
var Version = "development"

// Commit is the git commit this build was made from.
var Commit = "unknown"
