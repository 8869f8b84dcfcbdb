// Package version carries the build version, set via ldflags.
package version

var (
	Version   = "dev"
	BuildTime = "unknown"
)
