// Package buildinfo exposes the version stamped into the binary at build
// time via -ldflags, falling back to Go module metadata for plain builds.
package buildinfo

import "runtime/debug"

// version is set by the linker: -ldflags "-X .../internal/buildinfo.version=v1.2.3".
var version = ""

// Version returns the stamped release version, the VCS-derived module
// version when available, or "dev".
func Version() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
