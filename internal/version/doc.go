// Package version exposes build metadata of the relay.
//
// Version, Commit and BuildTime can be injected via ldflags; Full falls back
// to the VCS information recorded by the Go toolchain.
package version
