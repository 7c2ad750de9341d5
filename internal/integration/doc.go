// Package integration holds end-to-end tests that run the relay daemon with
// scripted sources and observe it through its network surfaces.
package integration
