// Package status serves a small read-only HTTP API about the running relay.
package status
