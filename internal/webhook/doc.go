// Package webhook fires best-effort HTTP GET calls to configured URLs.
package webhook
