// Package relay wires configuration, sources, the alarm pipeline and the
// observability servers into the running daemon.
package relay
