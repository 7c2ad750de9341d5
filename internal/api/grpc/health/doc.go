// Package health exposes the standard gRPC health service for the relay.
//
// The empty service name reports the process; every source registers its own
// service ("mail/<name>", "serial/<name>") that turns NOT_SERVING once the
// source task has ended.
package health
