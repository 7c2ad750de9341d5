// Package pipeline is the single consumer of the inbound alarm queue: every
// alarm is resolved against the templates, arbitrated against the last
// dispatched alarm and fanned out.
package pipeline
