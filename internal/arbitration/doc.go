// Package arbitration decides whether an incoming alarm opens a new incident,
// updates the incident that was just dispatched, or is dropped as a
// lower-priority duplicate.
package arbitration
