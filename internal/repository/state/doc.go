// Package state persists the last dispatched alarm so that arbitration keeps
// its reference across restarts.
//
// The FileRepository stores and loads the alarm as JSON on disk and exposes a
// Repository interface that the pipeline depends on.
package state
