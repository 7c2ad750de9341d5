// Package alarm contains the canonical incident record shared by every source
// and every notifier.
//
// An Alarm is created empty by a listener, populated by a body parser or a
// frame handler, mutated by the template resolver and treated as read-only
// during dispatch. Clone helpers avoid leaking internal references into the
// arbitration history.
package alarm
