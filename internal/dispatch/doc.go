// Package dispatch fans a classified alarm out to its notifier targets and
// webhooks.
//
// Every target present in the alarm's receiver map runs in its own goroutine:
//   - First alarms call Trigger, Update alarms call Update, Drop never arrives,
//   - a target missing from the registry is logged and skipped,
//   - a failing or slow target never delays or fails the others,
//   - the fan-out is joined before Dispatch returns.
//
// Webhooks are fired without waiting for or inspecting their responses.
package dispatch
