// Package notifier defines the outbound notification capability and the
// name-keyed registry the dispatcher reads from.
//
// Every configured target is built once at startup by its type tag:
//   - divera: Divera 24/7 alarm API,
//   - telegram: Telegram Bot API, one message per resolved member,
//   - mqtt, nats, redis: alarm events published as JSON to a broker,
//   - mock and alamos: log-only stand-ins.
//
// Broker clients connect lazily, so an unreachable broker is an error of that
// target only and never prevents startup.
package notifier
