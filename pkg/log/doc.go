/*
Package log provides structured logging for root-agentd using zerolog.

It wraps a single global zerolog.Logger, initialized once via Init, with
helpers for attaching the context fields the daemon needs most often:
component, action name, and per-connection id. Every log line is JSON by
default so it composes with systemd-journald / any log shipper without
further parsing.

Secrets (wallet private keys, keyfile contents) must never be passed to
any of these helpers — see internal/secretstore for where that boundary
is enforced.
*/
package log
