// Package dedupe suppresses duplicate routing commands using a TTL-bounded
// seen-set, so retried escalations and assignments are absorbed rather than
// re-executed.
package dedupe
