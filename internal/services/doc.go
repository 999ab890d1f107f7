// Package services defines shared utilities consumed by the translation
// pipeline stages and provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queue job IDs, stage names, book names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent queue statuses (failed vs review).
//
// Use these helpers when wiring new stage logic so operational behaviour stays
// uniform across the pipeline.
package services
