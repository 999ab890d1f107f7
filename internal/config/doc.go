// Package config loads, normalizes, and validates weft's TOML configuration,
// including the per-provider backend table consumed by the provider clients
// and the chunker.
package config
