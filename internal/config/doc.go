// Package config loads, normalizes, and validates mediaflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MEDIAFLOW_LLM_API_KEY, DATABASE_URL, AMQP_URL, and REDIS_ADDR. The Config
// type centralizes every knob the daemon, the stage workers, and the CLI need,
// so the execution mode, the store/bus/guard backends, and per-stage timeouts
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
