// Package config loads engine configuration: logging, the control surface
// address, scheduler and output tuning, and HTTP client settings.
//
// Precedence: defaults < YAML file < LE_* environment variables <
// command-line key=value overrides.
package config
