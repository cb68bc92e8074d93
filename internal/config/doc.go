// Package config provides configuration loading and validation for the wavecore agent.
// It reads a YAML file over built-in defaults, applies overrides from an optional
// .env file and WAVECORE_* environment variables, and validates every section.
package config
