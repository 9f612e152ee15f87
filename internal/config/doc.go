// Package config loads the service configuration from a YAML file, applies
// .env and environment overrides, and validates every section.
package config
