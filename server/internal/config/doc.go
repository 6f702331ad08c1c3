// Package config loads and validates the wardwatch server configuration
// from a YAML file, with environment-resolved secrets and fsnotify-based
// hot reload of monitoring thresholds.
package config
