// Package config loads the controller's YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets can stay out of the file. Durations are written as Go duration
// strings ("45s", "5m"). Load applies defaults and validates required
// fields; a config that loads is safe to run with.
package config
