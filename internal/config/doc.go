// Package config handles YAML and TOML configuration loading and validation
// for the realtime client.
package config
