// Package config loads the forkserver configuration.
//
// Configuration is read from a YAML file, overridden by environment
// variables prefixed with FORKSERVER_ (for example
// FORKSERVER_KERNEL_TIMEOUTS_RENDER=30s) and completed with defaults.
package config
