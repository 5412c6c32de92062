// Package config loads and validates the runtime configuration and the
// service manifest.
//
// The runtime config controls monitoring cadence, recovery backoff and
// the NATS and HTTP endpoints. The manifest declares the services to
// create at startup as descriptors: name, type, priority, dependencies
// and an opaque per-service config block. Both are YAML files; every
// field has a default so an empty file is a valid config.
//
// SafeConfig wraps a loaded config for concurrent read and atomic,
// validated replacement.
package config
