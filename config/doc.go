// Package config loads and validates the daemon configuration: the NATS
// bus settings and the list of pipeline components with their raw JSON
// configuration blocks. Files can be layered (base plus overrides) and
// individual values overridden through SOCKS_* environment variables.
package config
