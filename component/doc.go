// Package component defines the lifecycle and discovery contracts shared by
// every pipeline component: transport inputs, the sync coordinator, stream
// processors and outputs. Components are constructed by factories from raw
// JSON configuration, registered in a Registry, and driven through
// Initialize/Start/Stop by the service manager.
package component
