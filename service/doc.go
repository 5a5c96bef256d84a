// Package service assembles the pipeline from configuration and drives
// component lifecycle: create, initialize, start in declaration order,
// stop in reverse. It also feeds the health monitor so the daemon can
// expose one aggregated status endpoint.
package service
