// Package smartsocks turns two sensor-instrumented socks into a live
// activity feed. Each leg carries an ESP32 node with two pressure sensors
// and one knee stretch sensor; the host pipeline reads both nodes over
// serial, Wi-Fi HTTP, or BLE, aligns the two streams on a shared
// timebase, and classifies fixed windows of merged frames into
// activities.
//
// # Architecture
//
// Components communicate over NATS subjects and are assembled from
// configuration:
//
//	┌──────────────┐  socks.samples.L/R  ┌────────┐ socks.frames ┌──────────┐
//	│ serialline   │────────────────────▶│ merger │─────────────▶│ classify │
//	│ httppoll     │                     └────────┘              └──────────┘
//	│ blenotify    │                          │                       │
//	└──────────────┘                          ▼                       ▼
//	       ▲         socks.control     socks.status           socks.activity
//	       └──────────── peersync (UDP pair sync, roles, triggers)
//
// Recording sessions land in CSV files (output/csvrecord) that the
// offline socksfeat tool converts into training features using the same
// extractor the live path runs, so a model trained offline scores
// identically online. Dashboards follow socks.activity and
// socks.sync.state through the WebSocket feed (output/wsfeed).
//
// cmd/socksd is the pipeline daemon; cmd/socksfeat is the offline
// feature extraction tool.
package smartsocks
