// Package blenotify reads sensor lines from a node over BLE notifications.
// The node advertises as "SmartSocks" and streams newline-terminated CSV
// lines through a notify characteristic in MTU-sized chunks; the adapter
// reassembles them and publishes samples. A partial line is discarded on
// disconnect rather than glued to post-reconnect data.
package blenotify
