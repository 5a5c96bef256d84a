// Package message defines the wire vocabulary shared by all pipeline
// components: sensor samples, merged frames, windows, feature vectors,
// classification results, sync messages and the NATS subjects they travel
// on. Types carry JSON tags matching the device firmware's field names.
package message
