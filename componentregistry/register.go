// Package componentregistry wires every pipeline component factory into
// one registry so the daemon registers them with a single call.
package componentregistry

import (
	"errors"

	"github.com/powerpig99/smart-socks-sub000/component"
	pkgerrors "github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/input/blenotify"
	"github.com/powerpig99/smart-socks-sub000/input/httppoll"
	"github.com/powerpig99/smart-socks-sub000/input/serialline"
	"github.com/powerpig99/smart-socks-sub000/output/csvrecord"
	"github.com/powerpig99/smart-socks-sub000/output/wsfeed"
	"github.com/powerpig99/smart-socks-sub000/peersync"
	"github.com/powerpig99/smart-socks-sub000/process/classify"
	"github.com/powerpig99/smart-socks-sub000/process/merger"
)

// Register registers all pipeline component factories:
//
// Inputs (one per node transport):
//   - serialline: USB serial console stream
//   - httppoll:   Wi-Fi HTTP polling
//   - blenotify:  BLE notification stream
//
// Coordination and processing:
//   - peersync: UDP pair coordination (roles, heartbeats, triggers)
//   - merger:   two-leg stream merge with gap fill
//   - classify: windowing, features, activity classification
//
// Outputs:
//   - csvrecord: session CSV recorder for training data
//   - wsfeed:    WebSocket live feed for dashboards
func Register(registry *component.Registry) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	registrations := []struct {
		name string
		fn   func(*component.Registry) error
	}{
		{"serialline", serialline.Register},
		{"httppoll", httppoll.Register},
		{"blenotify", blenotify.Register},
		{"peersync", peersync.Register},
		{"merger", merger.Register},
		{"classify", classify.Register},
		{"csvrecord", csvrecord.Register},
		{"wsfeed", wsfeed.Register},
	}
	for _, r := range registrations {
		if err := r.fn(registry); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", r.name+" registration")
		}
	}
	return nil
}
