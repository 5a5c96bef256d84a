package componentregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/component"
)

func TestRegisterAllFactories(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	factories := registry.Factories()
	for _, name := range []string{
		"serialline", "httppoll", "blenotify",
		"peersync", "merger", "classify",
		"csvrecord", "wsfeed",
	} {
		assert.Contains(t, factories, name)
	}

	assert.Error(t, Register(registry), "double registration must fail")
	assert.Error(t, Register(nil))
}
