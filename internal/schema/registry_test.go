package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRounding(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.AddVenue("bin")
	require.NoError(t, err)
	require.NoError(t, reg.AddSymbol(Symbol{Name: "ETHUSDT", Venue: "bin", TickSize: 0.01, StepSize: 0.001, MinQty: 0.001}))

	assert.Equal(t, 2500.12, reg.RoundPrice("bin", "ETHUSDT", 2500.129))
	assert.Equal(t, 0.123, reg.RoundQty("bin", "ETHUSDT", 0.1239))
	assert.Equal(t, 0.0, reg.RoundQty("bin", "ETHUSDT", 0.0004))
	assert.Equal(t, 1.5, reg.RoundQty("bin", "BTCUSDT", 1.5))
}

func TestRegistryRejectsUnknownVenue(t *testing.T) {
	reg := NewRegistry()
	err := reg.AddSymbol(Symbol{Name: "ETHUSDT", Venue: "bin"})
	require.Error(t, err)

	_, err = reg.AddVenue("bin")
	require.NoError(t, err)
	_, err = reg.AddVenue("bin")
	require.Error(t, err)
}
