package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to RideStatus }{
		{StatusPending, StatusAccepted},
		{StatusSearching, StatusAccepted},
		{StatusPending, StatusCancelled},
		{StatusAccepted, StatusArrived},
		{StatusAccepted, StatusCancelled},
		{StatusArrived, StatusStarted},
		{StatusStarted, StatusCompleted},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s→%s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to RideStatus }{
		{StatusPending, StatusArrived},
		{StatusPending, StatusStarted},
		{StatusAccepted, StatusStarted},
		{StatusArrived, StatusCancelled},
		{StatusStarted, StatusCancelled},
		{StatusCompleted, StatusAccepted},
		{StatusCancelled, StatusAccepted},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s→%s must be rejected", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusStarted.Terminal())
}

func TestSearchingAliasesPending(t *testing.T) {
	assert.Equal(t, StatusPending, StatusSearching.Canonical())
	assert.True(t, StatusSearching.Dispatchable())
	assert.False(t, StatusAccepted.Dispatchable())
}

func TestNormalizeClass(t *testing.T) {
	for in, want := range map[string]VehicleClass{
		"taxi": ClassTaxi, "Taxi": ClassTaxi, " TAXI ": ClassTaxi,
		"bike": ClassBike, "CARGO": ClassCargo,
	} {
		got, ok := NormalizeClass(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := NormalizeClass("rickshaw")
	assert.False(t, ok)
}
