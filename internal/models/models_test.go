package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventStatus_CanTransitionTo(t *testing.T) {
	all := []EventStatus{EventStatusPending, EventStatusProcessing, EventStatusSuccess, EventStatusFailed}
	allowed := map[[2]EventStatus]bool{
		{EventStatusPending, EventStatusProcessing}: true,
		{EventStatusProcessing, EventStatusSuccess}: true,
		{EventStatusProcessing, EventStatusFailed}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]EventStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, EventStatusSuccess.IsFinal())
	assert.True(t, EventStatusFailed.IsFinal())
	assert.False(t, EventStatusProcessing.IsFinal())
}

func TestDeviceIdentity_Empty(t *testing.T) {
	assert.True(t, DeviceIdentity{}.Empty())
	v := "abc"
	assert.False(t, DeviceIdentity{CAID2: &v}.Empty())
}

func TestToken_ExpiryAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	refreshed := created.Add(2 * time.Hour)
	explicit := created.Add(10 * time.Hour)

	tok := &Token{CreatedAt: created}
	assert.True(t, tok.ExpiryAt(0).IsZero())
	assert.Equal(t, created.Add(time.Hour), tok.ExpiryAt(time.Hour))

	tok.LastRefreshAt = &refreshed
	assert.Equal(t, refreshed.Add(time.Hour), tok.ExpiryAt(time.Hour))

	tok.ExpiresAt = &explicit
	assert.Equal(t, explicit, tok.ExpiryAt(time.Hour))
}
