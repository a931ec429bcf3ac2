package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomchat/loomchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCounter struct {
	used int64
	err  error
	got  time.Time
}

func (c *stubCounter) CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	c.got = since
	return c.used, c.err
}

func TestCheckQuota_UnderLimit(t *testing.T) {
	ents := Defaults(20, 100)
	q, err := CheckQuota(context.Background(), &stubCounter{used: 5}, ents, "u1", models.UserTypeGuest)
	require.NoError(t, err)
	assert.True(t, q.Allowed)
	assert.Equal(t, 5, q.Used)
	assert.Equal(t, 20, q.Limit)
}

func TestCheckQuota_AtLimit(t *testing.T) {
	ents := Defaults(20, 100)
	q, err := CheckQuota(context.Background(), &stubCounter{used: 20}, ents, "u1", models.UserTypeGuest)
	require.NoError(t, err)
	assert.False(t, q.Allowed)
}

func TestCheckQuota_RegularTier(t *testing.T) {
	ents := Defaults(20, 100)
	q, err := CheckQuota(context.Background(), &stubCounter{used: 50}, ents, "u1", models.UserTypeRegular)
	require.NoError(t, err)
	assert.True(t, q.Allowed)
	assert.Equal(t, 100, q.Limit)
}

func TestCheckQuota_UnknownTypeFallsBackToGuest(t *testing.T) {
	ents := Defaults(20, 100)
	q, err := CheckQuota(context.Background(), &stubCounter{used: 25}, ents, "u1", models.UserType("admin"))
	require.NoError(t, err)
	assert.False(t, q.Allowed)
	assert.Equal(t, 20, q.Limit)
}

func TestCheckQuota_FailsClosedOnCountError(t *testing.T) {
	ents := Defaults(20, 100)
	q, err := CheckQuota(context.Background(), &stubCounter{err: errors.New("db down")}, ents, "u1", models.UserTypeGuest)
	require.Error(t, err)
	assert.False(t, q.Allowed)
}

func TestCheckQuota_SlidingWindowIs24Hours(t *testing.T) {
	counter := &stubCounter{}
	_, err := CheckQuota(context.Background(), counter, Defaults(20, 100), "u1", models.UserTypeGuest)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), counter.got, 5*time.Second)
}
