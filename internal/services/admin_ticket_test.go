package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTicketsSingleUse(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	ctx := context.Background()
	tickets := NewStreamTickets(client, 30*time.Second)
	tickets.now = fixedClock(testNow)

	ticket, expires, err := tickets.Issue(ctx, "admin-1")
	require.NoError(t, err)
	assert.NotEmpty(t, ticket)
	assert.Equal(t, testNow.Add(30*time.Second).UTC(), expires)
	assert.Equal(t, 30*time.Second, mr.TTL(streamTicketPrefix+ticket))

	adminID, ok, err := tickets.Redeem(ctx, ticket)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "admin-1", adminID)

	_, ok, err = tickets.Redeem(ctx, ticket)
	require.NoError(t, err)
	assert.False(t, ok, "a ticket is consumed on first use")
}

func TestStreamTicketsExpire(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	ctx := context.Background()
	tickets := NewStreamTickets(client, 30*time.Second)

	ticket, _, err := tickets.Issue(ctx, "admin-1")
	require.NoError(t, err)
	mr.FastForward(31 * time.Second)

	_, ok, err := tickets.Redeem(ctx, ticket)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = tickets.Redeem(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}
