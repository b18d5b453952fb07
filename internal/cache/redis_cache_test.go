package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"minimarket/backend/internal/domain"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()))
	return c, mr
}

func TestRedisCacheActiveSession(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	_, ok, err := c.GetActiveSession(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	session := &domain.CashSession{ID: "cs-1", Status: domain.SessionActive, StartAmountCents: 5000, OpenedBy: "cajero"}
	require.NoError(t, c.SetActiveSession(ctx, session))

	got, ok, err := c.GetActiveSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cs-1", got.ID)
	require.Equal(t, int64(5000), got.StartAmountCents)

	require.NoError(t, c.ClearActiveSession(ctx))
	_, ok, err = c.GetActiveSession(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCacheAlertsExpire(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	snapshot := &domain.AlertSnapshot{
		GeneratedAt: time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC),
		LowStock:    []domain.Product{{ID: "prd-1", Code: "ARROZ"}},
	}
	require.NoError(t, c.SetAlerts(ctx, snapshot, time.Minute))

	got, ok, err := c.GetAlerts(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.LowStock, 1)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.GetAlerts(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCacheCorruptPayload(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(alertSnapshotKey, "{not json"))

	_, _, err := c.GetAlerts(context.Background())
	require.Error(t, err)
}
