package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/keydrop-backend/pkg/db/dbtest"
)

func TestCashbackRateDefaultsAndOverrides(t *testing.T) {
	svc := NewService(dbtest.Open(t), 100, nil)
	ctx := context.Background()

	require.Equal(t, 100, svc.CashbackRatePercent(ctx))
	require.Zero(t, svc.PointsEarnPercent(ctx))

	require.NoError(t, svc.Set(ctx, KeyCashbackRatePercent, "50"))
	require.Equal(t, 50, svc.CashbackRatePercent(ctx))

	require.NoError(t, svc.Set(ctx, KeyCashbackRatePercent, "75"))
	require.Equal(t, 75, svc.CashbackRatePercent(ctx))
}

func TestMalformedSettingFallsBack(t *testing.T) {
	svc := NewService(dbtest.Open(t), 100, nil)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyPointsEarnPercent, "ten"))
	require.Zero(t, svc.PointsEarnPercent(ctx))

	require.NoError(t, svc.Set(ctx, KeyCashbackRatePercent, "-5"))
	require.Equal(t, 100, svc.CashbackRatePercent(ctx))
}
