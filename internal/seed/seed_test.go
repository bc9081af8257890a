package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/memstore"
)

func TestDemoIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	dir := attendance.NewDirectory(store, nil)
	tt := attendance.NewTimetable(store, time.UTC, nil, nil, nil)

	require.NoError(t, Demo(ctx, dir, tt, zap.NewNop()))
	require.NoError(t, Demo(ctx, dir, tt, zap.NewNop()))

	fac, err := store.GetUser(ctx, FacultyID)
	require.NoError(t, err)
	assert.True(t, fac.IsFaculty())

	for _, id := range []string{"STU001", "STU002", "STU003"} {
		slots, err := tt.ForUser(ctx, id)
		require.NoError(t, err, id)
		require.Len(t, slots, 1, id)
		assert.Equal(t, time.Monday, slots[0].Day)
		assert.Equal(t, "Campus-Wifi", slots[0].WifiName)
		assert.Equal(t, FacultyID, slots[0].FacultyID)
	}
}
