package database

import (
	"context"
	"testing"
	"time"

	"rentalcore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookQueueCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.HookTask{
		TaskType:  "release_car",
		BookingID: 100,
		Payload:   `{"car_id": 7}`,
	}
	require.NoError(t, db.CreateHookTask(ctx, task))
	assert.Equal(t, models.HookStatusPending, task.Status)

	tasks, err := db.GetPendingHookTasks(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(100), tasks[0].BookingID)

	require.NoError(t, db.UpdateHookTaskStatus(ctx, tasks[0].ID, models.HookStatusCompleted, "", nil))

	tasks, err = db.GetPendingHookTasks(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	done, err := db.GetHookTask(ctx, task.ID)
	require.NoError(t, err)
	assert.NotNil(t, done.ProcessedAt)

	_, err = db.GetHookTask(ctx, 12345)
	assert.ErrorIs(t, err, ErrHookTaskNotFound)
}

func TestHookQueueRetryAndFail(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.HookTask{TaskType: "notify", BookingID: 102}
	require.NoError(t, db.CreateHookTask(ctx, task))

	future := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateHookTaskStatus(ctx, task.ID, models.HookStatusRetry, "telegram down", &future))

	tasks, err := db.GetPendingHookTasks(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, tasks, "task with a future retry is not due")

	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.UpdateHookTaskStatus(ctx, task.ID, models.HookStatusRetry, "telegram down", &past))

	tasks, err = db.GetPendingHookTasks(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)
	require.NotNil(t, tasks[0].LastError)
	assert.Equal(t, "telegram down", *tasks[0].LastError)

	require.NoError(t, db.UpdateHookTaskStatus(ctx, task.ID, models.HookStatusFailed, "gave up", nil))
	failed, err := db.GetFailedHookTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "gave up", *failed[0].LastError)
}

func TestClaimHookTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.HookTask{TaskType: "ledger_append", BookingID: 5}
	require.NoError(t, db.CreateHookTask(ctx, task))

	ok, err := db.ClaimHookTask(ctx, task.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimHookTask(ctx, task.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "fresh claim blocks a second worker")

	tasks, err := db.GetPendingHookTasks(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// a zero stale window treats every claim as abandoned
	tasks, err = db.GetPendingHookTasks(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	require.NoError(t, db.UpdateHookTaskStatus(ctx, task.ID, models.HookStatusCompleted, "", nil))
	ok, err = db.ClaimHookTask(ctx, task.ID, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
