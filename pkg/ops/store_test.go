package ops

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreUpsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	submitted := time.UnixMilli(time.Now().UnixMilli())

	op := Operation{
		ID:        "op-1",
		Type:      TypePose,
		Payload:   json.RawMessage(`{"name":"home"}`),
		Status:    StatusQueued,
		Submitted: submitted,
	}
	require.NoError(t, s.Save(ctx, op))
	require.NoError(t, s.Save(ctx, op))

	op.Status = StatusSucceeded
	op.Started = submitted.Add(time.Second)
	op.Finished = submitted.Add(2 * time.Second)
	op.Result = &motion.MoveSummary{
		Mode:  motion.ModeAbsolute,
		Speed: 40,
		Joints: []motion.JointMove{{
			Joint: robot.JointA, Target: 20, Position: 19.5, Error: -0.5,
		}},
	}
	require.NoError(t, s.Save(ctx, op))

	got, ok, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.JSONEq(t, `{"name":"home"}`, string(got.Payload))
	assert.True(t, got.Submitted.Equal(submitted))
	assert.True(t, got.Finished.Equal(op.Finished))
	require.NotNil(t, got.Result)
	assert.Equal(t, op.Result.Joints, got.Result.Joints)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreRecentNewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, Operation{
			ID:        id,
			Type:      TypeMove,
			Status:    StatusSucceeded,
			Submitted: base.Add(time.Duration(i) * time.Second),
		}))
	}

	ops, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "c", ops[0].ID)
	assert.Equal(t, "b", ops[1].ID)
	assert.True(t, ops[0].Started.IsZero())
	assert.Nil(t, ops[0].Result)
}

func TestStoreFailUnfinished(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for id, status := range map[string]Status{"q": StatusQueued, "r": StatusRunning, "s": StatusSucceeded} {
		require.NoError(t, s.Save(ctx, Operation{ID: id, Type: TypeMove, Status: status, Submitted: time.Now()}))
	}

	n, err := s.FailUnfinished(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	op, _, err := s.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, op.Status)
	assert.Equal(t, "interrupted", op.Error)
	op, _, err = s.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, op.Status)
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), Operation{ID: "x", Type: TypeRecover, Status: StatusQueued, Submitted: time.Now()}))
	require.NoError(t, s.Close())

	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()
	_, ok, err := s.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueueWithStore(t *testing.T) {
	s := createTestStore(t)
	q := newTestQueue(t, funcExecutor(func(context.Context, Operation) (*motion.MoveSummary, error) {
		return &motion.MoveSummary{Mode: motion.ModeRelative, Speed: 10}, nil
	}), QueueOptions{Recorder: s})

	op, err := q.Submit(TypeMove, motion.MoveRequest{Mode: motion.ModeRelative})
	require.NoError(t, err)
	_, err = q.Wait(context.Background(), op.ID)
	require.NoError(t, err)

	got, ok, err := s.Get(context.Background(), op.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 10, got.Result.Speed)
}
