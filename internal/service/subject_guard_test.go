package service

import (
	"context"
	"testing"
	"time"

	"homework_eval_backend/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSubjectGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	guard := NewRedisSubjectGuard(rdb, time.Minute)
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "hw-1", "stu-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(subjectKey("hw-1", "stu-1")))

	_, err = guard.Acquire(ctx, "hw-1", "stu-1")
	assert.ErrorIs(t, err, util.ErrAttemptInProgress)

	// 不同学生互不影响
	releaseOther, err := guard.Acquire(ctx, "hw-1", "stu-2")
	require.NoError(t, err)
	releaseOther()

	release()
	release()
	assert.False(t, mr.Exists(subjectKey("hw-1", "stu-1")))

	again, err := guard.Acquire(ctx, "hw-1", "stu-1")
	require.NoError(t, err)
	again()
}

func TestRedisSubjectGuard_ExpiredLockIsNotStolen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	guard := NewRedisSubjectGuard(rdb, time.Second)
	ctx := context.Background()

	staleRelease, err := guard.Acquire(ctx, "hw-1", "stu-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	freshRelease, err := guard.Acquire(ctx, "hw-1", "stu-1")
	require.NoError(t, err)

	// 过期锁的持有者释放时不能删掉新锁
	staleRelease()
	assert.True(t, mr.Exists(subjectKey("hw-1", "stu-1")))

	freshRelease()
	assert.False(t, mr.Exists(subjectKey("hw-1", "stu-1")))
}

func TestLocalSubjectGuard(t *testing.T) {
	guard := NewLocalSubjectGuard()
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "hw-1", "stu-1")
	require.NoError(t, err)

	_, err = guard.Acquire(ctx, "hw-1", "stu-1")
	assert.ErrorIs(t, err, util.ErrAttemptInProgress)

	release()
	release()

	release, err = guard.Acquire(ctx, "hw-1", "stu-1")
	require.NoError(t, err)
	release()
}
