package service

import (
	"context"
	"fmt"
	"homework_eval_backend/internal/util"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// SubjectGuard 保证每个 (作业, 学生) 同一时刻只有一个进行中的提交
type SubjectGuard interface {
	// Acquire 已被占用时返回 util.ErrAttemptInProgress；返回的 release 可重复调用
	Acquire(ctx context.Context, homeworkID, studentID string) (release func(), err error)
}

func subjectKey(homeworkID, studentID string) string {
	return fmt.Sprintf("homework_eval:attempt:%s:%s", homeworkID, studentID)
}

// RedisSubjectGuard 多实例部署时使用，锁带 TTL，进程崩溃后自动过期
type RedisSubjectGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSubjectGuard(rdb *redis.Client, ttl time.Duration) *RedisSubjectGuard {
	return &RedisSubjectGuard{rdb: rdb, ttl: ttl}
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (g *RedisSubjectGuard) Acquire(ctx context.Context, homeworkID, studentID string) (func(), error) {
	key := subjectKey(homeworkID, studentID)
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire attempt lock: %w", err)
	}
	if !ok {
		return nil, util.ErrAttemptInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			releaseScript.Run(ctx, g.rdb, []string{key}, token)
		})
	}, nil
}

// LocalSubjectGuard 单实例时的进程内实现
type LocalSubjectGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewLocalSubjectGuard() *LocalSubjectGuard {
	return &LocalSubjectGuard{active: make(map[string]struct{})}
}

func (g *LocalSubjectGuard) Acquire(ctx context.Context, homeworkID, studentID string) (func(), error) {
	key := subjectKey(homeworkID, studentID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return nil, util.ErrAttemptInProgress
	}
	g.active[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, nil
}
