package backoff

import (
	"context"
	"fmt"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Policy 指数退避策略，retries 为首次失败后的最大重试次数
func Policy(ctx context.Context, retries uint64, initial, max time.Duration) cbackoff.BackOffContext {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	return cbackoff.WithContext(cbackoff.WithMaxRetries(b, retries), ctx)
}

// Retry 调用 op 直到成功、用尽重试次数或 ctx 结束。
// 用于启动阶段等待数据库、对象存储等依赖就绪。
func Retry(ctx context.Context, retries uint64, initial, max time.Duration, op func(context.Context) error) error {
	attempts := 0
	err := cbackoff.Retry(func() error {
		attempts++
		return op(ctx)
	}, Policy(ctx, retries, initial, max))
	if err != nil {
		return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return nil
}
