package async

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("tracker closed")

// Tracker 跟踪后台任务，关闭后拒绝新任务并可等待已有任务结束
type Tracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Go 在后台运行 fn，panic 会被记录而不是终止进程
func (t *Tracker) Go(name string, fn func()) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Interface("panic", r).Msg("后台任务崩溃")
			}
		}()
		fn()
	}()
	return nil
}

func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait 等待所有任务结束，或 ctx 到期
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for background tasks")
	}
}
