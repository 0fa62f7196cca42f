// Package eventloop 提供单 goroutine 的事件循环，缓存索引与下载任务的所有状态变更
// 都在这里串行执行。其它 goroutine 通过 Post（排队，不阻塞）或 Call（阻塞往返）
// 把工作交给循环，从而无需对共享状态加锁。
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrStopped 表示循环已停止，不再接受新任务。
var ErrStopped = errors.New("event loop stopped")

// Loop 按 FIFO 顺序逐个执行排队的函数，每个函数执行完毕后才会取下一个。
type Loop struct {
	logger *logrus.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New 构造一个尚未启动的循环，logger 为空时使用 logrus 标准 logger。
func New(logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start 启动循环 goroutine，重复调用无副作用。
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop 停止循环：正在执行的函数会跑完，队列中剩余的函数被丢弃。
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		l.signal()
		l.startOnce.Do(func() { close(l.done) })
	})
	<-l.done
}

// Done 在循环退出后关闭。
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post 将 fn 排入队列后立即返回；循环已停止时返回 false。可以在循环内部调用。
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// Call 把 fn 交给循环执行并阻塞到它返回。不得在循环 goroutine 内调用，否则会死锁。
// ctx 取消时立即返回 ctx.Err()，但已入队的 fn 仍可能稍后执行。
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			<-l.wake
			continue
		}
		for _, fn := range batch {
			// 剩余任务随 Stop 一并丢弃
			if l.isStopped() {
				return
			}
			l.runOne(fn)
		}
	}
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"action": "event_loop",
			}).WithError(fmt.Errorf("panic: %v", r)).Error("queued function panicked")
		}
	}()
	fn()
}
