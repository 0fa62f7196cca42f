package cache

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/artcache/internal/eventloop"
)

// abandonGrace 是丢弃任务时等待拷贝 goroutine 释放文件的上限。
const abandonGrace = 5 * time.Second

// JobState 描述 DownloadJob 的生命周期阶段。
type JobState int

const (
	JobCreated JobState = iota
	JobFetching
	JobRedirecting
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobCreated:
		return "created"
	case JobFetching:
		return "fetching"
	case JobRedirecting:
		return "redirecting"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 表示该状态是否为终态。
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Result 是任务唯一的终态事件：Err 为 nil 表示成功。
type Result struct {
	Path string
	Err  error
}

// ErrorMessage 返回终态的错误文本，成功时为空字符串。
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Job 负责拉取单个 URL：打开 payload、跟随重定向、写盘，并只发出一次终态事件。
// 状态变更只发生在 Store 的事件循环上；Done/Result/OnFinished 可以在任意 goroutine 使用。
type Job struct {
	id       string
	url      string
	key      Key
	path     string
	origin   string
	deviceID string

	loop         *eventloop.Loop
	fetcher      Fetcher
	logger       *logrus.Logger
	maxRedirects int
	onTerminal   func(*Job, Result)

	// 以下字段仅在事件循环中写入
	attempt  int
	cancel   context.CancelCauseFunc
	released chan struct{}
	timer    *time.Timer

	mu        sync.Mutex
	state     JobState
	current   string
	redirects int
	fileSize  int64
	result    Result
	callbacks []func(Result)
	done      chan struct{}
}

type jobOptions struct {
	deviceID     string
	origin       string
	loop         *eventloop.Loop
	fetcher      Fetcher
	logger       *logrus.Logger
	maxRedirects int
	onTerminal   func(*Job, Result)
}

func newJob(rawURL, path string, opts jobOptions) *Job {
	return &Job{
		id:           uuid.NewString(),
		url:          rawURL,
		key:          DeriveKey(rawURL),
		path:         path,
		origin:       opts.origin,
		deviceID:     opts.deviceID,
		loop:         opts.loop,
		fetcher:      opts.fetcher,
		logger:       opts.logger,
		maxRedirects: opts.maxRedirects,
		onTerminal:   opts.onTerminal,
		state:        JobCreated,
		current:      rawURL,
		done:         make(chan struct{}),
	}
}

// ID 返回任务的唯一标识，仅用于日志关联。
func (j *Job) ID() string { return j.id }

// URL 返回最初请求的地址，重定向不会改变它。
func (j *Job) URL() string { return j.url }

// Key 返回 URL 推导出的缓存 key。
func (j *Job) Key() Key { return j.key }

// Path 返回目标缓存文件的绝对路径。
func (j *Job) Path() string { return j.path }

// Origin 返回触发下载的来源（例如播放器名）。
func (j *Job) Origin() string { return j.origin }

// FileName 返回目标文件名 <key>.<ext>。
func (j *Job) FileName() string { return filepath.Base(j.path) }

// CurrentURL 返回当前正在拉取的地址，发生重定向后与 URL() 不同。
func (j *Job) CurrentURL() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current
}

// State 返回当前生命周期阶段。
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Redirects 返回已跟随的重定向次数。
func (j *Job) Redirects() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.redirects
}

// FileSize 返回成功时实际写入的字节数。
func (j *Job) FileSize() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileSize
}

// Done 在终态事件发出后关闭，可被任意数量的观察者同时等待。
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result 返回终态结果；任务尚未结束时 ok 为 false。
func (j *Job) Result() (Result, bool) {
	select {
	case <-j.done:
	default:
		return Result{}, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, true
}

// Wait 阻塞到任务结束或 ctx 取消。
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		res, _ := j.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// OnFinished 注册终态回调，每个回调在独立 goroutine 中恰好执行一次；
// 任务已结束时立即调度。
func (j *Job) OnFinished(fn func(Result)) {
	if fn == nil {
		return
	}
	j.mu.Lock()
	select {
	case <-j.done:
		res := j.result
		j.mu.Unlock()
		go fn(res)
		return
	default:
	}
	j.callbacks = append(j.callbacks, fn)
	j.mu.Unlock()
}

func (j *Job) fields() logrus.Fields {
	return logrus.Fields{
		"job_id": j.id,
		"device": j.deviceID,
		"key":    string(j.key),
		"url":    j.url,
	}
}

// armDeadline 为任务安排超时事件，超时回调通过事件循环执行。
func (j *Job) armDeadline(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	j.timer = time.AfterFunc(timeout, func() {
		j.loop.Post(j.expire)
	})
}

// start 在事件循环中调用。只有 Created/Redirecting 状态的任务会真正开始拉取，
// 其余情况返回 false 且没有副作用。
func (j *Job) start(payload Payload) bool {
	state := j.State()
	if state != JobCreated && state != JobRedirecting {
		j.logger.WithFields(j.fields()).WithField("state", state.String()).Debug("already downloading")
		return false
	}

	if payload == nil {
		j.logger.WithFields(j.fields()).Debug("empty payload")
		j.fail(ErrEmptyPayload)
		return false
	}

	file, err := openDestination(j.path)
	if err != nil {
		j.logger.WithFields(j.fields()).WithError(err).WithField("path", j.path).Error("failed to create cache file")
		j.finish(Result{Path: j.path, Err: &FileCreateError{Path: j.path, Err: err}})
		return false
	}

	j.setState(JobFetching)
	j.attempt++
	attempt := j.attempt
	ctx, cancel := context.WithCancelCause(context.Background())
	released := make(chan struct{})
	j.cancel = cancel
	j.released = released

	go func() {
		outcome := copyPayload(ctx, payload, file)
		close(released)
		if errors.Is(context.Cause(ctx), ErrJobAbandoned) {
			j.abandonReleased()
			return
		}
		if !j.loop.Post(func() { j.copyFinished(attempt, outcome) }) {
			j.abandonReleased()
		}
	}()
	return true
}

// copyFinished 处理一次拷贝的结果：重定向、状态码检查或成功落盘。
func (j *Job) copyFinished(attempt int, outcome copyOutcome) {
	if attempt != j.attempt || j.State().Terminal() {
		return
	}
	if j.cancel != nil {
		j.cancel(nil)
	}

	if outcome.err != nil {
		if errors.Is(outcome.cause, ErrTimeout) {
			j.fail(ErrTimeout)
			return
		}
		j.fail(&CopyError{Err: outcome.err})
		return
	}

	if src := outcome.source; src != nil && src.StatusCode != 0 {
		if src.Location != "" {
			j.followRedirect(src.Location)
			return
		}
		if src.StatusCode != 200 {
			j.fail(&StatusError{Code: src.StatusCode})
			return
		}
	}

	j.mu.Lock()
	j.fileSize = outcome.written
	j.mu.Unlock()
	j.finish(Result{Path: j.path})
}

func (j *Job) followRedirect(location string) {
	j.mu.Lock()
	j.redirects++
	redirects := j.redirects
	current := j.current
	j.mu.Unlock()

	if redirects > j.maxRedirects {
		j.fail(ErrTooManyRedirects)
		return
	}
	if j.fetcher == nil {
		j.fail(&CopyError{Err: errors.New("no network fetcher for redirect")})
		return
	}

	next := resolveLocation(current, location)
	j.mu.Lock()
	j.current = next
	j.state = JobRedirecting
	j.mu.Unlock()

	j.logger.WithFields(j.fields()).WithFields(logrus.Fields{
		"redirects": redirects,
		"location":  next,
	}).Debug("following redirect")
	j.start(j.fetcher.Get(next))
}

// resolveLocation 以当前地址为基准解析相对的 Location。
func resolveLocation(base, location string) string {
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return location
	}
	return baseURL.ResolveReference(ref).String()
}

// expire 由截止时间触发：未开始的任务直接失败，拷贝中的任务被取消，
// 在拷贝 goroutine 释放文件后以 ErrTimeout 结束。
func (j *Job) expire() {
	switch j.State() {
	case JobCreated, JobRedirecting:
		j.fail(ErrTimeout)
	case JobFetching:
		if j.cancel != nil {
			j.cancel(ErrTimeout)
		}
	}
}

// fail 写入空的失败标记后发出终态事件。
func (j *Job) fail(err error) {
	j.logger.WithFields(j.fields()).WithError(err).Warn("failed download")
	if markErr := markFailed(j.path); markErr != nil {
		j.logger.WithFields(j.fields()).WithError(markErr).Error("failed to write failure marker")
	}
	j.finish(Result{Path: j.path, Err: err})
}

// finish 先让 Store 更新索引，再唤醒所有观察者，保证观察者看到的是已更新的缓存状态。
func (j *Job) finish(res Result) {
	if j.State().Terminal() {
		return
	}
	state := JobSucceeded
	if res.Err != nil {
		state = JobFailed
	}
	j.setState(state)
	if j.timer != nil {
		j.timer.Stop()
	}
	if j.onTerminal != nil {
		j.onTerminal(j, res)
	}
	j.publish(res)
}

// abandon 在事件循环中丢弃任务：取消拷贝并等待其释放文件（最多 abandonGrace），
// 截断为空标记后以 ErrJobAbandoned 结束。
func (j *Job) abandon() {
	if j.State().Terminal() {
		return
	}
	if j.cancel != nil {
		j.cancel(ErrJobAbandoned)
	}
	if j.released != nil {
		select {
		case <-j.released:
		case <-time.After(abandonGrace):
			j.logger.WithFields(j.fields()).Warn("copy did not release file in time")
		}
	}
	j.abandonReleased()
}

// abandonReleased 在文件已释放后写入失败标记并发出 ErrJobAbandoned。
// 拷贝 goroutine 无法回到事件循环时也走这里；已成功的任务不受影响。
func (j *Job) abandonReleased() {
	if j.State() == JobSucceeded {
		return
	}
	if err := markFailed(j.path); err != nil {
		j.logger.WithFields(j.fields()).WithError(err).Error("failed to write failure marker")
	}

	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = JobFailed
	j.mu.Unlock()
	if j.timer != nil {
		j.timer.Stop()
	}
	j.logger.WithFields(j.fields()).Warn("job destroyed")
	j.publish(Result{Path: j.path, Err: ErrJobAbandoned})
}

func (j *Job) publish(res Result) {
	j.mu.Lock()
	select {
	case <-j.done:
		j.mu.Unlock()
		return
	default:
	}
	j.result = res
	callbacks := j.callbacks
	j.callbacks = nil
	close(j.done)
	j.mu.Unlock()

	for _, fn := range callbacks {
		go fn(res)
	}
}

func (j *Job) setState(state JobState) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}
