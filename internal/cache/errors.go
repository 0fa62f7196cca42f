package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPayload 表示协作方交付了空的 payload。
	ErrEmptyPayload = errors.New("empty payload")
	// ErrTooManyRedirects 表示重定向次数超过上限。
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrTimeout 表示任务在截止时间前没有进入终态。
	ErrTimeout = errors.New("timeout")
	// ErrJobAbandoned 表示任务在产出终态事件前被丢弃（例如 Store 关闭）。
	ErrJobAbandoned = errors.New("job destroyed")
)

// StatusError 表示 HTTP 来源返回了非 200 且没有重定向。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "status code was not 200"
}

// FileCreateError 表示无法以截断写方式打开缓存文件。
type FileCreateError struct {
	Path string
	Err  error
}

func (e *FileCreateError) Error() string {
	return fmt.Sprintf("failed to create cache file %s: %v", e.Path, e.Err)
}

func (e *FileCreateError) Unwrap() error {
	return e.Err
}

// CopyError 包装拉取或写盘过程中的错误，Error() 直接透出底层信息。
type CopyError struct {
	Err error
}

func (e *CopyError) Error() string {
	if e.Err == nil {
		return "copy failed"
	}
	return e.Err.Error()
}

func (e *CopyError) Unwrap() error {
	return e.Err
}
