package cache

import (
	"context"
	"errors"
	"os"
)

// copyOutcome 是拷贝 goroutine 交回事件循环的结果。
type copyOutcome struct {
	source  *Source
	written int64
	err     error
	cause   error
}

// copyPayload 打开 payload 并把字节流写入 dst。无论成功与否都会关闭 dst 与来源，
// 因此事件循环收到结果时文件已经落盘或释放。
func copyPayload(ctx context.Context, payload Payload, dst *os.File) copyOutcome {
	src, err := payload.Open(ctx)
	if err != nil {
		dst.Close()
		return copyOutcome{err: err, cause: context.Cause(ctx)}
	}
	if src == nil {
		dst.Close()
		return copyOutcome{err: errors.New("payload opened without a source")}
	}

	var written int64
	if src.Body != nil {
		written, err = copyWithContext(ctx, dst, src.Body)
		src.Body.Close()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}

	outcome := copyOutcome{source: src, written: written, err: err}
	if err != nil {
		outcome.cause = context.Cause(ctx)
	}
	return outcome
}
