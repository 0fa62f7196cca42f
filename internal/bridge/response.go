package bridge

import (
	"context"
	"image"
	"sync"
)

// ImageResponse 是一次 Resolve 的结果。它可能在 Resolve 返回时已经完成，
// 也可能在下载任务结束后才完成；Done 关闭后 Image/Path/Err 不再变化。
type ImageResponse struct {
	identifier string

	mu    sync.Mutex
	img   image.Image
	path  string
	err   error
	done  chan struct{}
	fired bool
}

func newResponse(identifier string) *ImageResponse {
	return &ImageResponse{identifier: identifier, done: make(chan struct{})}
}

// resolved 构造一个已完成的响应。
func resolved(identifier, path string, img image.Image, err error) *ImageResponse {
	r := newResponse(identifier)
	r.finish(path, img, err)
	return r
}

// Identifier 返回请求的图片标识。
func (r *ImageResponse) Identifier() string { return r.identifier }

// Done 在响应完成后关闭。
func (r *ImageResponse) Done() <-chan struct{} { return r.done }

// Wait 阻塞到响应完成或 ctx 取消，返回响应自身的错误。
func (r *ImageResponse) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Image 返回解码后的图片；失败或尚未完成时为 nil。
func (r *ImageResponse) Image() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.img
}

// Path 返回缓存文件路径（已知时）。
func (r *ImageResponse) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Err 返回失败原因，成功或尚未完成时为 nil。
func (r *ImageResponse) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ErrorString 返回失败原因的文本，成功时为空字符串。
func (r *ImageResponse) ErrorString() string {
	if err := r.Err(); err != nil {
		return err.Error()
	}
	return ""
}

func (r *ImageResponse) finish(path string, img image.Image, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fired {
		return
	}
	r.fired = true
	r.path = path
	r.img = img
	r.err = err
	close(r.done)
}
