package cache

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Source 是一次拉取得到的字节流。StatusCode 为 0 表示非 HTTP 来源（例如本地文件）；
// 对 HTTP 来源，非空 Location 优先于状态码。
type Source struct {
	Body       io.ReadCloser
	StatusCode int
	Location   string
}

// Payload 由网络或本地文件协作方提供。Open 只会在拷贝 goroutine 中调用，可以阻塞。
type Payload interface {
	Open(ctx context.Context) (*Source, error)
}

// PayloadFunc 将函数适配为 Payload。
type PayloadFunc func(ctx context.Context) (*Source, error)

// Open 使 PayloadFunc 满足 Payload。
func (f PayloadFunc) Open(ctx context.Context) (*Source, error) {
	return f(ctx)
}

// FilePayload 返回读取本地文件的非 HTTP payload。文件在 Open 时才打开，
// 被拒绝或从未使用的 payload 不持有文件句柄。
func FilePayload(path string) Payload {
	return PayloadFunc(func(context.Context) (*Source, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if !info.Mode().IsRegular() {
			f.Close()
			return nil, fmt.Errorf("%s is not a regular file", path)
		}
		return &Source{Body: f}, nil
	})
}

// Fetcher 是网络协作方：Get 不做 I/O，只返回一个稍后由任务打开的 Payload。
type Fetcher interface {
	Get(rawURL string) Payload
}

// LocalPayloadRequest 是 Store 发出的“请提供本地文件字节”信号。
// 订阅方需要以相同的 URL 调用 Store.SupplyPayload。
type LocalPayloadRequest struct {
	DeviceID string
	URL      string
	Origin   string
	Key      Key
}
