// Package bridge 把 UI 侧的图片请求（"<device>/<file>" 标识）转成对设备封面缓存的查询：
// 在途下载会挂起响应直到任务结束，已缓存文件同步解码，其它情况视为“尚未就绪”。
package bridge

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/artcache/internal/cache"
)

var (
	// ErrMalformedIdentifier 表示标识不是 "<device>/<file>" 形式。
	ErrMalformedIdentifier = cache.ErrMalformedIdentifier
	// ErrUnresolvedDevice 表示设备未知或未加载封面插件。
	ErrUnresolvedDevice = errors.New("unresolved device")
	// ErrNotReady 表示 key 既未缓存也不在下载中。
	ErrNotReady = errors.New("image not cached yet")
	// ErrEmptyMarker 表示缓存文件长度为 0，通常是失败下载留下的标记。
	ErrEmptyMarker = errors.New("cached file is empty")
	// ErrClosed 表示 bridge 已关闭，挂起的响应不再等待。
	ErrClosed = errors.New("bridge closed")
)

const (
	defaultMemoryTTL     = 10 * time.Minute
	defaultMemoryEntries = 128
)

// StoreResolver 根据设备 ID 找到其封面缓存，*device.Registry 满足该接口。
type StoreResolver interface {
	ResolveStore(deviceID string) (*cache.Store, error)
}

// Options 描述 Bridge 的依赖。
type Options struct {
	Resolver      StoreResolver
	Decoder       Decoder
	Logger        *logrus.Logger
	MemoryTTL     time.Duration
	MemoryEntries uint64
}

// Bridge 可以在任意 goroutine 调用；对缓存状态的访问通过 Store 的事件循环往返完成。
type Bridge struct {
	resolver StoreResolver
	decoder  Decoder
	logger   *logrus.Logger
	memo     *ttlcache.Cache[string, image.Image]
	closed   chan struct{}
}

// New 创建 Bridge 并启动解码结果缓存的过期清理。
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = FileDecoder{}
	}
	ttl := opts.MemoryTTL
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	entries := opts.MemoryEntries
	if entries == 0 {
		entries = defaultMemoryEntries
	}

	memo := ttlcache.New[string, image.Image](
		ttlcache.WithTTL[string, image.Image](ttl),
		ttlcache.WithCapacity[string, image.Image](entries),
	)
	go memo.Start()

	return &Bridge{
		resolver: opts.Resolver,
		decoder:  decoder,
		logger:   logger,
		memo:     memo,
		closed:   make(chan struct{}),
	}
}

// Close 停止过期清理，并让仍在等待下载的响应以 ErrClosed 结束。
func (b *Bridge) Close() {
	select {
	case <-b.closed:
		return
	default:
	}
	close(b.closed)
	b.memo.Stop()
}

// Resolve 解析图片标识并返回响应。标识格式错误或设备无法解析时立即返回失败响应；
// 调用方所在 goroutine 会阻塞到 Store 的事件循环完成一次查询。
func (b *Bridge) Resolve(identifier string) *ImageResponse {
	fields := logrus.Fields{"action": "resolve", "identifier": identifier}

	deviceID, key, fileName, err := cache.ParseIdentifier(identifier)
	if err != nil {
		b.logger.WithFields(fields).WithError(err).Debug("malformed identifier")
		return resolved(identifier, "", nil, err)
	}
	fields["device"] = deviceID
	// 带 image:// 前缀与不带前缀的标识指向同一文件，统一后再作为内存缓存的 key
	memoKey := deviceID + "/" + fileName

	if b.resolver == nil {
		return resolved(identifier, "", nil, ErrUnresolvedDevice)
	}
	store, err := b.resolver.ResolveStore(deviceID)
	if err != nil {
		b.logger.WithFields(fields).WithError(err).Debug("device not resolved")
		return resolved(identifier, "", nil, fmt.Errorf("%w: %w", ErrUnresolvedDevice, err))
	}

	probe := store.Probe(key)
	switch {
	case probe.Job != nil:
		resp := newResponse(identifier)
		go b.await(resp, memoKey, probe.Job)
		return resp
	case probe.Cached:
		img, err := b.load(memoKey, probe.Entry)
		if err != nil {
			b.logger.WithFields(fields).WithError(err).Warn("failed to load cached image")
		}
		return resolved(identifier, probe.Entry.Path, img, err)
	default:
		b.logger.WithFields(fields).Warn("image not cached yet")
		return resolved(identifier, store.FilePath(fileName), nil, ErrNotReady)
	}
}

// await 在独立 goroutine 中等待任务终态，再以排队方式完成响应。
func (b *Bridge) await(resp *ImageResponse, memoKey string, job *cache.Job) {
	select {
	case <-job.Done():
	case <-b.closed:
		resp.finish(job.Path(), nil, ErrClosed)
		return
	}

	res, _ := job.Result()
	if res.Err != nil {
		resp.finish(res.Path, nil, res.Err)
		return
	}
	img, err := b.load(memoKey, cache.Entry{
		Key:       job.Key(),
		FileName:  job.FileName(),
		Path:      res.Path,
		SizeBytes: job.FileSize(),
	})
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"action":     "resolve",
			"identifier": resp.identifier,
			"job_id":     job.ID(),
		}).WithError(err).Warn("failed to load downloaded image")
	}
	resp.finish(res.Path, img, err)
}

// load 读取并解码缓存文件，成功结果按规范化的 "<device>/<file>" 缓存在内存中。
func (b *Bridge) load(memoKey string, entry cache.Entry) (image.Image, error) {
	if entry.Empty() {
		return nil, ErrEmptyMarker
	}
	if item := b.memo.Get(memoKey); item != nil {
		return item.Value(), nil
	}
	img, err := b.decoder.Decode(entry.Path)
	if err != nil {
		return nil, err
	}
	b.memo.Set(memoKey, img, ttlcache.DefaultTTL)
	return img, nil
}

// MemoLen 返回内存中缓存的解码结果数量。
func (b *Bridge) MemoLen() int {
	return b.memo.Len()
}
