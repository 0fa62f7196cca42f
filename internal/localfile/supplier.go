// Package localfile 把 file:// 形式的封面地址映射到本机文件，并在受信任的目录范围内
// 把文件字节交给缓存任务。
package localfile

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/artcache/internal/cache"
)

var (
	// ErrOutsideRoots 表示路径不在任何允许的目录下。
	ErrOutsideRoots = errors.New("path outside allowed artwork roots")
	// ErrNotLocal 表示 URL 不是 file:// 形式。
	ErrNotLocal = errors.New("not a local file url")
)

// PayloadSink 是 Supplier 的投递目标，*cache.Store 满足该接口。
type PayloadSink interface {
	SupplyPayload(rawURL string, payload cache.Payload)
	OnLocalPayloadRequest(fn func(cache.LocalPayloadRequest))
}

// Supplier 响应 Store 的本地文件请求。roots 为空时拒绝所有本地文件。
type Supplier struct {
	roots  []string
	logger *logrus.Logger
}

// New 构造 Supplier，roots 会被转为绝对路径并清理。
func New(roots []string, logger *logrus.Logger) *Supplier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			logger.WithFields(logrus.Fields{"action": "localfile_init", "root": root}).
				WithError(err).Warn("skip artwork root")
			continue
		}
		cleaned = append(cleaned, filepath.Clean(abs))
	}
	return &Supplier{roots: cleaned, logger: logger}
}

// Roots 返回生效的根目录列表。
func (s *Supplier) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Attach 订阅 sink 的本地文件请求。
func (s *Supplier) Attach(sink PayloadSink) {
	sink.OnLocalPayloadRequest(func(req cache.LocalPayloadRequest) {
		s.Handle(sink, req)
	})
}

// Handle 处理一次请求。无论成功与否都会回调 SupplyPayload，失败时 payload 为 nil，
// 任务随即以 empty payload 结束。交付的 payload 在任务开始拷贝时才打开文件。
func (s *Supplier) Handle(sink PayloadSink, req cache.LocalPayloadRequest) {
	fields := logrus.Fields{
		"action": "localfile_supply",
		"device": req.DeviceID,
		"url":    req.URL,
	}

	path, err := s.Resolve(req.URL)
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("reject local artwork")
		sink.SupplyPayload(req.URL, nil)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("stat local artwork failed")
		sink.SupplyPayload(req.URL, nil)
		return
	}
	if !info.Mode().IsRegular() {
		s.logger.WithFields(fields).Warn("local artwork is not a regular file")
		sink.SupplyPayload(req.URL, nil)
		return
	}

	s.logger.WithFields(fields).WithField("path", path).Debug("supplying local artwork")
	sink.SupplyPayload(req.URL, cache.FilePayload(path))
}

// Resolve 把 file:// URL 转为本机路径，并确认它位于某个允许的根目录下。
func (s *Supplier) Resolve(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if parsed.Scheme != "file" {
		return "", ErrNotLocal
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("remote file host %q: %w", parsed.Host, ErrNotLocal)
	}

	path := filepath.Clean(filepath.FromSlash(parsed.Path))
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("relative path %q: %w", path, ErrOutsideRoots)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	for _, root := range s.roots {
		if within(root, path) {
			return path, nil
		}
	}
	return "", ErrOutsideRoots
}

func within(root, path string) bool {
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
