package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/any-hub/artcache/internal/cache"
	"github.com/any-hub/artcache/internal/version"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options 控制网络拉取的超时、限速与 UA。
type Options struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	UserAgent     string
	Logger        *logrus.Logger
}

// Fetcher 实现 cache.Fetcher：Get 只构造 payload，真正的请求在任务打开 payload 时发出。
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *logrus.Logger
}

// NewClient 返回不自动跟随重定向的 http.Client，重定向交给下载任务计数。
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// New 构造网络拉取器；RatePerSecond <= 0 表示不限速。
func New(opts Options) *Fetcher {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "artcache/" + version.Version
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fetcher{
		client:    NewClient(opts.Timeout),
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: userAgent,
		logger:    logger,
	}
}

// Client 暴露底层 http.Client，便于测试或复用。
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Get 返回 rawURL 的惰性 payload。
func (f *Fetcher) Get(rawURL string) cache.Payload {
	return cache.PayloadFunc(func(ctx context.Context) (*cache.Source, error) {
		return f.open(ctx, rawURL)
	})
}

func (f *Fetcher) open(ctx context.Context, rawURL string) (*cache.Source, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("url has no host")
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"action": "fetch",
		"url":    rawURL,
		"status": resp.StatusCode,
	}).Debug("upstream responded")

	src := &cache.Source{
		Body:       resp.Body,
		StatusCode: resp.StatusCode,
	}
	if isRedirect(resp.StatusCode) {
		src.Location = resp.Header.Get("Location")
	}
	return src, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
