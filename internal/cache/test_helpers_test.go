package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/artcache/internal/eventloop"
)

// stubResponse 描述桩网络来源对某个 URL 的一次应答。
type stubResponse struct {
	status   int
	location string
	body     []byte
	err      error
	nilBody  bool
	// block 非空时，Open 会等到它关闭或 ctx 取消才返回。
	block chan struct{}
}

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	calls     map[string]int
	nilFor    map[string]bool
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: make(map[string]stubResponse),
		calls:     make(map[string]int),
		nilFor:    make(map[string]bool),
	}
}

func (f *stubFetcher) set(rawURL string, resp stubResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[rawURL] = resp
}

func (f *stubFetcher) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *stubFetcher) Get(rawURL string) Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nilFor[rawURL] {
		return nil
	}
	return PayloadFunc(func(ctx context.Context) (*Source, error) {
		f.mu.Lock()
		f.calls[rawURL]++
		resp, ok := f.responses[rawURL]
		f.mu.Unlock()
		if !ok {
			return &Source{Body: io.NopCloser(bytes.NewReader(nil)), StatusCode: 404}, nil
		}
		if resp.block != nil {
			select {
			case <-resp.block:
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			}
		}
		if resp.err != nil {
			return nil, resp.err
		}
		src := &Source{StatusCode: resp.status, Location: resp.location}
		if !resp.nilBody {
			src.Body = io.NopCloser(bytes.NewReader(resp.body))
		}
		return src, nil
	})
}

// fetcherFunc 将函数适配为 Fetcher。
type fetcherFunc func(rawURL string) Payload

func (f fetcherFunc) Get(rawURL string) Payload { return f(rawURL) }

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New(discardLogger())
	loop.Start()
	t.Cleanup(loop.Stop)
	return loop
}

// newTestStore returns a Store rooted in a temporary directory.
func newTestStore(t *testing.T, fetcher Fetcher, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		Root:    t.TempDir(),
		Loop:    newTestLoop(t),
		Fetcher: fetcher,
		Logger:  discardLogger(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	store := NewStore("device1", opts)
	require.True(t, store.Ready())
	return store
}

func waitResult(t *testing.T, job *Job) Result {
	t.Helper()
	require.NotNil(t, job)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	require.NoError(t, err, "job did not finish")
	return res
}

var errStubNetwork = errors.New("connection reset by peer")
