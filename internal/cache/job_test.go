package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStartRejectsWhileFetching(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fetcher := newStubFetcher()
	fetcher.set("http://x/busy.png", stubResponse{status: 200, body: []byte("b"), block: release})
	store := newTestStore(t, fetcher)

	job := store.StartFetch("http://x/busy.png", "player")
	require.NotNil(t, job)
	require.Equal(t, JobFetching, job.State())

	var accepted bool
	require.NoError(t, store.loop.Call(context.Background(), func() {
		accepted = job.start(fetcher.Get("http://x/busy.png"))
	}))
	require.False(t, accepted)
	require.Equal(t, JobFetching, job.State())
}

func TestJobFileCreateFailure(t *testing.T) {
	store := newTestStore(t, newStubFetcher())
	job := newJob("http://x/img.png", filepath.Join(t.TempDir(), "missing", "img.png"), jobOptions{
		loop:         store.loop,
		logger:       discardLogger(),
		maxRedirects: DefaultMaxRedirects,
	})

	payload := FilePayload(filepath.Join(t.TempDir(), "src.png"))
	var accepted bool
	require.NoError(t, store.loop.Call(context.Background(), func() {
		accepted = job.start(payload)
	}))
	require.False(t, accepted)

	res := waitResult(t, job)
	var createErr *FileCreateError
	require.ErrorAs(t, res.Err, &createErr)
	_, err := os.Stat(job.Path())
	require.True(t, os.IsNotExist(err))
}

func TestJobIgnoresStartAfterTerminal(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.set("http://x/done.png", stubResponse{status: 200, body: []byte("d")})
	store := newTestStore(t, fetcher)

	job := store.StartFetch("http://x/done.png", "player")
	first := waitResult(t, job)

	var accepted bool
	require.NoError(t, store.loop.Call(context.Background(), func() {
		accepted = job.start(fetcher.Get("http://x/done.png"))
	}))
	require.False(t, accepted)
	res, ok := job.Result()
	require.True(t, ok)
	require.Equal(t, first, res)
}

func TestResolveLocation(t *testing.T) {
	require.Equal(t, "http://x/b/c.png", resolveLocation("http://x/a/img.png", "/b/c.png"))
	require.Equal(t, "http://y/img2.png", resolveLocation("http://x/img.png", "http://y/img2.png"))
	require.Equal(t, "http://x/a/d.png", resolveLocation("http://x/a/img.png", "d.png"))
}

func TestJobStateStrings(t *testing.T) {
	require.Equal(t, "created", JobCreated.String())
	require.Equal(t, "redirecting", JobRedirecting.String())
	require.True(t, JobFailed.Terminal())
	require.False(t, JobFetching.Terminal())
}
