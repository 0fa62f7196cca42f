package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/artcache/internal/cache"
	"github.com/any-hub/artcache/internal/eventloop"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewClientUsesTimeout(t *testing.T) {
	client := NewClient(45 * time.Second)
	require.Equal(t, 45*time.Second, client.Timeout)
	require.NotNil(t, client.CheckRedirect)

	client = NewClient(0)
	require.Equal(t, 30*time.Second, client.Timeout)
}

func TestPayloadSurfacesRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old.png":
			http.Redirect(w, r, "/new.png", http.StatusFound)
		case "/new.png":
			if r.Header.Get("Accept") != "image/*" || r.Header.Get("User-Agent") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte("png"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := New(Options{Timeout: 5 * time.Second, Logger: discardLogger()})

	src, err := f.Get(server.URL + "/old.png").Open(context.Background())
	require.NoError(t, err)
	src.Body.Close()
	require.Equal(t, http.StatusFound, src.StatusCode)
	require.Equal(t, "/new.png", src.Location)

	src, err = f.Get(server.URL + "/new.png").Open(context.Background())
	require.NoError(t, err)
	body, err := io.ReadAll(src.Body)
	src.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, src.StatusCode)
	require.Empty(t, src.Location)
	require.Equal(t, "png", string(body))
}

func TestPayloadRejectsUnsupportedScheme(t *testing.T) {
	f := New(Options{Logger: discardLogger()})
	_, err := f.Get("ftp://x/img.png").Open(context.Background())
	require.Error(t, err)
	_, err = f.Get("http:///img.png").Open(context.Background())
	require.Error(t, err)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	f := New(Options{RatePerSecond: 0.001, Burst: 1, Logger: discardLogger()})
	require.True(t, f.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Get("http://127.0.0.1:1/img.png").Open(ctx)
	require.Error(t, err)
}

func TestStoreFollowsRealRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.png":
			http.Redirect(w, r, "/img2.png", http.StatusMovedPermanently)
		case "/img2.png":
			w.Write([]byte{0xFF, 0xD8})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	loop := eventloop.New(discardLogger())
	loop.Start()
	defer loop.Stop()

	store := cache.NewStore("device1", cache.Options{
		Root:    t.TempDir(),
		Loop:    loop,
		Fetcher: New(Options{Timeout: 5 * time.Second, Logger: discardLogger()}),
		Logger:  discardLogger(),
	})

	job := store.StartFetch(server.URL+"/img.png", "player")
	require.NotNil(t, job)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, 1, job.Redirects())
	require.Equal(t, filepath.Join(store.Dir(), cache.CacheFileName(server.URL+"/img.png")), res.Path)
	require.Equal(t, int64(2), store.Stats().SizeBytes)
}
