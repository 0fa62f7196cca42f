package server

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/artcache/internal/bridge"
	"github.com/any-hub/artcache/internal/cache"
	"github.com/any-hub/artcache/internal/logging"
)

// ImageResolver resolves an image identifier into a (possibly pending)
// response. *bridge.Bridge satisfies it.
type ImageResolver interface {
	Resolve(identifier string) *bridge.ImageResponse
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger   *logrus.Logger
	Resolver ImageResolver
	// WaitTimeout bounds how long a request waits for an in-flight download.
	WaitTimeout time.Duration
}

const (
	contextKeyRequestID = "_artcache_request_id"
	defaultWaitTimeout  = 30 * time.Second
)

// NewApp builds a Fiber application with request-id and recover middleware
// and the artwork route. Diagnostics routes are registered separately.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("image resolver is required")
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/albumart/:device/:file", func(c fiber.Ctx) error {
		return serveArtwork(c, opts)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func serveArtwork(c fiber.Ctx, opts AppOptions) error {
	identifier := c.Params("device") + "/" + c.Params("file")

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()

	resp := opts.Resolver.Resolve(identifier)
	err := resp.Wait(ctx)

	fields := logging.RequestFields(c.Params("device"), identifier, RequestID(c), err == nil)
	if err != nil {
		opts.Logger.WithFields(fields).WithError(err).Debug("artwork unavailable")
		return renderArtworkError(c, err)
	}

	data, err := os.ReadFile(resp.Path())
	if err != nil {
		opts.Logger.WithFields(fields).WithError(err).Warn("read cached artwork failed")
		return renderArtworkError(c, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(resp.Path()))
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	opts.Logger.WithFields(fields).WithField("bytes", len(data)).Debug("artwork served")
	return c.Status(fiber.StatusOK).Send(data)
}

func renderArtworkError(c fiber.Ctx, err error) error {
	code := "artwork_unavailable"
	switch {
	case errors.Is(err, cache.ErrMalformedIdentifier):
		code = "malformed_identifier"
	case errors.Is(err, bridge.ErrUnresolvedDevice):
		code = "device_unresolved"
	case errors.Is(err, bridge.ErrNotReady):
		code = "not_ready"
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
