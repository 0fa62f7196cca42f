package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/artcache/internal/cache"
	"github.com/any-hub/artcache/internal/device"
	"github.com/any-hub/artcache/internal/server"
)

// RegisterDeviceRoutes 暴露 /-/devices 诊断接口，并允许外部（例如 MPRIS 元数据监听方）
// 为设备触发封面下载。
func RegisterDeviceRoutes(app *fiber.App, registry *device.Registry, logger *logrus.Logger) {
	if app == nil || registry == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/devices", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"devices": encodeDevices(registry.List()),
		})
	})

	app.Post("/-/devices/:device/artwork", func(c fiber.Ctx) error {
		deviceID := strings.TrimSpace(c.Params("device"))
		var req artworkRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}

		store, err := registry.ResolveStore(deviceID)
		if err != nil {
			code := "device_not_found"
			if errors.Is(err, device.ErrPluginNotLoaded) {
				code = "plugin_not_loaded"
			}
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": code})
		}

		job := store.StartFetch(req.URL, req.Player)
		logger.WithFields(logrus.Fields{
			"action":     "artwork_request",
			"device":     deviceID,
			"player":     req.Player,
			"url":        req.URL,
			"started":    job != nil,
			"request_id": server.RequestID(c),
		}).Debug("artwork fetch requested")

		payload := artworkResponse{
			Identifier: store.ImageIdentifier(req.URL),
			ImageURL:   cache.ImageURL(deviceID, req.URL),
			Started:    job != nil,
		}
		if job != nil {
			payload.JobID = job.ID()
		}
		return c.Status(fiber.StatusAccepted).JSON(payload)
	})
}

type artworkRequest struct {
	URL    string `json:"url"`
	Player string `json:"player"`
}

type artworkResponse struct {
	Identifier string `json:"identifier"`
	ImageURL   string `json:"image_url"`
	Started    bool   `json:"started"`
	JobID      string `json:"job_id,omitempty"`
}

type devicePayload struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Plugins  []string     `json:"plugins"`
	AlbumArt bool         `json:"album_art"`
	Ready    bool         `json:"ready"`
	CacheDir string       `json:"cache_dir,omitempty"`
	Stats    *cache.Stats `json:"stats,omitempty"`
}

func encodeDevices(devices []*device.Device) []devicePayload {
	if len(devices) == 0 {
		return nil
	}
	result := make([]devicePayload, 0, len(devices))
	for _, d := range devices {
		item := devicePayload{
			ID:       d.ID(),
			Name:     d.Config.DisplayName(),
			Plugins:  append([]string(nil), d.Config.Plugins...),
			AlbumArt: d.AlbumArtEnabled(),
		}
		if d.Store != nil {
			stats := d.Store.Stats()
			item.Ready = d.Store.Ready()
			item.CacheDir = d.Store.Dir()
			item.Stats = &stats
		}
		result = append(result, item)
	}
	return result
}
