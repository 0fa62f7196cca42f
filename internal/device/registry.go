// Package device 维护已配对设备与其封面缓存的映射，供 bridge 与 HTTP 层按设备 ID 查询。
package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/artcache/internal/cache"
	"github.com/any-hub/artcache/internal/config"
)

var (
	// ErrUnknownDevice 表示设备 ID 未在配置中声明。
	ErrUnknownDevice = errors.New("unknown device")
	// ErrPluginNotLoaded 表示设备存在但未加载 mprisremote 插件，因而没有封面缓存。
	ErrPluginNotLoaded = errors.New("album art plugin not loaded")
)

// StoreFactory 为加载了封面插件的设备创建缓存。
type StoreFactory func(device config.DeviceConfig) *cache.Store

// Device 聚合设备配置与其封面缓存（未加载插件时为 nil）。
type Device struct {
	// Config 是配置文件中声明的设备字段副本。
	Config config.DeviceConfig
	// Store 仅在设备加载 mprisremote 插件时存在。
	Store *cache.Store
}

// ID 返回设备标识。
func (d *Device) ID() string { return d.Config.ID }

// AlbumArtEnabled 表示设备是否拥有封面缓存。
func (d *Device) AlbumArtEnabled() bool { return d.Store != nil }

// Registry 提供设备 ID 到 Device 的查询，构造后只读，可并发访问。
type Registry struct {
	devices map[string]*Device
	ordered []*Device
}

// NewRegistry 根据配置构建设备表。调用方应在启动阶段创建一次并复用。
func NewRegistry(cfg *config.Config, factory StoreFactory) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &Registry{
		devices: make(map[string]*Device, len(cfg.Devices)),
	}

	for _, dc := range cfg.Devices {
		id := normalizeID(dc.ID)
		if id == "" {
			return nil, errors.New("device id is empty")
		}
		if _, exists := registry.devices[id]; exists {
			return nil, fmt.Errorf("duplicate device id %s", id)
		}

		device := &Device{Config: dc}
		if dc.HasPlugin(config.PluginAlbumArt) && factory != nil {
			device.Store = factory(dc)
		}

		registry.devices[id] = device
		registry.ordered = append(registry.ordered, device)
	}

	return registry, nil
}

// Lookup 根据设备 ID 查找 Device。
func (r *Registry) Lookup(id string) (*Device, bool) {
	if r == nil {
		return nil, false
	}
	device, ok := r.devices[normalizeID(id)]
	return device, ok
}

// List 返回按配置顺序排列的设备列表，用于诊断输出。
func (r *Registry) List() []*Device {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*Device(nil), r.ordered...)
}

// ResolveStore 返回设备的封面缓存。
func (r *Registry) ResolveStore(id string) (*cache.Store, error) {
	device, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if device.Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotLoaded, id)
	}
	return device.Store, nil
}

// Close 丢弃所有设备的在途下载。
func (r *Registry) Close() {
	for _, device := range r.List() {
		if device.Store != nil {
			device.Store.Close()
		}
	}
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
