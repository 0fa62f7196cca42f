package device

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/artcache/internal/cache"
	"github.com/any-hub/artcache/internal/config"
)

func testFactory(t *testing.T) (StoreFactory, *[]string) {
	t.Helper()
	root := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	var created []string
	return func(dc config.DeviceConfig) *cache.Store {
		created = append(created, dc.ID)
		return cache.NewStore(dc.ID, cache.Options{Root: root, Logger: logger})
	}, &created
}

func TestRegistryBuildsStoresForAlbumArtDevices(t *testing.T) {
	cfg := &config.Config{
		Devices: []config.DeviceConfig{
			{ID: "phone", Name: "My Phone", Plugins: []string{"mprisremote", "battery"}},
			{ID: "tablet", Plugins: []string{"share"}},
		},
	}
	factory, created := testFactory(t)

	registry, err := NewRegistry(cfg, factory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(registry.Close)

	if len(*created) != 1 || (*created)[0] != "phone" {
		t.Fatalf("只应为 phone 创建缓存, got %v", *created)
	}

	phone, ok := registry.Lookup("phone")
	if !ok {
		t.Fatalf("expected phone device")
	}
	if !phone.AlbumArtEnabled() || phone.Store.DeviceID() != "phone" {
		t.Fatalf("phone 应拥有封面缓存")
	}
	if phone.Config.DisplayName() != "My Phone" {
		t.Fatalf("unexpected display name: %s", phone.Config.DisplayName())
	}

	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 devices in list, got %d", got)
	}
	if registry.List()[1].ID() != "tablet" {
		t.Fatalf("List 应保持配置顺序")
	}
}

func TestRegistryResolveStoreErrors(t *testing.T) {
	cfg := &config.Config{
		Devices: []config.DeviceConfig{
			{ID: "phone", Plugins: []string{"mprisremote"}},
			{ID: "tablet", Plugins: []string{"share"}},
		},
	}
	factory, _ := testFactory(t)
	registry, err := NewRegistry(cfg, factory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(registry.Close)

	if store, err := registry.ResolveStore(" phone "); err != nil || store == nil {
		t.Fatalf("phone 应可解析: %v", err)
	}
	if _, err := registry.ResolveStore("tablet"); !errors.Is(err, ErrPluginNotLoaded) {
		t.Fatalf("tablet 应返回 ErrPluginNotLoaded, got %v", err)
	}
	if _, err := registry.ResolveStore("device1"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("未知设备应返回 ErrUnknownDevice, got %v", err)
	}
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	cfg := &config.Config{
		Devices: []config.DeviceConfig{
			{ID: "phone", Plugins: []string{"mprisremote"}},
			{ID: "phone", Plugins: []string{"battery"}},
		},
	}
	if _, err := NewRegistry(cfg, nil); err == nil {
		t.Fatalf("重复设备 ID 应报错")
	}
	if _, err := NewRegistry(nil, nil); err == nil {
		t.Fatalf("nil config 应报错")
	}
}

func TestNilRegistryLookup(t *testing.T) {
	var registry *Registry
	if _, ok := registry.Lookup("phone"); ok {
		t.Fatalf("nil registry 不应命中")
	}
	if registry.List() != nil {
		t.Fatalf("nil registry 列表应为空")
	}
}
