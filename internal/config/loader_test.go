package config

import (
	"path/filepath"
	"testing"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
CacheRoot = "./data"
FetchTimeout = "boom"

[[Device]]
ID = "phone"
Plugins = ["mprisremote"]
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsDeviceLevelCacheRoot(t *testing.T) {
	cfg := `
CacheRoot = "./data"

[[Device]]
ID = "phone"
CacheRoot = "/tmp/elsewhere"
Plugins = ["mprisremote"]
`
	path := writeTempConfig(t, cfg)
	_, err := Load(path)
	fieldErr, ok := err.(FieldError)
	if !ok {
		t.Fatalf("设备级 CacheRoot 应返回 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "Device[phone].CacheRoot" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
}

func TestLoadResolvesLocalArtworkRoots(t *testing.T) {
	cfg := `
CacheRoot = "./data"
LocalArtworkRoots = ["./music"]

[[Device]]
ID = "phone"
Plugins = [" MprisRemote "]
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if len(loaded.Global.LocalArtworkRoots) != 1 || !filepath.IsAbs(loaded.Global.LocalArtworkRoots[0]) {
		t.Fatalf("LocalArtworkRoots 应转换为绝对路径: %v", loaded.Global.LocalArtworkRoots)
	}
	if loaded.Devices[0].Plugins[0] != PluginAlbumArt {
		t.Fatalf("插件名应被规范化，得到 %q", loaded.Devices[0].Plugins[0])
	}
}
