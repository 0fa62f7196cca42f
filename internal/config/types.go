package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PluginAlbumArt 是启用封面缓存的设备插件名。
const PluginAlbumArt = "mprisremote"

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}
	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有设备共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	CacheRoot          string   `mapstructure:"CacheRoot"`
	MaxRedirects       int      `mapstructure:"MaxRedirects"`
	FetchTimeout       Duration `mapstructure:"FetchTimeout"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	FetchRatePerSecond float64  `mapstructure:"FetchRatePerSecond"`
	FetchBurst         int      `mapstructure:"FetchBurst"`
	MemoryCacheTTL     Duration `mapstructure:"MemoryCacheTTL"`
	MemoryCacheEntries uint64   `mapstructure:"MemoryCacheEntries"`
	LocalArtworkRoots  []string `mapstructure:"LocalArtworkRoots"`
}

// DeviceConfig 声明一个已配对设备及其加载的插件。
type DeviceConfig struct {
	ID      string   `mapstructure:"ID"`
	Name    string   `mapstructure:"Name"`
	Plugins []string `mapstructure:"Plugins"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Devices []DeviceConfig `mapstructure:"Device"`
}

// HasPlugin 表示设备是否加载了指定插件。
func (d DeviceConfig) HasPlugin(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, plugin := range d.Plugins {
		if strings.ToLower(strings.TrimSpace(plugin)) == name {
			return true
		}
	}
	return false
}

// DisplayName 在未配置 Name 时回退到 ID。
func (d DeviceConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// DeviceSummaries 返回所有设备的插件摘要，例如 phone:mprisremote，供日志字段使用。
func DeviceSummaries(devices []DeviceConfig) []string {
	if len(devices) == 0 {
		return nil
	}
	result := make([]string, len(devices))
	for i, device := range devices {
		result[i] = fmt.Sprintf("%s:%s", device.ID, strings.Join(device.Plugins, "+"))
	}
	return result
}
