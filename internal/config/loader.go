package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if err := rejectDeviceLevelCacheRoot(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Devices {
		applyDeviceDefaults(&cfg.Devices[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.Global.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheRoot = absRoot

	for i, root := range cfg.Global.LocalArtworkRoots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("无法解析本地封面目录 %s: %w", root, err)
		}
		cfg.Global.LocalArtworkRoots[i] = abs
	}

	return &cfg, nil
}

// DefaultCacheRoot 返回平台缓存目录下的 artcache 子目录，无法获取时退回 ./cache。
func DefaultCacheRoot() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "artcache")
	}
	return "./cache"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheRoot", DefaultCacheRoot())
	v.SetDefault("MaxRedirects", 10)
	v.SetDefault("FetchTimeout", "60s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("FetchRatePerSecond", 0)
	v.SetDefault("FetchBurst", 4)
	v.SetDefault("MemoryCacheTTL", "10m")
	v.SetDefault("MemoryCacheEntries", 256)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.CacheRoot == "" {
		g.CacheRoot = DefaultCacheRoot()
	}
	if g.MaxRedirects == 0 {
		g.MaxRedirects = 10
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(60 * time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.FetchBurst == 0 {
		g.FetchBurst = 4
	}
	if g.MemoryCacheTTL.DurationValue() == 0 {
		g.MemoryCacheTTL = Duration(10 * time.Minute)
	}
	if g.MemoryCacheEntries == 0 {
		g.MemoryCacheEntries = 256
	}
}

func applyDeviceDefaults(d *DeviceConfig) {
	d.ID = strings.TrimSpace(d.ID)
	d.Name = strings.TrimSpace(d.Name)
	plugins := make([]string, 0, len(d.Plugins))
	for _, plugin := range d.Plugins {
		if normalized := strings.ToLower(strings.TrimSpace(plugin)); normalized != "" {
			plugins = append(plugins, normalized)
		}
	}
	d.Plugins = plugins
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectDeviceLevelCacheRoot 拒绝设备级 CacheRoot，缓存目录固定为 <CacheRoot>/<ID>/albumart。
func rejectDeviceLevelCacheRoot(v *viper.Viper) error {
	raw := v.Get("Device")
	devices, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	for idx, entry := range devices {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := lookupFold(m, "CacheRoot"); exists {
			id := fmt.Sprintf("#%d", idx)
			if rawID, ok := lookupFold(m, "ID"); ok {
				if s, ok := rawID.(string); ok && s != "" {
					id = s
				}
			}
			return newFieldError(deviceField(id, "CacheRoot"), "不支持设备级覆盖，请使用全局 CacheRoot")
		}
	}
	return nil
}

// lookupFold 忽略大小写查找键，viper 可能已将嵌套表的键转为小写。
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
