package config

import (
	"errors"
	"strings"
)

var supportedPlugins = map[string]struct{}{
	PluginAlbumArt:      {},
	"sendnotifications": {},
	"battery":           {},
	"clipboard":         {},
	"share":             {},
}

const supportedPluginList = "mprisremote|sendnotifications|battery|clipboard|share"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.CacheRoot) == "" {
		return newFieldError("Global.CacheRoot", "不能为空")
	}
	if g.MaxRedirects < 0 {
		return newFieldError("Global.MaxRedirects", "不能为负数")
	}
	if g.FetchTimeout.DurationValue() < 0 {
		return newFieldError("Global.FetchTimeout", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.FetchRatePerSecond < 0 {
		return newFieldError("Global.FetchRatePerSecond", "不能为负数")
	}
	if g.FetchBurst < 0 {
		return newFieldError("Global.FetchBurst", "不能为负数")
	}
	if g.MemoryCacheTTL.DurationValue() < 0 {
		return newFieldError("Global.MemoryCacheTTL", "不能为负数")
	}
	for _, root := range g.LocalArtworkRoots {
		if strings.TrimSpace(root) == "" {
			return newFieldError("Global.LocalArtworkRoots", "不能包含空路径")
		}
	}

	if len(c.Devices) == 0 {
		return errors.New("至少需要配置一个 Device")
	}

	seen := map[string]struct{}{}
	for i := range c.Devices {
		device := &c.Devices[i]
		if err := validateDeviceID(device.ID); err != nil {
			return err
		}
		if _, exists := seen[device.ID]; exists {
			return newFieldError(deviceField(device.ID, "ID"), "重复")
		}
		seen[device.ID] = struct{}{}

		for _, plugin := range device.Plugins {
			normalized := strings.ToLower(strings.TrimSpace(plugin))
			if _, ok := supportedPlugins[normalized]; !ok {
				return newFieldError(deviceField(device.ID, "Plugins"), "仅支持 "+supportedPluginList)
			}
		}
	}

	return nil
}

// validateDeviceID 保证设备 ID 可以安全地作为目录名与图片标识的第一段。
func validateDeviceID(id string) error {
	if id == "" {
		return newFieldError("Device[].ID", "不能为空")
	}
	if strings.ContainsAny(id, `/\`) {
		return newFieldError(deviceField(id, "ID"), "不允许包含路径分隔符")
	}
	if strings.ContainsAny(id, " \t") {
		return newFieldError(deviceField(id, "ID"), "不允许包含空格")
	}
	if id == "." || id == ".." {
		return newFieldError(deviceField(id, "ID"), "不合法")
	}
	return nil
}
