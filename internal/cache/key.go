package cache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"
)

// Key 是封面 URL 的 MD5 十六进制摘要，也是磁盘索引唯一的查找字段。
type Key string

// ErrMalformedIdentifier 表示图片标识无法拆成 <device>/<file> 两段。
var ErrMalformedIdentifier = errors.New("malformed image identifier")

// imageScheme 是 UI 层引用封面时使用的 URL 前缀。
const imageScheme = "image://albumart/"

// DeriveKey 对 URL 的规范编码形式做 MD5，结果对同一 URL 始终稳定。
func DeriveKey(rawURL string) Key {
	sum := md5.Sum([]byte(canonicalURL(rawURL)))
	return Key(hex.EncodeToString(sum[:]))
}

// canonicalURL 返回 percent-encoded 的规范形式；无法解析时退回原始字符串。
func canonicalURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.String()
}

// fileExtension 取 URL path 最后一段的扩展名（不含点），不做内容嗅探。
func fileExtension(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	}
	ext := path.Ext(path.Base(p))
	return strings.TrimPrefix(ext, ".")
}

// CacheFileName 返回 <key>.<ext>；URL 没有扩展名时只返回 key。
func CacheFileName(rawURL string) string {
	key := string(DeriveKey(rawURL))
	if ext := fileExtension(rawURL); ext != "" {
		return key + "." + ext
	}
	return key
}

// ImageIdentifier 生成 UI 回传的不透明标识 "<deviceID>/<cacheFileName>"。
func ImageIdentifier(deviceID, rawURL string) string {
	return deviceID + "/" + CacheFileName(rawURL)
}

// ImageURL 生成 image://albumart/<deviceID>/<cacheFileName> 形式的图片地址。
func ImageURL(deviceID, rawURL string) string {
	return imageScheme + ImageIdentifier(deviceID, rawURL)
}

// ParseIdentifier 是 ImageIdentifier 的逆运算：按 "/" 拆分并去掉扩展名得到 key。
func ParseIdentifier(id string) (deviceID string, key Key, fileName string, err error) {
	id = strings.TrimPrefix(id, imageScheme)
	parts := strings.Split(id, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", ErrMalformedIdentifier
	}
	stem, _, _ := strings.Cut(parts[1], ".")
	if stem == "" {
		return "", "", "", ErrMalformedIdentifier
	}
	return parts[0], Key(stem), parts[1], nil
}
