package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// albumArtDirName 是设备缓存目录下存放封面的子目录。
const albumArtDirName = "albumart"

// deviceCacheDir 计算 <root>/<deviceID>/albumart，并拒绝会逃逸出 root 的设备 ID。
func deviceCacheDir(root, deviceID string) (string, error) {
	if root == "" {
		return "", errors.New("cache root required")
	}
	if deviceID == "" {
		return "", errors.New("device id required")
	}
	if strings.ContainsAny(deviceID, `/\`) || deviceID == "." || deviceID == ".." {
		return "", fmt.Errorf("invalid device id %q", deviceID)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve cache root: %w", err)
	}

	dir := filepath.Join(abs, deviceID, albumArtDirName)
	if !strings.HasPrefix(dir, abs+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return dir, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return nil
}

// scanDir 读取目录中的普通文件构建索引，文件名第一个点之前的部分即 key。
func scanDir(dir string) (map[Key]Entry, int64, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	index := make(map[Key]Entry, len(items))
	var total int64
	for _, item := range items {
		if !item.Type().IsRegular() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		stem, _, _ := strings.Cut(item.Name(), ".")
		if stem == "" {
			continue
		}
		index[Key(stem)] = Entry{
			Key:       Key(stem),
			FileName:  item.Name(),
			Path:      filepath.Join(dir, item.Name()),
			SizeBytes: info.Size(),
		}
		total += info.Size()
	}
	return index, total, nil
}

// openDestination 以独占截断写方式打开目标文件，重定向前的残留内容随之丢弃。
func openDestination(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// markFailed 把目标文件截断为空，作为“已知失败”的标记。
func markFailed(path string) error {
	f, err := openDestination(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
