package bridge

import (
	"fmt"
	"image"
	"os"

	// 注册常见封面格式
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Decoder 把缓存文件解码为可显示的图片。
type Decoder interface {
	Decode(path string) (image.Image, error)
}

// DecoderFunc 将函数适配为 Decoder。
type DecoderFunc func(path string) (image.Image, error)

// Decode 使 DecoderFunc 满足 Decoder。
func (f DecoderFunc) Decode(path string) (image.Image, error) {
	return f(path)
}

// FileDecoder 用标准库 image.Decode 解码 png/jpeg/gif。
type FileDecoder struct{}

// Decode 打开文件并按内容嗅探格式解码。
func (FileDecoder) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
