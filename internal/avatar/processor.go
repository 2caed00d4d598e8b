package avatar

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// Size 头像输出边长（像素）。
const Size = 250

var (
	// ErrUnsupportedType 文件扩展名不是 jpg/jpeg/png。
	ErrUnsupportedType = errors.New("only jpg and png files are accepted")
	// ErrTooLarge 上传内容超过大小上限。
	ErrTooLarge = errors.New("file too large")
	// ErrNotFound 头像不存在。
	ErrNotFound = errors.New("avatar not found")
)

// AcceptFilename 校验上传文件名。
func AcceptFilename(name string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return nil
	default:
		return ErrUnsupportedType
	}
}

// Process 读取至多 maxBytes 字节的 JPEG/PNG 图片，缩放为 Size×Size 并编码为 PNG。
func Process(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, Size, Size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
