package export

import (
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// ZipFile replaces path with path.zip holding a single deflated entry.
func ZipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	target := path + ".zip"
	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	zw := zip.NewWriter(dst)
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		dst.Close()
		return "", err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate
	entry, err := zw.CreateHeader(header)
	if err != nil {
		dst.Close()
		return "", err
	}
	if _, err := io.Copy(entry, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	src.Close()
	return target, os.Remove(path)
}
