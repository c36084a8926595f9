package utils

import (
	"mime"
	"net/http"
	"os"
)

const fallbackMime = "application/octet-stream"

// SniffMime determines a payload's MIME type and a matching file extension
// from its leading bytes. Unrecognizable data reports fallbackMime and
// ".bin".
func SniffMime(data []byte) (mimeType, ext string) {
	if len(data) == 0 {
		return fallbackMime, ".bin"
	}
	mimeType = http.DetectContentType(data)
	return mimeType, extFor(mimeType)
}

// SniffFileMime is SniffMime over the first 512 bytes of a file on disk; an
// unreadable file reports the fallback.
func SniffFileMime(path string) (mimeType, ext string) {
	f, err := os.Open(path)
	if err != nil {
		return fallbackMime, ".bin"
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil || n == 0 {
		return fallbackMime, ".bin"
	}
	return SniffMime(head[:n])
}

func extFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
