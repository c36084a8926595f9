// Package utils holds small helpers for the chat-channel file plumbing:
// content-type sniffing and names for attachments that arrive without one.
package utils

import (
	"encoding/binary"
	"encoding/hex"
	"time"
)

// StampedFileName names a downloaded chat attachment: an 8-hex-char
// unix-time prefix, the attachment key, and the sniffed extension. The
// prefix keeps repeated downloads of the same key from clobbering each
// other and records when the file arrived.
func StampedFileName(key, ext string) string {
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(time.Now().Unix()))
	return hex.EncodeToString(ts[:]) + "_" + key + ext
}
