// Package storage provides the hashing, size formatting and disk quota
// primitives used by the media cache.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Checksum returns the SHA-256 checksum of data as a lowercase hex string
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFile streams the file at path through SHA-256 and returns the hex
// checksum and the number of bytes read.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader consumes r and returns its SHA-256 hex checksum and length
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashingWriter hashes everything written through it while forwarding the
// bytes to an underlying writer, so content is hashed in a single pass.
type HashingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewHashingWriter wraps w
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	hw.h.Write(p[:n])
	hw.n += int64(n)
	return n, err
}

// Sum returns the hex checksum of the bytes written so far
func (hw *HashingWriter) Sum() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}

// Written returns the number of bytes written so far
func (hw *HashingWriter) Written() int64 {
	return hw.n
}

// KeyOf derives a short, filesystem-safe name for a string key such as a URL
func KeyOf(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}
