// Package storage holds file-upload answer bodies outside the activity log.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var ErrNotFound = errors.New("storage: blob not found")

// BlobStore keeps opaque bodies under slash-separated keys.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error) // returns canonical key
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AnswerKey is where a user's upload for a question lives.
func AnswerKey(userID, questionID int64, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return fmt.Sprintf("answers/%d/%d/%s", userID, questionID, name)
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("storage: empty key")
	}
	c := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))[1:]
	if c == "" || c != strings.TrimPrefix(path.Clean(key), "/") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return c, nil
}
