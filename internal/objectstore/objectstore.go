// Package objectstore is the blob-storage boundary: content goes in under a
// caller-chosen key, a retrievable URL comes back.
package objectstore

import "context"

type Store interface {
	// Put uploads data under key and returns a URL it can be fetched from.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}
