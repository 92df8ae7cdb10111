// Package version is the append-only store of generated document content.
// Every successful generation commits a new Version; nothing is ever
// overwritten or deleted.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jorge-barreto/docgen/internal/failure"
)

// ErrNotFound is returned by Get for an unknown document or sequence.
var ErrNotFound = errors.New("version not found")

// Version is one immutable generation result. Sequence starts at 1 and is
// contiguous per document.
type Version struct {
	Document    string    `json:"document"`
	Sequence    int       `json:"sequence"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists versions. Implementations must be safe for concurrent use
// and must never reuse or skip a sequence number. I/O failures are returned
// as failure.Storage errors.
type Store interface {
	Commit(ctx context.Context, doc, content string) (Version, error)
	Latest(ctx context.Context, doc string) (Version, bool, error)
	History(ctx context.Context, doc string) ([]Version, error)
	Get(ctx context.Context, doc string, seq int) (Version, error)
}

// Hash returns the hex sha256 of content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func newVersion(doc string, seq int, content string) Version {
	return Version{
		Document:    doc,
		Sequence:    seq,
		Content:     content,
		ContentHash: Hash(content),
		CreatedAt:   time.Now().UTC(),
	}
}

func storageErr(op, doc string, err error) error {
	if err == nil {
		return nil
	}
	if failure.KindOf(err) == failure.Storage {
		return err
	}
	return failure.Storagef("%s %s: %w", op, doc, err)
}

// Verify checks that v's hash matches its content.
func Verify(v Version) error {
	if got := Hash(v.Content); got != v.ContentHash {
		return fmt.Errorf("version %s/%d: content hash mismatch", v.Document, v.Sequence)
	}
	return nil
}
