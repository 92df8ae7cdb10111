package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

var versionFileRe = regexp.MustCompile(`^v(\d{6,})\.json$`)

// FileStore writes one JSON file per version under dir/<doc>/v000001.json.
// A version file is published with a hard link from a synced temp file, so a
// reader never sees a partial file and two writers can never claim the same
// sequence.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("creating version dir", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func versionPath(dir, doc string, seq int) string {
	return filepath.Join(dir, doc, fmt.Sprintf("v%06d.json", seq))
}

func (s *FileStore) Commit(ctx context.Context, doc, content string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	docDir := filepath.Join(s.dir, doc)
	if err := os.MkdirAll(docDir, 0755); err != nil {
		return Version{}, storageErr("commit", doc, err)
	}
	seqs, err := s.sequences(doc)
	if err != nil {
		return Version{}, storageErr("commit", doc, err)
	}
	next := 1
	if len(seqs) > 0 {
		next = seqs[len(seqs)-1] + 1
	}
	// another process may publish between listing and linking
	for tries := 0; tries < 5; tries++ {
		v := newVersion(doc, next, content)
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return Version{}, storageErr("commit", doc, err)
		}
		err = publishExclusive(versionPath(s.dir, doc, next), data)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return Version{}, storageErr("commit", doc, err)
		}
		next++
	}
	return Version{}, storageErr("commit", doc, fmt.Errorf("sequence contention"))
}

func (s *FileStore) Latest(ctx context.Context, doc string) (Version, bool, error) {
	seqs, err := s.sequences(doc)
	if err != nil {
		return Version{}, false, storageErr("latest", doc, err)
	}
	if len(seqs) == 0 {
		return Version{}, false, nil
	}
	v, err := s.Get(ctx, doc, seqs[len(seqs)-1])
	if err != nil {
		return Version{}, false, err
	}
	return v, true, nil
}

func (s *FileStore) History(ctx context.Context, doc string) ([]Version, error) {
	seqs, err := s.sequences(doc)
	if err != nil {
		return nil, storageErr("history", doc, err)
	}
	out := make([]Version, 0, len(seqs))
	for _, seq := range seqs {
		v, err := s.Get(ctx, doc, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *FileStore) Get(_ context.Context, doc string, seq int) (Version, error) {
	data, err := os.ReadFile(versionPath(s.dir, doc, seq))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Version{}, ErrNotFound
		}
		return Version{}, storageErr("get", doc, err)
	}
	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return Version{}, storageErr("get", doc, fmt.Errorf("decoding v%d: %w", seq, err))
	}
	return v, nil
}

func (s *FileStore) sequences(doc string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, doc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var seqs []int
	for _, e := range entries {
		m := versionFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Ints(seqs)
	return seqs, nil
}

// publishExclusive writes data to a temp file, fsyncs it and hard-links it
// to path. The link fails with fs.ErrExist if path is already taken.
func publishExclusive(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Link(tmp, path)
}
