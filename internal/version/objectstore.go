package version

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig configures the S3-compatible store.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func (c ObjectConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("objectstore: endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("objectstore: endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("objectstore: access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("objectstore: secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("objectstore: bucket is required")
	}
	return nil
}

// objectAPI is the bucket-scoped subset of S3 the store needs.
type objectAPI interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// errNoSuchKey is what objectAPI.Get returns for a missing object.
var errNoSuchKey = errors.New("no such key")

// ObjectStore keeps each version as <prefix>/<doc>/v000001.json in a bucket.
// Sequence allocation is serialized in-process; a bucket must not be shared
// by two concurrent runs of the same project.
type ObjectStore struct {
	api    objectAPI
	prefix string
	mu     sync.Mutex
}

// OpenObjectStore builds a MinIO client and creates the bucket if needed.
func OpenObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, storageErr("open", cfg.Endpoint, err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, storageErr("ensure bucket", cfg.Bucket, err)
	}
	return newObjectStore(&minioAPI{client: client, bucket: cfg.Bucket}, cfg.Prefix), nil
}

func newObjectStore(api objectAPI, prefix string) *ObjectStore {
	return &ObjectStore{api: api, prefix: strings.Trim(prefix, "/")}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (s *ObjectStore) docPrefix(doc string) string {
	return path.Join(s.prefix, doc) + "/"
}

func (s *ObjectStore) key(doc string, seq int) string {
	return path.Join(s.prefix, doc, fmt.Sprintf("v%06d.json", seq))
}

func (s *ObjectStore) Commit(ctx context.Context, doc, content string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs, err := s.sequences(ctx, doc)
	if err != nil {
		return Version{}, storageErr("commit", doc, err)
	}
	next := 1
	if len(seqs) > 0 {
		next = seqs[len(seqs)-1] + 1
	}
	v := newVersion(doc, next, content)
	data, err := json.Marshal(v)
	if err != nil {
		return Version{}, storageErr("commit", doc, err)
	}
	if err := s.api.Put(ctx, s.key(doc, next), data); err != nil {
		return Version{}, storageErr("commit", doc, err)
	}
	return v, nil
}

func (s *ObjectStore) Latest(ctx context.Context, doc string) (Version, bool, error) {
	seqs, err := s.sequences(ctx, doc)
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

func (s *ObjectStore) History(ctx context.Context, doc string) ([]Version, error) {
	seqs, err := s.sequences(ctx, doc)
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

func (s *ObjectStore) Get(ctx context.Context, doc string, seq int) (Version, error) {
	data, err := s.api.Get(ctx, s.key(doc, seq))
	if err != nil {
		if errors.Is(err, errNoSuchKey) {
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

func (s *ObjectStore) sequences(ctx context.Context, doc string) ([]int, error) {
	keys, err := s.api.List(ctx, s.docPrefix(doc))
	if err != nil {
		return nil, err
	}
	var seqs []int
	for _, k := range keys {
		var n int
		if _, err := fmt.Sscanf(path.Base(k), "v%d.json", &n); err == nil && n > 0 {
			seqs = append(seqs, n)
		}
	}
	sort.Ints(seqs)
	return seqs, nil
}

type minioAPI struct {
	client *minio.Client
	bucket string
}

func (m *minioAPI) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (m *minioAPI) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return data, nil
}

func (m *minioAPI) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

func mapMinioErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errNoSuchKey
	}
	return err
}
