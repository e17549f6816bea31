// Package memory keeps export artifacts in process memory. It backs tests
// and the memory storage profile.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"custodyledger/internal/blob/core"
)

type entry struct {
	obj  core.Object
	data []byte
}

// Store implements core.Store on a mutex-guarded map.
type Store struct {
	mu    sync.RWMutex
	objs  map[string]entry
	nowFn func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{objs: make(map[string]entry), nowFn: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Object, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Object{}, fmt.Errorf("read %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return core.Object{}, err
	}
	sum := sha256.Sum256(data)
	obj := core.Object{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     maps.Clone(opts.Metadata),
		LastModified: s.nowFn(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; ok {
		return core.Object{}, fmt.Errorf("%w: %s", core.ErrExists, key)
	}
	s.objs[key] = entry{obj: obj, data: data}
	return copyObject(obj), nil
}

func (s *Store) Get(_ context.Context, key string) (core.Object, io.ReadCloser, error) {
	e, err := s.lookup(key)
	if err != nil {
		return core.Object{}, nil, err
	}
	return copyObject(e.obj), io.NopCloser(bytes.NewReader(bytes.Clone(e.data))), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Object, error) {
	e, err := s.lookup(key)
	if err != nil {
		return core.Object{}, err
	}
	return copyObject(e.obj), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; !ok {
		return false, nil
	}
	delete(s.objs, key)
	return true, nil
}

// List returns objects whose key starts with prefix, sorted by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Object, 0, len(s.objs))
	for key, e := range s.objs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, copyObject(e.obj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SignedURL returns an opaque memory:// link; nothing serves it.
func (s *Store) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	e, err := s.lookup(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = core.DefaultURLTTL
	}
	u := url.URL{Scheme: "memory", Host: "blob", Path: "/" + e.obj.Key}
	u.RawQuery = url.Values{"expires": {s.nowFn().Add(ttl).Format(time.RFC3339)}}.Encode()
	return u.String(), nil
}

func (s *Store) lookup(key string) (entry, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return entry{}, err
	}
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return entry{}, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return e, nil
}

func copyObject(o core.Object) core.Object {
	o.Metadata = maps.Clone(o.Metadata)
	return o
}
