package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local Store. Payloads and metadata are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	ks      keyspace
	objects map[string]Object
}

func NewMemory(prefix string) *Memory {
	return &Memory{ks: newKeyspace(prefix), objects: make(map[string]Object)}
}

func (m *Memory) Put(_ context.Context, key string, payload []byte, opts PutOptions) error {
	logical, full, err := m.ks.resolve(key)
	if err != nil {
		return err
	}
	sum := md5.Sum(payload)
	obj := Object{
		Key:          logical,
		Data:         bytes.Clone(payload),
		ContentType:  strings.TrimSpace(opts.ContentType),
		Metadata:     copyMetadata(opts.Metadata),
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: time.Now().UTC(),
	}

	m.mu.Lock()
	m.objects[full] = obj
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	logical, full, err := m.ks.resolve(key)
	if err != nil {
		return Object{}, err
	}

	m.mu.RLock()
	obj, ok := m.objects[full]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, logical)
	}
	obj.Data = bytes.Clone(obj.Data)
	obj.Metadata = copyMetadata(obj.Metadata)
	return obj, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	_, full, err := m.ks.resolve(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, full)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	_, full, err := m.ks.resolve(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[full]
	m.mu.RUnlock()
	return ok, nil
}

// Keys lists the logical keys currently stored.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for _, obj := range m.objects {
		out = append(out, obj.Key)
	}
	return out
}
