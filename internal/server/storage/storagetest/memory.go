// Package storagetest provides an in-memory object store for tests of the
// file service and its HTTP handlers.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Memory keeps objects per visibility. Err, when set, is returned by every
// call.
type Memory struct {
	mu      sync.Mutex
	objects map[storage.Visibility]map[string]object
	Err     error
}

func NewMemory() *Memory {
	return &Memory{objects: map[storage.Visibility]map[string]object{
		storage.Public:  {},
		storage.Private: {},
	}}
}

func (m *Memory) Put(_ context.Context, v storage.Visibility, name string, body io.Reader, _ int64, contentType string) error {
	if m.Err != nil {
		return m.Err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[v][name] = object{data: data, contentType: contentType, modified: time.Now().UTC()}
	return nil
}

func (m *Memory) List(_ context.Context, v storage.Visibility) ([]models.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.StoredObject
	for name, o := range m.objects[v] {
		out = append(out, m.info(name, o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Head(_ context.Context, v storage.Visibility, name string) (*models.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.objects[v][name]
	if !ok {
		return nil, common.ErrorNotFound
	}
	info := m.info(name, o)
	return &info, nil
}

func (m *Memory) Get(_ context.Context, v storage.Visibility, name string) (io.ReadCloser, *models.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, nil, m.Err
	}
	o, ok := m.objects[v][name]
	if !ok {
		return nil, nil, common.ErrorNotFound
	}
	info := m.info(name, o)
	return io.NopCloser(bytes.NewReader(o.data)), &info, nil
}

func (m *Memory) PresignGet(_ context.Context, v storage.Visibility, name string, ttl time.Duration) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return fmt.Sprintf("https://objects.test/%s/%s?ttl=%d", v, name, int(ttl.Seconds())), nil
}

// Data returns the stored bytes of an object.
func (m *Memory) Data(v storage.Visibility, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[v][name]
	return o.data, ok
}

func (m *Memory) info(name string, o object) models.StoredObject {
	return models.StoredObject{
		Name:         name,
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
}
