package allocator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/yawl-run/yawl/telemetry"
)

// fakeWorkerMap is an in-memory stand-in for *rmap.Map, satisfying workerMap
// without requiring a live Redis-backed Pulse cluster.
type fakeWorkerMap struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeWorkerMap() *fakeWorkerMap {
	return &fakeWorkerMap{data: make(map[string]string)}
}

func (m *fakeWorkerMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *fakeWorkerMap) Set(_ context.Context, key, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return value, nil
}

func (m *fakeWorkerMap) Delete(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.data[key]
	delete(m.data, key)
	return v, nil
}

func (m *fakeWorkerMap) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}

func newTestRegistry() *Registry {
	return &Registry{workers: newFakeWorkerMap(), log: telemetry.NewNoopLogger()}
}

func mustRegister(r *Registry, w Worker) {
	raw, err := json.Marshal(w)
	if err != nil {
		panic(err)
	}
	if _, err := r.workers.Set(context.Background(), w.ID, string(raw)); err != nil {
		panic(err)
	}
}
