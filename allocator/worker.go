// Package allocator implements the Resource Allocator (C5, §4.5): it tracks
// which workers are online and what they can do, and dispatches Offered
// work items to them according to each task's declared matching rule
// (offer-all, single-pick, queue). Worker presence and capacity are held in
// a Pulse replicated map so every facade node sees the same roster, mirroring
// the teacher's distributed health-tracking pattern.
package allocator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"goa.design/pulse/rmap"

	"github.com/yawl-run/yawl/telemetry"
)

// Worker describes a resource capable of executing work items.
//
// Current load (§4.5.4 currentLoad) is deliberately not a field here: it is
// tracked in-process by each Allocator node (see acquire/release in
// allocator.go), because Pulse's replicated map offers no atomic
// increment/decrement and round-tripping a JSON-encoded counter through
// Get+Set would race across nodes. ConcurrentLimit is the only capacity
// fact that needs to be shared across the cluster.
type Worker struct {
	ID              string
	Capabilities    []string
	ConcurrentLimit int // max items concurrently allocated to this worker; 0 means unlimited
	RegisteredAt    time.Time
	LastHeartbeat   time.Time
}

func (w Worker) hasAll(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(w.Capabilities))
	for _, c := range w.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// workerMap is the subset of *rmap.Map's behavior Registry depends on,
// seamed out so tests can substitute a fake instead of a live Redis-backed
// Pulse map, the same way persistence/mongo seams the driver's collection
// type.
type workerMap interface {
	Get(key string) (string, bool)
	Set(ctx context.Context, key, value string) (string, error)
	Delete(ctx context.Context, key string) (string, error)
	Keys() []string
}

// Registry tracks worker presence and capacity across the cluster via a
// Pulse replicated map, analogous to the teacher's health_tracker registry
// map (registered identities visible to every node).
type Registry struct {
	workers workerMap
	log     telemetry.Logger
}

// NewRegistry wraps a Pulse replicated map as a worker registry.
func NewRegistry(workers *rmap.Map, log telemetry.Logger) *Registry {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Registry{workers: workers, log: log}
}

// Register adds or refreshes a worker's entry.
func (r *Registry) Register(ctx context.Context, w Worker) error {
	w.RegisteredAt = nowIfZero(w.RegisteredAt)
	w.LastHeartbeat = time.Now()
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("allocator: marshal worker: %w", err)
	}
	if _, err := r.workers.Set(ctx, w.ID, string(raw)); err != nil {
		return fmt.Errorf("allocator: register worker: %w", err)
	}
	return nil
}

// Heartbeat refreshes a worker's last-seen timestamp without touching its
// declared capabilities or capacity.
func (r *Registry) Heartbeat(ctx context.Context, workerID string) error {
	w, ok := r.Get(workerID)
	if !ok {
		return fmt.Errorf("allocator: unknown worker %q", workerID)
	}
	return r.Register(ctx, w)
}

// Deregister removes a worker from the roster.
func (r *Registry) Deregister(ctx context.Context, workerID string) error {
	_, err := r.workers.Delete(ctx, workerID)
	return err
}

// Get returns a worker's current entry.
func (r *Registry) Get(workerID string) (Worker, bool) {
	val, ok := r.workers.Get(workerID)
	if !ok {
		return Worker{}, false
	}
	var w Worker
	if err := json.Unmarshal([]byte(val), &w); err != nil {
		return Worker{}, false
	}
	return w, true
}

// Eligible returns every registered worker with all of the required
// capabilities, in ascending id order for determinism.
func (r *Registry) Eligible(required []string) []Worker {
	var out []Worker
	for _, key := range r.workers.Keys() {
		w, ok := r.Get(key)
		if !ok {
			continue
		}
		if w.hasAll(required) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
