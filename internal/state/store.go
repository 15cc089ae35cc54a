// Package state holds the carried control state of every equipment:
// PID accumulators, hysteresis latches, runtime counters, and timers.
// The store is the exclusive owner of this state; algorithms receive a
// read snapshot and return updates that the processor merges back in.
package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/atlasbms/atlas/internal/control/pid"
)

// Store is the in-process control-state map. Safe for concurrent tasks;
// each key is only ever mutated by the tick that owns its equipment.
type Store struct {
	mu   sync.RWMutex
	pids map[string]pid.State
	kv   map[string]map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		pids: make(map[string]pid.State),
		kv:   make(map[string]map[string]any),
	}
}

// PIDKey names one controller instance: equipment plus controller name
// ("heating", "cooling", "outdoorDamper", ...).
func PIDKey(equipmentID, controller string) string {
	return equipmentID + "/" + controller
}

// PID returns the carried controller state, zero if absent.
func (s *Store) PID(key string) pid.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pids[key]
}

// SetPID stores the controller state returned by a tick.
func (s *Store) SetPID(key string, st pid.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pids[key] = st
}

// ResetPID clears one controller's state.
func (s *Store) ResetPID(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pids, key)
}

// Get returns a raw value for the equipment.
func (s *Store) Get(equipmentID, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.kv[equipmentID]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// Set stores a raw value for the equipment.
func (s *Store) Set(equipmentID, key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.kv[equipmentID]
	if !ok {
		m = make(map[string]any)
		s.kv[equipmentID] = m
	}
	m[key] = v
}

// Delete removes one key for the equipment.
func (s *Store) Delete(equipmentID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.kv[equipmentID]; ok {
		delete(m, key)
	}
}

// Float returns a numeric value, coercing JSON-restored strings.
func (s *Store) Float(equipmentID, key string) (float64, bool) {
	v, ok := s.Get(equipmentID, key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Bool returns a boolean value.
func (s *Store) Bool(equipmentID, key string) (bool, bool) {
	v, ok := s.Get(equipmentID, key)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return t == "true", true
	case float64:
		return t != 0, true
	}
	return false, false
}

// String returns a string value.
func (s *Store) String(equipmentID, key string) (string, bool) {
	v, ok := s.Get(equipmentID, key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Time returns a timestamp value. Accepts time.Time or the RFC3339 string
// a JSON snapshot restores it as.
func (s *Store) Time(equipmentID, key string) (time.Time, bool) {
	v, ok := s.Get(equipmentID, key)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// SetTime stores a timestamp.
func (s *Store) SetTime(equipmentID, key string, t time.Time) {
	s.Set(equipmentID, key, t.Format(time.RFC3339Nano))
}

// AddFloat increments a numeric value and returns the new total.
func (s *Store) AddFloat(equipmentID, key string, delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.kv[equipmentID]
	if !ok {
		m = make(map[string]any)
		s.kv[equipmentID] = m
	}
	cur, _ := m[key].(float64)
	cur += delta
	m[key] = cur
	return cur
}

// Snapshot is the serialisable image of the store.
type Snapshot struct {
	PID map[string]pid.State      `json:"pid"`
	KV  map[string]map[string]any `json:"kv"`
}

// Export deep-copies the store for persistence.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		PID: make(map[string]pid.State, len(s.pids)),
		KV:  make(map[string]map[string]any, len(s.kv)),
	}
	for k, v := range s.pids {
		snap.PID[k] = v
	}
	for id, m := range s.kv {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		snap.KV[id] = cp
	}
	return snap
}

// Import replaces the store contents with a snapshot.
func (s *Store) Import(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pids = make(map[string]pid.State, len(snap.PID))
	for k, v := range snap.PID {
		s.pids[k] = v
	}
	s.kv = make(map[string]map[string]any, len(snap.KV))
	for id, m := range snap.KV {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		s.kv[id] = cp
	}
}
