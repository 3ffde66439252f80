package provider

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process RecordStore. It backs tests and offline runs;
// all operations are safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	nextID  int
	records map[string][]Record // keyed by domain
}

// NewMemory creates an empty in-memory record store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]Record),
	}
}

// Seed replaces the records for a domain, assigning IDs to entries without one.
func (m *Memory) Seed(domain string, records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seeded := make([]Record, len(records))
	for i, r := range records {
		if r.ID == "" {
			m.nextID++
			r.ID = fmt.Sprintf("rec-%d", m.nextID)
		}
		seeded[i] = r
	}
	m.records[domain] = seeded
}

// List returns a copy of the records for a domain.
func (m *Memory) List(_ context.Context, domain string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records[domain]))
	copy(out, m.records[domain])
	return out, nil
}

// Create appends a record, assigning it a fresh ID.
func (m *Memory) Create(_ context.Context, domain string, record Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = fmt.Sprintf("rec-%d", m.nextID)
	m.records[domain] = append(m.records[domain], record)
	return record, nil
}

// Update replaces the record with the given ID.
func (m *Memory) Update(_ context.Context, domain string, id string, record Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.records[domain] {
		if r.ID == id {
			record.ID = id
			m.records[domain][i] = record
			return record, nil
		}
	}
	return Record{}, fmt.Errorf("record %s not found in domain %s", id, domain)
}

// Delete removes the record with the given ID.
func (m *Memory) Delete(_ context.Context, domain string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.records[domain]
	for i, r := range recs {
		if r.ID == id {
			m.records[domain] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("record %s not found in domain %s", id, domain)
}
