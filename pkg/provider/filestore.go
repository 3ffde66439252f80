package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FileStore is a RecordStore persisted as one JSON document per domain
// under a state directory. It serves offline workspaces where no real
// provider is configured; the state file stands in for the remote zone.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// stateDoc is the on-disk shape of a domain's records.
type stateDoc struct {
	Domain  string   `json:"domain"`
	Records []Record `json:"records"`
}

// NewFileStore creates a file-backed record store rooted at dir. The
// directory is created on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// List returns the records for a domain. A domain with no state file
// has no records.
func (f *FileStore) List(_ context.Context, domain string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(domain)
	if err != nil {
		return nil, err
	}
	return doc.Records, nil
}

// Create appends a record, assigning it a fresh ID.
func (f *FileStore) Create(_ context.Context, domain string, record Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(domain)
	if err != nil {
		return Record{}, err
	}

	record.ID = uuid.NewString()
	doc.Records = append(doc.Records, record)

	if err := f.save(domain, doc); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Update replaces the record with the given ID.
func (f *FileStore) Update(_ context.Context, domain string, id string, record Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(domain)
	if err != nil {
		return Record{}, err
	}

	for i, r := range doc.Records {
		if r.ID == id {
			record.ID = id
			doc.Records[i] = record
			if err := f.save(domain, doc); err != nil {
				return Record{}, err
			}
			return record, nil
		}
	}
	return Record{}, fmt.Errorf("record %s not found in domain %s", id, domain)
}

// Delete removes the record with the given ID.
func (f *FileStore) Delete(_ context.Context, domain string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(domain)
	if err != nil {
		return err
	}

	for i, r := range doc.Records {
		if r.ID == id {
			doc.Records = append(doc.Records[:i], doc.Records[i+1:]...)
			return f.save(domain, doc)
		}
	}
	return fmt.Errorf("record %s not found in domain %s", id, domain)
}

func (f *FileStore) path(domain string) string {
	// Domains are DNS names, but keep path separators out regardless.
	name := strings.ReplaceAll(domain, string(os.PathSeparator), "_")
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) load(domain string) (*stateDoc, error) {
	data, err := os.ReadFile(f.path(domain))
	if errors.Is(err, fs.ErrNotExist) {
		return &stateDoc{Domain: domain}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state for %s: %w", domain, err)
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing state for %s: %w", domain, err)
	}
	doc.Domain = domain
	return &doc, nil
}

func (f *FileStore) save(domain string, doc *stateDoc) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename keeps the state file whole if we crash
	// mid-write.
	tmp := f.path(domain) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state for %s: %w", domain, err)
	}
	return os.Rename(tmp, f.path(domain))
}
