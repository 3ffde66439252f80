// Package provider defines the record store capability the reconciliation
// core depends on. Implementations talk to a DNS service; the core never
// sees transport, auth, or serialization details.
package provider

import (
	"context"
	"fmt"
)

// Record is a DNS record as known to the remote store.
type Record struct {
	// ID is the store-assigned identifier, empty for records that do not
	// exist remotely yet.
	ID string `json:"id,omitempty"`

	// Type is the DNS record type (A, AAAA, CNAME, MX, TXT, SRV, CAA, NS, SOA, PTR).
	Type string `json:"type"`

	// Name is the record name relative to the zone, "@" for the apex.
	Name string `json:"name"`

	// Value is the record content.
	Value string `json:"value"`

	// TTL is the time-to-live in seconds.
	TTL int `json:"ttl"`

	// Priority applies to MX and SRV records.
	Priority *int `json:"priority,omitempty"`
}

// Key returns the (type, name) grouping key used by the diff engine.
func (r Record) Key() string {
	return r.Type + "/" + r.Name
}

// String renders a short form for logs and reports.
func (r Record) String() string {
	return fmt.Sprintf("%s %s %s", r.Type, r.Name, r.Value)
}

// RecordStore is the capability set required by the reconciliation core.
type RecordStore interface {
	// List returns all records for a domain.
	List(ctx context.Context, domain string) ([]Record, error)

	// Create creates a record and returns it with its assigned ID.
	Create(ctx context.Context, domain string, record Record) (Record, error)

	// Update replaces the record identified by id.
	Update(ctx context.Context, domain string, id string, record Record) (Record, error)

	// Delete removes the record identified by id.
	Delete(ctx context.Context, domain string, id string) error
}
