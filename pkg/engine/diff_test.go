package engine

import (
	"testing"

	"github.com/zonecraft/zonecraft/pkg/provider"
)

func desiredA(id, name, value string, ttl int) DesiredRecord {
	return DesiredRecord{
		Record:     provider.Record{Type: "A", Name: name, Value: value, TTL: ttl},
		TemplateID: id,
	}
}

func remoteA(id, name, value string, ttl int) provider.Record {
	return provider.Record{ID: id, Type: "A", Name: name, Value: value, TTL: ttl}
}

func TestDiff_ConvergedZoneIsAllNoops(t *testing.T) {
	desired := []DesiredRecord{
		desiredA("apex", "@", "203.0.113.10", 3600),
		desiredA("www", "www", "203.0.113.10", 3600),
	}
	remote := []provider.Record{
		remoteA("r1", "@", "203.0.113.10", 3600),
		remoteA("r2", "www", "203.0.113.10", 3600),
	}

	cs := Diff("example.com", "", desired, remote)
	if len(cs.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(cs.Changes))
	}
	for _, c := range cs.Changes {
		if c.Action != ActionNoop {
			t.Errorf("expected NOOP for %s, got %s", c.Record.Key(), c.Action)
		}
	}
	if cs.HasMutations() {
		t.Error("converged zone must not report mutations")
	}
}

func TestDiff_Classification(t *testing.T) {
	desired := []DesiredRecord{
		desiredA("apex", "@", "203.0.113.10", 3600),   // exists, ttl differs
		desiredA("api", "api", "203.0.113.20", 3600),  // missing remotely
	}
	remote := []provider.Record{
		remoteA("r1", "@", "203.0.113.10", 300),
		remoteA("r2", "old", "198.51.100.1", 3600), // not desired
	}

	cs := Diff("example.com", "production", desired, remote)
	sum := cs.Summary()
	if sum.Creates != 1 || sum.Updates != 1 || sum.Deletes != 1 || sum.Noops != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	for _, c := range cs.Changes {
		switch c.Action {
		case ActionUpdate:
			if c.Previous == nil || c.Previous.ID != "r1" {
				t.Errorf("update should carry previous record r1, got %+v", c.Previous)
			}
		case ActionDelete:
			if c.Record.Name != "old" {
				t.Errorf("expected delete of 'old', got %s", c.Record.Name)
			}
		case ActionCreate:
			if c.RecordID != "api" {
				t.Errorf("expected create of 'api', got %s", c.RecordID)
			}
		}
	}
}

func TestDiff_ValueMatchBeatsPosition(t *testing.T) {
	// Two A records for the same name; desired order differs from
	// remote order. Matching is by value, so both pairs are NOOPs.
	desired := []DesiredRecord{
		desiredA("mx2", "@", "10.0.0.2", 3600),
		desiredA("mx1", "@", "10.0.0.1", 3600),
	}
	remote := []provider.Record{
		remoteA("r1", "@", "10.0.0.1", 3600),
		remoteA("r2", "@", "10.0.0.2", 3600),
	}

	cs := Diff("example.com", "", desired, remote)
	if cs.HasMutations() {
		t.Fatalf("expected no mutations, got %+v", cs.Summary())
	}
}

func TestDiff_DuplicateValuesPairGreedily(t *testing.T) {
	// Remote holds two identical records, desired wants one. One pairs,
	// one is deleted.
	desired := []DesiredRecord{
		desiredA("apex", "@", "203.0.113.10", 3600),
	}
	remote := []provider.Record{
		remoteA("r1", "@", "203.0.113.10", 3600),
		remoteA("r2", "@", "203.0.113.10", 3600),
	}

	cs := Diff("example.com", "", desired, remote)
	sum := cs.Summary()
	if sum.Noops != 1 || sum.Deletes != 1 {
		t.Fatalf("expected 1 noop and 1 delete, got %+v", sum)
	}

	// Greedy pairing takes the first unused remote record.
	var del *Change
	for i := range cs.Changes {
		if cs.Changes[i].Action == ActionDelete {
			del = &cs.Changes[i]
		}
	}
	if del == nil || del.Previous.ID != "r2" {
		t.Errorf("expected r2 to be deleted, got %+v", del)
	}
}

func TestDiff_PriorityDifferenceIsUpdate(t *testing.T) {
	p10, p20 := 10, 20
	desired := []DesiredRecord{
		{
			Record:     provider.Record{Type: "MX", Name: "@", Value: "mail.example.com", TTL: 3600, Priority: &p10},
			TemplateID: "mx",
		},
	}
	remote := []provider.Record{
		{ID: "r1", Type: "MX", Name: "@", Value: "mail.example.com", TTL: 3600, Priority: &p20},
	}

	cs := Diff("example.com", "", desired, remote)
	if len(cs.Changes) != 1 || cs.Changes[0].Action != ActionUpdate {
		t.Fatalf("expected single UPDATE, got %+v", cs.Changes)
	}
}

func TestDiff_DeterministicOrder(t *testing.T) {
	desired := []DesiredRecord{
		desiredA("b", "b", "10.0.0.2", 3600),
		desiredA("a", "a", "10.0.0.1", 3600),
	}

	first := Diff("example.com", "", desired, nil)
	second := Diff("example.com", "", desired, nil)

	if len(first.Changes) != len(second.Changes) {
		t.Fatal("diff is not deterministic")
	}
	for i := range first.Changes {
		if first.Changes[i].Record.Key() != second.Changes[i].Record.Key() {
			t.Fatalf("order differs at %d: %s vs %s",
				i, first.Changes[i].Record.Key(), second.Changes[i].Record.Key())
		}
	}
	// Groups are emitted in sorted key order.
	if first.Changes[0].Record.Name != "a" {
		t.Errorf("expected group A/a first, got %s", first.Changes[0].Record.Key())
	}
}
