package selector

import (
	"sync"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
)

// Entry pairs a compiled predicate with the subscription id it serves,
// plus enough of the subscription's own metadata for tie-breaking.
type Entry struct {
	SubscriptionID string
	OwnerID        string
	Predicate      *Compiled
	CreatedAt      int64 // unix nanos; stable tie-break order, ascending
}

// Index is the inverted (schema_name, tags) prefilter described in
// spec §4.3: a write scans only the selectors registered under its own
// schema/tags before paying for full predicate evaluation.
type Index struct {
	mu sync.RWMutex
	// bySchema maps schema_name -> entries registered with that schema_name
	// (selectors with no schema_name constraint are not keyed here).
	bySchema map[string][]Entry
	// byTag maps tag -> entries whose any_tags/all_tags mention that tag.
	byTag map[string][]Entry
	// untagged holds entries with neither a schema_name nor tag constraint;
	// every candidate must also be checked against these.
	untagged []Entry
}

// NewIndex creates an empty prefilter index.
func NewIndex() *Index {
	return &Index{
		bySchema: make(map[string][]Entry),
		byTag:    make(map[string][]Entry),
	}
}

// Add registers entry under every schema_name/tag key its source selector
// names. An unconstrained selector (no schema_name, no tags) is added to
// the untagged bucket, which every candidate consults.
func (idx *Index) Add(entry Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sel := entry.Predicate.Source()
	placed := false
	if sel.SchemaName != "" {
		idx.bySchema[sel.SchemaName] = append(idx.bySchema[sel.SchemaName], entry)
		placed = true
	}
	for _, t := range append(append([]string{}, sel.AnyTags...), sel.AllTags...) {
		idx.byTag[t] = append(idx.byTag[t], entry)
		placed = true
	}
	if !placed {
		idx.untagged = append(idx.untagged, entry)
	}
}

// Remove drops every entry for subscriptionID from the index. O(n) over
// current entries; registrations are rare relative to writes.
func (idx *Index) Remove(subscriptionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	filter := func(entries []Entry) []Entry {
		out := entries[:0:0]
		for _, e := range entries {
			if e.SubscriptionID != subscriptionID {
				out = append(out, e)
			}
		}
		return out
	}
	for k, v := range idx.bySchema {
		idx.bySchema[k] = filter(v)
	}
	for k, v := range idx.byTag {
		idx.byTag[k] = filter(v)
	}
	idx.untagged = filter(idx.untagged)
}

// Candidates returns every entry whose prefilter key could plausibly
// match b — the fanout engine still runs the full predicate against
// each before deciding a delivery. Deduplicated by subscription id and
// ordered by CreatedAt ascending, per spec §4.3's tie-break rule.
func (idx *Index) Candidates(b *models.Breadcrumb) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Entry
	add := func(entries []Entry) {
		for _, e := range entries {
			if !seen[e.SubscriptionID] {
				seen[e.SubscriptionID] = true
				out = append(out, e)
			}
		}
	}

	add(idx.bySchema[b.SchemaName])
	for _, t := range b.Tags {
		add(idx.byTag[t])
	}
	add(idx.untagged)

	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].CreatedAt > out[j].CreatedAt {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
