package crdt

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Snapshots and updates travel as CBOR. The encoding is opaque to storage
// and transport; only this package interprets it.

type snapshotContainer struct {
	Name    string   `cbor:"n"`
	Items   []Item   `cbor:"a,omitempty"`
	Pending []ItemID `cbor:"t,omitempty"`
}

type snapshotDoc struct {
	Containers []snapshotContainer `cbor:"c"`
}

// EncodeSnapshot serializes the document's full replicated state, tombstones
// included.
func EncodeSnapshot(d *Document) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := snapshotDoc{}
	names := make([]string, 0, len(d.texts))
	for name := range d.texts {
		names = append(names, name)
	}
	// Deterministic container order keeps snapshots byte-comparable.
	sort.Strings(names)
	for _, name := range names {
		t := d.texts[name]
		c := snapshotContainer{Name: name}
		for _, it := range t.items {
			c.Items = append(c.Items, *it)
		}
		for id := range t.pending {
			c.Pending = append(c.Pending, id)
		}
		sort.Slice(c.Pending, func(i, j int) bool { return lessID(c.Pending[i], c.Pending[j]) })
		snap.Containers = append(snap.Containers, c)
	}
	return cbor.Marshal(snap)
}

// DecodeSnapshot hydrates a freshly constructed document for the given site
// from an encoded snapshot.
func DecodeSnapshot(site string, data []byte) (*Document, error) {
	var snap snapshotDoc
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	doc := NewDocument(site)
	for _, c := range snap.Containers {
		doc.Merge(Update{Container: c.Name, Items: c.Items, Tombstones: c.Pending})
	}
	return doc, nil
}

// EncodeUpdate serializes a single update.
func EncodeUpdate(u Update) ([]byte, error) {
	return cbor.Marshal(u)
}

// DecodeUpdate deserializes a single update.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := cbor.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

func lessID(a, b ItemID) bool {
	if a.Site != b.Site {
		return a.Site < b.Site
	}
	return a.Clock < b.Clock
}
