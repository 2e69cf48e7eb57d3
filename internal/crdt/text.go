package crdt

import (
	"sort"
	"strings"
)

// ItemID identifies a single inserted character across all replicas.
type ItemID struct {
	Site  string `cbor:"s"`
	Clock uint64 `cbor:"c"`
}

// Item is one character of a shared text container. Deleted items remain as
// tombstones so that concurrent edits around them still order correctly.
type Item struct {
	ID      ItemID   `cbor:"i"`
	Pos     Position `cbor:"p"`
	Value   rune     `cbor:"v"`
	Deleted bool     `cbor:"x,omitempty"`
}

// Update is the unit of replication: a batch of inserted items plus ids
// tombstoned by the same local mutation. Merging updates in any order, any
// number of times, converges every replica to the same content.
type Update struct {
	Container  string   `cbor:"n"`
	Items      []Item   `cbor:"a,omitempty"`
	Tombstones []ItemID `cbor:"t,omitempty"`
}

// Empty reports whether the update carries no operations.
func (u Update) Empty() bool {
	return len(u.Items) == 0 && len(u.Tombstones) == 0
}

// Text is a shared text container inside a Document. All methods are
// serialized by the owning document's lock.
type Text struct {
	doc   *Document
	name  string
	items []*Item
	byID  map[ItemID]*Item
	// pending holds tombstones that arrived before their items. When the
	// item shows up it is inserted already deleted, keeping merge
	// order-independent.
	pending map[ItemID]struct{}
}

func newText(doc *Document, name string) *Text {
	return &Text{
		doc:     doc,
		name:    name,
		byID:    make(map[ItemID]*Item),
		pending: make(map[ItemID]struct{}),
	}
}

// Name returns the container name.
func (t *Text) Name() string { return t.name }

// String returns the visible content of the container.
func (t *Text) String() string {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	var b strings.Builder
	for _, it := range t.items {
		if !it.Deleted {
			b.WriteRune(it.Value)
		}
	}
	return b.String()
}

// Len returns the number of visible characters.
func (t *Text) Len() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return t.visibleLen()
}

func (t *Text) visibleLen() int {
	n := 0
	for _, it := range t.items {
		if !it.Deleted {
			n++
		}
	}
	return n
}

// Insert places s at the given visible index and returns the resulting
// update. Indexes beyond the end clamp to an append.
func (t *Text) Insert(index int, s string) Update {
	t.doc.mu.Lock()
	update := t.insertLocked(index, s)
	t.doc.mu.Unlock()
	t.doc.emit(update)
	return update
}

func (t *Text) insertLocked(index int, s string) Update {
	runes := []rune(s)
	update := Update{Container: t.name}
	if len(runes) == 0 {
		return update
	}

	left, right := t.bounds(index)
	prev := left
	for _, r := range runes {
		pos := positionBetween(prev, right, t.doc.site)
		it := &Item{ID: t.doc.nextID(), Pos: pos, Value: r}
		t.place(it)
		update.Items = append(update.Items, *it)
		prev = pos
	}
	return update
}

// Delete tombstones n visible characters starting at index and returns the
// resulting update. Ranges past the end are truncated.
func (t *Text) Delete(index, n int) Update {
	t.doc.mu.Lock()
	update := Update{Container: t.name}
	seen := 0
	for _, it := range t.items {
		if it.Deleted {
			continue
		}
		if seen >= index && seen < index+n {
			it.Deleted = true
			update.Tombstones = append(update.Tombstones, it.ID)
		}
		seen++
		if seen >= index+n {
			break
		}
	}
	t.doc.mu.Unlock()
	t.doc.emit(update)
	return update
}

// bounds returns the positions of the visible neighbors around index.
func (t *Text) bounds(index int) (left, right Position) {
	if index < 0 {
		index = 0
	}
	seen := 0
	for _, it := range t.items {
		if it.Deleted {
			continue
		}
		if seen == index {
			right = it.Pos
			return left, right
		}
		left = it.Pos
		seen++
	}
	return left, nil
}

// place inserts an item at its ordered slot. Callers guarantee the id is not
// already present.
func (t *Text) place(it *Item) {
	at := sort.Search(len(t.items), func(i int) bool {
		return comparePositions(t.items[i].Pos, it.Pos) > 0
	})
	t.items = append(t.items, nil)
	copy(t.items[at+1:], t.items[at:])
	t.items[at] = it
	t.byID[it.ID] = it
}

// merge applies a remote update. Known items are skipped, tombstones always
// win, and tombstones for unseen items are parked until the item arrives.
func (t *Text) merge(u Update) {
	for i := range u.Items {
		incoming := u.Items[i]
		if existing, ok := t.byID[incoming.ID]; ok {
			if incoming.Deleted {
				existing.Deleted = true
			}
			continue
		}
		it := incoming
		it.Pos = append(Position(nil), incoming.Pos...)
		if _, dead := t.pending[it.ID]; dead {
			it.Deleted = true
			delete(t.pending, it.ID)
		}
		t.place(&it)
	}
	for _, id := range u.Tombstones {
		if it, ok := t.byID[id]; ok {
			it.Deleted = true
			continue
		}
		t.pending[id] = struct{}{}
	}
}

// state captures the container's full replicated state as a single update.
func (t *Text) state() Update {
	u := Update{Container: t.name}
	for _, it := range t.items {
		u.Items = append(u.Items, *it)
	}
	for id := range t.pending {
		u.Tombstones = append(u.Tombstones, id)
	}
	return u
}
