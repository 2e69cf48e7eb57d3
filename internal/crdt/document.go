// Package crdt implements the replicated document model used by the sync
// server: shared text containers with a commutative, associative and
// idempotent merge, plus the ephemeral awareness channel layered next to it.
package crdt

import (
	"sort"
	"sync"
)

// DefaultContainer is the shared text container that holds the document body.
const DefaultContainer = "content"

// Document is one replica of a collaborative document. It holds named shared
// text containers and emits updates for local mutations. Remote updates are
// folded in through Merge; merging is the only serialization point and is
// safe to call from any goroutine.
type Document struct {
	mu       sync.Mutex
	site     string
	clock    uint64
	texts    map[string]*Text
	onUpdate []func(Update)
}

// NewDocument constructs an empty document replica. The site id must be
// unique among replicas that ever exchange updates.
func NewDocument(site string) *Document {
	return &Document{
		site:  site,
		texts: make(map[string]*Text),
	}
}

// Site returns the replica's site id.
func (d *Document) Site() string { return d.site }

// OnUpdate registers a hook fired after each local mutation settles. Remote
// merges do not fire it.
func (d *Document) OnUpdate(fn func(Update)) {
	d.mu.Lock()
	d.onUpdate = append(d.onUpdate, fn)
	d.mu.Unlock()
}

// Text returns the named shared text container, creating it if needed.
func (d *Document) Text(name string) *Text {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked(name)
}

func (d *Document) textLocked(name string) *Text {
	t, ok := d.texts[name]
	if !ok {
		t = newText(d, name)
		d.texts[name] = t
	}
	return t
}

// Content returns the visible text of the default container.
func (d *Document) Content() string {
	return d.Text(DefaultContainer).String()
}

// Merge folds a remote update into the document. Applying the same update
// again, or a set of updates in any order, converges to the same content.
func (d *Document) Merge(u Update) {
	if u.Empty() {
		return
	}
	name := u.Container
	if name == "" {
		name = DefaultContainer
	}
	d.mu.Lock()
	d.textLocked(name).merge(u)
	d.mu.Unlock()
}

// State returns the document's full replicated state as one update per
// container, suitable for bringing an empty replica up to date.
func (d *Document) State() []Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.texts))
	for name := range d.texts {
		names = append(names, name)
	}
	sort.Strings(names)
	updates := make([]Update, 0, len(names))
	for _, name := range names {
		if u := d.texts[name].state(); !u.Empty() {
			updates = append(updates, u)
		}
	}
	return updates
}

func (d *Document) nextID() ItemID {
	d.clock++
	return ItemID{Site: d.site, Clock: d.clock}
}

func (d *Document) emit(u Update) {
	if u.Empty() {
		return
	}
	d.mu.Lock()
	hooks := append([]func(Update){}, d.onUpdate...)
	d.mu.Unlock()
	for _, fn := range hooks {
		fn(u)
	}
}
