package document

import "github.com/lucilliform/lucilliform/pkg/pool"

// docPool backs every Document allocation. A Document's fields map is kept
// alive across a Get/Put cycle rather than reallocated, the same pattern
// pkg/pool's MapPool uses for plain maps.
var docPool = pool.New(
	func() *Document { return &Document{fields: make(map[string][]Value, 8)} },
	func(d *Document) {
		d.id = ""
		d.runID = ""
		d.runIDSet = false
		for k := range d.fields {
			delete(d.fields, k)
		}
		d.errs = d.errs[:0]
		d.children = d.children[:0]
	},
)

// Release returns d, and recursively its children, to the pool. Callers must
// hold the last reference: neither d nor any of its children may be touched,
// directly or through an in-flight message, after Release returns. The
// Indexer calls this once a document's terminal event has been sent and its
// batch's offsets committed.
//
// Release is idempotent per Document: a child that is both nested under a
// released parent and passed to Release independently (an AddChild'd
// document that also fans out as its own batch entry) is only ever Put into
// the pool once. The second call is a no-op.
func Release(d *Document) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	children := append([]*Document(nil), d.children...)
	d.mu.Unlock()

	docPool.Put(d)
	for _, c := range children {
		Release(c)
	}
}
