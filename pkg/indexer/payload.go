package indexer

import (
	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/document"
)

// buildUpsertItem resolves a document into the backend-ready UpsertItem:
// idOverrideField replaces the backend id, falling back to doc.ID() if the
// override field is absent or empty; routingField supplies routing; and
// children are flattened one level deep into the payload as a "children"
// array of plain maps rather than kept as a nested Document structure the
// backend wouldn't understand.
func (ix *Indexer) buildUpsertItem(doc *document.Document) UpsertItem {
	id := doc.ID()
	if ix.cfg.IDOverrideField != "" {
		if v, ok := doc.GetFirst(ix.cfg.IDOverrideField); ok {
			if s := rawString(v); s != "" {
				id = s
			}
		}
	}

	var routing string
	if ix.cfg.RoutingField != "" {
		if v, ok := doc.GetFirst(ix.cfg.RoutingField); ok {
			routing = rawString(v)
		}
	}

	return UpsertItem{
		ID:      id,
		Routing: routing,
		Version: ix.resolveVersion(doc),
		Payload: ix.buildPayload(doc),
	}
}

// buildPayload renders a document's fields (minus ignoreFields) into a plain
// JSON-shaped map, inlining children as an array of maps under "children".
// id is always present in the indexed payload unless the implementer opts
// out by both ignoring it explicitly and setting allowIgnoreID (§9 open
// question (a)); run_id and errors stay framework-internal and are never
// part of the payload.
func (ix *Indexer) buildPayload(doc *document.Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc.FieldNames())+1)

	ignored := make(map[string]bool, len(ix.cfg.IgnoreFields))
	for _, f := range ix.cfg.IgnoreFields {
		ignored[f] = true
	}

	if !ignored[document.FieldID] || !ix.cfg.AllowIgnoreID {
		out[document.FieldID] = doc.ID()
	}

	for _, name := range doc.FieldNames() {
		if ignored[name] {
			continue
		}
		values := doc.Get(name)
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			out[name] = values[0].Raw()
			continue
		}
		raw := make([]interface{}, len(values))
		for i, v := range values {
			raw[i] = v.Raw()
		}
		out[name] = raw
	}

	children := doc.Children()
	if len(children) > 0 {
		flat := make([]interface{}, len(children))
		for i, c := range children {
			flat[i] = ix.buildPayload(c)
		}
		out["children"] = flat
	}

	return out
}

// resolveVersion reflects the configured versioning strategy. Internal
// versioning leaves version management to the backend (0 means "unset").
// External and ExternalGte use the Indexer's monotonic counter, advanced
// once per upserted document, as the external version source, since no broker offset is visible
// on a Document once it reaches the Indexer.
func (ix *Indexer) resolveVersion(doc *document.Document) int64 {
	switch ix.cfg.VersionType {
	case config.VersionExternal, config.VersionExternalGte:
		return ix.nextVersion()
	default:
		return 0
	}
}
