package indexer

import "github.com/lucilliform/lucilliform/pkg/document"

// action is what a document's latest classification in the current batch
// resolves to.
type action int

const (
	actionUpsert action = iota
	actionDeleteByID
	actionDeleteByQuery
)

// classified is one document's resolved action, plus whatever fields the
// action needs downstream.
type classified struct {
	doc          *document.Document
	action       action
	deleteField  string
	deleteValue  string
}

// classify resolves a single document's action per configuration: a
// document is a deletion when deletionMarkerField carries
// deletionMarkerValue; a deletion additionally carrying a non-empty
// deleteByFieldField is a delete-by-query, otherwise a delete-by-id.
// Everything else is an upsert.
func (ix *Indexer) classify(doc *document.Document) classified {
	if ix.cfg.DeletionMarkerField != "" {
		if v, ok := doc.GetFirst(ix.cfg.DeletionMarkerField); ok {
			if valueMatches(v, ix.cfg.DeletionMarkerFieldValue) {
				if ix.cfg.DeleteByFieldField != "" {
					if fv, ok := doc.GetFirst(ix.cfg.DeleteByFieldField); ok {
						return classified{
							doc:         doc,
							action:      actionDeleteByQuery,
							deleteField: ix.cfg.DeleteByFieldField,
							deleteValue: rawString(fv),
						}
					}
				}
				return classified{doc: doc, action: actionDeleteByID}
			}
		}
	}
	return classified{doc: doc, action: actionUpsert}
}

func valueMatches(v document.Value, want string) bool {
	return rawString(v) == want
}

func rawString(v document.Value) string {
	switch v.Kind {
	case document.KindString:
		return v.Str
	case document.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// latestWins collapses a batch of classified documents to one entry per
// document id, keeping only the last-seen classification for each id. The
// result preserves first-occurrence order of each surviving id, so a
// deterministic per-id ordering feeds the bucket split even though the
// winning classification may have arrived later in the batch.
func latestWins(batch []classified) []classified {
	index := make(map[string]int, len(batch))
	out := make([]classified, 0, len(batch))
	for _, c := range batch {
		if i, ok := index[c.doc.ID()]; ok {
			out[i] = c
			continue
		}
		index[c.doc.ID()] = len(out)
		out = append(out, c)
	}
	return out
}
