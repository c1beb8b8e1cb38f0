package connector

import (
	"fmt"

	"github.com/lucilliform/lucilliform/pkg/document"
)

// DocumentFromRecord builds a Document with the given id from a flat record
// of field name to scalar or slice values. Unlike document.Document's wire
// UnmarshalJSON, which expects the framework's reserved-field wire format,
// this populates an arbitrary external record's fields directly, since
// connectors ingest data that was never itself a Document. Record keys that
// collide with a reserved field name (id, run_id, children, errors) are
// skipped; the Document's id always comes from the id argument.
func DocumentFromRecord(id string, record map[string]interface{}) (*document.Document, error) {
	doc, err := document.New(id)
	if err != nil {
		return nil, err
	}
	for name, v := range record {
		if name == document.FieldID || name == document.FieldRunID || name == document.FieldChildren || name == document.FieldErrors {
			continue
		}
		if arr, ok := v.([]interface{}); ok {
			for _, item := range arr {
				if err := doc.SetOrAdd(name, scalarValue(item)); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := doc.Set(name, scalarValue(v)); err != nil {
			return nil, fmt.Errorf("connector: failed to set field %q: %w", name, err)
		}
	}
	return doc, nil
}

// scalarValue converts a decoded JSON/CSV scalar into a document.Value.
func scalarValue(v interface{}) document.Value {
	switch t := v.(type) {
	case string:
		return document.String(t)
	case float64:
		return document.Float64(t)
	case int64:
		return document.Int64(t)
	case int:
		return document.Int64(int64(t))
	case bool:
		return document.Bool(t)
	case map[string]interface{}:
		return document.Node(t)
	case nil:
		return document.String("")
	default:
		return document.String(fmt.Sprintf("%v", t))
	}
}
