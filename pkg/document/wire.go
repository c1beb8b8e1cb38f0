package document

import (
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/lucilliform/lucilliform/pkg/errors"
)

// MarshalJSON renders the document as a flat JSON object: reserved fields
// (id, run_id, children, errors) alongside user fields, single-valued
// fields as scalars and multi-valued fields as arrays.
func (d *Document) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]interface{}, len(d.fields)+4)
	out[FieldID] = d.id
	if d.runIDSet {
		out[FieldRunID] = d.runID
	}
	if len(d.errs) > 0 {
		out[FieldErrors] = d.errs
	}
	if len(d.children) > 0 {
		children := make([]interface{}, len(d.children))
		for i, c := range d.children {
			raw, err := c.MarshalJSON()
			if err != nil {
				return nil, err
			}
			var decoded interface{}
			if err := gojson.Unmarshal(raw, &decoded); err != nil {
				return nil, err
			}
			children[i] = decoded
		}
		out[FieldChildren] = children
	}

	for name, values := range d.fields {
		if len(values) == 1 {
			out[name] = values[0].Raw()
			continue
		}
		raws := make([]interface{}, len(values))
		for i, v := range values {
			raws[i] = v.Raw()
		}
		out[name] = raws
	}

	return gojson.Marshal(out)
}

// UnmarshalJSON populates d from the wire format produced by MarshalJSON.
// Scalars are inferred as string/float64/bool/node, except that strings
// parsing as RFC3339 timestamps become instants; callers needing int64
// precision should re-type fields explicitly after unmarshaling, the same
// lossy-JSON-number tradeoff every JSON decoder makes.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := gojson.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "decode document JSON")
	}

	id, _ := raw[FieldID].(string)
	if id == "" {
		return errors.New(errors.ContractViolation, "document JSON missing id")
	}

	d.mu.Lock()
	d.id = id
	d.fields = make(map[string][]Value, len(raw))
	d.mu.Unlock()

	if runID, ok := raw[FieldRunID].(string); ok && runID != "" {
		if err := d.SetRunID(runID); err != nil {
			return err
		}
	}

	if errsRaw, ok := raw[FieldErrors].([]interface{}); ok {
		for _, e := range errsRaw {
			if s, ok := e.(string); ok {
				d.AddError(s)
			}
		}
	}

	if childrenRaw, ok := raw[FieldChildren].([]interface{}); ok {
		for _, c := range childrenRaw {
			encoded, err := gojson.Marshal(c)
			if err != nil {
				return err
			}
			child := &Document{}
			if err := child.UnmarshalJSON(encoded); err != nil {
				return err
			}
			if err := d.AddChild(child); err != nil {
				return err
			}
		}
	}

	for name, v := range raw {
		if name == FieldID || name == FieldRunID || name == FieldErrors || name == FieldChildren {
			continue
		}
		if arr, ok := v.([]interface{}); ok {
			for _, item := range arr {
				if err := d.SetOrAdd(name, toValue(item)); err != nil {
					return err
				}
			}
			continue
		}
		if err := d.Set(name, toValue(v)); err != nil {
			return err
		}
	}

	return nil
}

func toValue(v interface{}) Value {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return Instant(parsed)
		}
		return String(t)
	case float64:
		return Float64(t)
	case bool:
		return Bool(t)
	case map[string]interface{}:
		return Node(t)
	default:
		return String("")
	}
}
