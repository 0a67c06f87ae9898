package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("docstore: document not found")
	ErrVersionConflict = errors.New("docstore: version conflict")
)

// Fields is a set of top-level field values to write. Values must be JSON
// encodable.
type Fields map[string]any

// Document is one committed version of a keyed document. A Document with
// Version 0 is the snapshot of an absent document.
type Document struct {
	Collection string                     `json:"collection"`
	Key        string                     `json:"key"`
	Version    int64                      `json:"version"`
	Fields     map[string]json.RawMessage `json:"fields"`
}

func (d *Document) Exists() bool {
	return d != nil && d.Version > 0
}

// Decode unmarshals one field into v. It reports false when the field is
// absent and leaves v untouched.
func (d *Document) Decode(field string, v any) (bool, error) {
	if d == nil || d.Fields == nil {
		return false, nil
	}
	raw, ok := d.Fields[field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s/%s.%s: %w", d.Collection, d.Key, field, err)
	}
	return true, nil
}

func (d *Document) clone() *Document {
	out := &Document{
		Collection: d.Collection,
		Key:        d.Key,
		Version:    d.Version,
		Fields:     make(map[string]json.RawMessage, len(d.Fields)),
	}
	for k, v := range d.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (d *Document) merge(fields Fields) error {
	for name, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", name, err)
		}
		d.Fields[name] = raw
	}
	return nil
}

func (d *Document) appendTo(field string, value any) error {
	var items []json.RawMessage
	if _, err := d.Decode(field, &items); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode array item for %s: %w", field, err)
	}
	items = append(items, raw)
	enc, err := json.Marshal(items)
	if err != nil {
		return err
	}
	d.Fields[field] = enc
	return nil
}

func emptyDocument(collection, key string) *Document {
	return &Document{Collection: collection, Key: key, Fields: map[string]json.RawMessage{}}
}

// body is the stored form of a document's fields.
func (d *Document) body() ([]byte, error) {
	return json.Marshal(d.Fields)
}

func decodeBody(collection, key string, version int64, body []byte) (*Document, error) {
	doc := emptyDocument(collection, key)
	doc.Version = version
	if len(body) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc.Fields); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	if doc.Fields == nil {
		doc.Fields = map[string]json.RawMessage{}
	}
	return doc, nil
}
