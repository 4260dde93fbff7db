package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingID is returned when an entry or stub carries no usable id.
var ErrMissingID = errors.New("entry id is missing")

// Entry is a single journal record. Values are JSON-compatible and already normalized
// (see Normalize), so numbers are int64 or float64 rather than json.Number.
type Entry map[string]any

// ID returns the entry's id field.
func (e Entry) ID() (any, error) {
	id, ok := e["id"]
	if !ok || id == nil {
		return nil, ErrMissingID
	}
	if s, isString := id.(string); isString && s == "" {
		return nil, ErrMissingID
	}
	return id, nil
}

// Stub is one element of a listing page. Only the nested entry id is guaranteed.
type Stub struct {
	Entry Entry `json:"entry"`
}

// Page is the listing endpoint payload.
type Page struct {
	Entries []Stub `json:"entries"`
}

// Envelope is the detail endpoint payload.
type Envelope struct {
	Entry Entry `json:"entry"`
}

// DecodePage parses a listing response body. A missing "entries" field yields an empty page.
func DecodePage(body []byte) (Page, error) {
	var page Page
	if err := decode(body, &page); err != nil {
		return Page{}, fmt.Errorf("decode page: %w", err)
	}
	for i := range page.Entries {
		page.Entries[i].Entry = normalizeEntry(page.Entries[i].Entry)
	}
	return page, nil
}

// DecodeEntry parses a detail response body and unwraps the "entry" envelope.
func DecodeEntry(body []byte) (Entry, error) {
	var env Envelope
	if err := decode(body, &env); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if env.Entry == nil {
		return nil, fmt.Errorf("decode entry: %w", errMissingEnvelope)
	}
	entry := normalizeEntry(env.Entry)
	if _, err := entry.ID(); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}

var errMissingEnvelope = errors.New(`response has no "entry" object`)

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err //nolint:wrapcheck // callers add context
	}
	return nil
}

func normalizeEntry(e Entry) Entry {
	if e == nil {
		return nil
	}
	out, _ := Normalize(map[string]any(e)).(map[string]any)
	return Entry(out)
}

// Normalize converts json.Number values (recursively) into int64 when integral and float64
// otherwise, so stores encode ids and counters as numbers rather than strings. Integers
// outside the int64 range keep their exact decimal text.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if !strings.ContainsAny(t.String(), ".eE") {
			return t.String()
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case Entry:
		return Normalize(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}

// FormatID renders an id for use in URLs, blob paths, and string-keyed stores.
func FormatID(id any) string {
	switch t := id.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
