package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// marshalItems converts component items to JSON TEXT.
// HTML escaping is disabled so ids round-trip byte for byte.
func marshalItems(items []ir.ComponentItem) (string, error) {
	if items == nil {
		items = []ir.ComponentItem{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalItems(data string) ([]ir.ComponentItem, error) {
	var items []ir.ComponentItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	return items, nil
}

// marshalState converts a migrated state to canonical JSON TEXT.
func marshalState(st ir.MigratedState) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal state %s: %w", st.Item, err)
	}
	generic, err := ir.DecodeValue(data)
	if err != nil {
		return "", fmt.Errorf("marshal state %s: %w", st.Item, err)
	}
	canonical, err := ir.MarshalCanonical(generic)
	if err != nil {
		return "", fmt.Errorf("marshal state %s: %w", st.Item, err)
	}
	return string(canonical), nil
}

func unmarshalState(data string) (ir.MigratedState, error) {
	var st ir.MigratedState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return ir.MigratedState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return st, nil
}
