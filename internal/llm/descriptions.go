package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// DecodeDescriptions reads the img_desc field of a prompt-generator response.
//
// An object is read in JavaScript Object.values order: integer-like keys in
// ascending numeric order first, then the remaining keys in insertion order.
// An array is read as-is. Non-string values are kept as their JSON text.
func DecodeDescriptions(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []string{}, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode img_desc array: %w", err)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, descriptionText(item))
		}
		return out, nil
	case '{':
		return decodeDescriptionObject(trimmed)
	default:
		return nil, fmt.Errorf("img_desc must be an object or array")
	}
}

type descEntry struct {
	key   string
	index uint32
	isInt bool
	value string
}

func decodeDescriptionObject(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode img_desc: %w", err)
	}

	var entries []descEntry
	position := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode img_desc key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode img_desc: unexpected key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode img_desc value: %w", err)
		}

		// 重复键：保留首次出现的位置，值取最后一次
		if idx, seen := position[key]; seen {
			entries[idx].value = descriptionText(value)
			continue
		}
		entry := descEntry{key: key, value: descriptionText(value)}
		entry.index, entry.isInt = arrayIndexKey(key)
		position[key] = len(entries)
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.isInt && b.isInt {
			return a.index < b.index
		}
		return a.isInt && !b.isInt
	})

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.value)
	}
	return out, nil
}

// arrayIndexKey reports whether key is a canonical array index (0 .. 2^32-2).
func arrayIndexKey(key string) (uint32, bool) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == 1<<32-1 {
		return 0, false
	}
	return uint32(n), true
}

func descriptionText(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(value))
}
