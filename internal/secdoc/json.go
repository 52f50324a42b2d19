package secdoc

import (
	"encoding/json"
	"fmt"
)

// Marshal serializes the index for the on-disk cache. The output is
// deterministic for a given index so cache contents are comparable
// byte-for-byte.
func Marshal(idx *Index) ([]byte, error) {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}
	return data, nil
}

// Unmarshal loads an index from its serialized form and rebuilds the
// key lookup. Load(serialize(x)) == x is required: this is the cache
// medium.
func Unmarshal(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("unmarshal index: %w", err)
	}
	idx.rebuild()
	return &idx, nil
}
