package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"unifiedavail/internal/engine"
)

// LoadIgnored reads a persisted ignore set. A missing file yields an empty
// set.
func LoadIgnored(path string) (engine.IgnoreSet, error) {
	set := make(engine.IgnoreSet)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return nil, err
	}
	var ids []engine.PairID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse ignore state: %w", err)
	}
	for _, id := range ids {
		set.Add(id)
	}
	return set, nil
}

// SaveIgnored writes the ignore set as a sorted JSON array of pairs.
func SaveIgnored(path string, set engine.IgnoreSet) error {
	ids := set.IDs()
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Low != ids[j].Low {
			return ids[i].Low < ids[j].Low
		}
		return ids[i].High < ids[j].High
	})
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ignore state: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
