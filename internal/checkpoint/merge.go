package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// Merge applies a delta to a state. Both must be JSON objects; keys in delta
// replace keys in state and a null value deletes the key. An empty state or
// delta counts as {}.
func Merge(state, delta json.RawMessage) (json.RawMessage, error) {
	base := map[string]json.RawMessage{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &base); err != nil {
			return nil, fmt.Errorf("state is not a JSON object: %w", err)
		}
		if base == nil {
			base = map[string]json.RawMessage{}
		}
	}
	if len(delta) > 0 {
		var upd map[string]json.RawMessage
		if err := json.Unmarshal(delta, &upd); err != nil {
			return nil, fmt.Errorf("delta is not a JSON object: %w", err)
		}
		for k, v := range upd {
			if string(v) == "null" {
				delete(base, k)
				continue
			}
			base[k] = v
		}
	}
	return json.Marshal(base)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
