package kvdisk

import (
	"encoding/json"
	"fmt"
	"time"
)

// SetJSON stores v under key, serialized with [encoding/json].
func SetJSON(c *Cache, ttl time.Duration, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}

	return c.SetKey(key, data, ttl)
}

// GetJSON loads the value stored under key by [SetJSON].
//
// Returns found=false on a miss. A value that does not decode into T is an
// error, not a miss.
func GetJSON[T any](c *Cache, key string) (T, bool, error) {
	var out T

	data, ok, err := c.GetKey(key)
	if err != nil || !ok {
		return out, false, err
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("decoding %q: %w", key, err)
	}

	return out, true, nil
}
