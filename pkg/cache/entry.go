package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// recordExt is the file extension of disk records.
const recordExt = ".json"

// Entry is the on-disk envelope of a cached payload.
type Entry struct {
	// Key is the fingerprint string the payload was stored under
	Key string `json:"key"`

	// Payload is the raw response dictionary
	Payload Payload `json:"payload"`

	// CachedAt is when the record was written
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was written.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

func encodeEntry(key string, payload Payload) ([]byte, error) {
	data, err := json.Marshal(&Entry{
		Key:      key,
		Payload:  payload,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

// decodeEntry parses a record and checks that it belongs to key.
func decodeEntry(key string, data []byte) (*Entry, error) {
	var entry Entry
	if err := decodeJSON(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if entry.Key != key {
		return nil, fmt.Errorf("%w: record key %q does not match %q", ErrCorruptEntry, entry.Key, key)
	}
	if entry.Payload == nil {
		return nil, fmt.Errorf("%w: record has no payload", ErrCorruptEntry)
	}
	return &entry, nil
}
