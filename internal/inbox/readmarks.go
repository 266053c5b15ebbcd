package inbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ReadMarks stores, per user, when each conversation was last opened. The
// data is advisory and safe to lose.
type ReadMarks interface {
	Get(ctx context.Context, userID string) (map[string]time.Time, error)
	Set(ctx context.Context, userID, conversationID string, at time.Time) error
}

// storageKey mirrors the single key the web client kept in local storage.
func storageKey(userID string) string {
	return "chat_last_read:" + userID
}

// decodeMarks parses the stored map of conversation id to RFC 3339 time.
// Entries that do not parse are dropped; a corrupt blob yields an empty map.
func decodeMarks(raw []byte) map[string]time.Time {
	out := map[string]time.Time{}
	if len(raw) == 0 {
		return out
	}
	var stored map[string]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		return out
	}
	for id, ts := range stored {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			continue
		}
		out[id] = t
	}
	return out
}

func encodeMarks(marks map[string]time.Time) ([]byte, error) {
	stored := make(map[string]string, len(marks))
	for id, t := range marks {
		stored[id] = t.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(stored)
}

// MemoryStore keeps read marks in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeMarks(s.blobs[storageKey(userID)]), nil
}

func (s *MemoryStore) Set(_ context.Context, userID, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storageKey(userID)
	marks := decodeMarks(s.blobs[key])
	marks[conversationID] = at
	raw, err := encodeMarks(marks)
	if err != nil {
		return err
	}
	s.blobs[key] = raw
	return nil
}
