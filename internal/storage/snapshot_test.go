package storage

import (
	"encoding/json"
	"testing"
)

func TestSnapshotEntryRoundTrip(t *testing.T) {
	entries := []snapshotEntry{
		{Key: "a", Value: []byte("hello")},
		{Key: "b", Value: []byte{0, 1, 2, 255}},
	}

	body, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded []snapshotEntry
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if len(decoded) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(decoded))
	}
	for i, e := range entries {
		if decoded[i].Key != e.Key {
			t.Errorf("entry %d: expected key %q, got %q", i, e.Key, decoded[i].Key)
		}
		if string(decoded[i].Value) != string(e.Value) {
			t.Errorf("entry %d: expected value %v, got %v", i, e.Value, decoded[i].Value)
		}
	}
}

func TestSnapshotKeyNaming(t *testing.T) {
	if got, want := snapshotKey(3), "shards/3/snapshot.json"; got != want {
		t.Errorf("snapshotKey(3) = %q, want %q", got, want)
	}
}
