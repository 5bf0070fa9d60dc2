package store

import (
	"encoding/json"
	"fmt"

	"github.com/dukerupert/larder/internal/model"
	"github.com/shopspring/decimal"
)

// Names of the persisted documents.
const (
	KeyEntries   = "entries"
	KeyUsage     = "usage"
	KeyRemaining = "remaining"
)

// AllKeys lists every document the ledger engine owns.
var AllKeys = []string{KeyEntries, KeyUsage, KeyRemaining}

// Documents is a whole-document key/value store. Get returns (nil, nil) for
// a key that was never written. PutAll writes every document or none.
type Documents interface {
	Get(key string) ([]byte, error)
	Put(key string, doc []byte) error
	PutAll(docs map[string][]byte) error
	Snapshot(keys ...string) (Snapshot, error)
}

// Snapshot is a set of documents read at one store revision.
type Snapshot struct {
	Revision int64
	Docs     map[string][]byte
}

// --- Codecs ---

func DecodeEntries(raw []byte) ([]model.GroceryEntry, error) {
	var entries []model.GroceryEntry
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}

func EncodeEntries(entries []model.GroceryEntry) ([]byte, error) {
	if entries == nil {
		entries = []model.GroceryEntry{}
	}
	return json.Marshal(entries)
}

func DecodeUsage(raw []byte) (map[string]model.UsageRecord, error) {
	usage := make(map[string]model.UsageRecord)
	if len(raw) == 0 {
		return usage, nil
	}
	if err := json.Unmarshal(raw, &usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return usage, nil
}

func EncodeUsage(usage map[string]model.UsageRecord) ([]byte, error) {
	if usage == nil {
		usage = map[string]model.UsageRecord{}
	}
	return json.Marshal(usage)
}

func DecodeRemaining(raw []byte) (map[string]decimal.Decimal, error) {
	remaining := make(map[string]decimal.Decimal)
	if len(raw) == 0 {
		return remaining, nil
	}
	if err := json.Unmarshal(raw, &remaining); err != nil {
		return nil, fmt.Errorf("decode remaining: %w", err)
	}
	return remaining, nil
}

func EncodeRemaining(remaining map[string]decimal.Decimal) ([]byte, error) {
	if remaining == nil {
		remaining = map[string]decimal.Decimal{}
	}
	return json.Marshal(remaining)
}
