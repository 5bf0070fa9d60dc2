// Package ledger owns the ordered list of grocery purchase entries.
package ledger

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/larder/internal/event"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// EntryInput carries the caller-editable fields of an entry.
type EntryInput struct {
	Name     string
	Unit     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Date     string
}

// Ledger is the Entry Ledger. Every mutation rewrites the whole entries
// document before returning.
type Ledger struct {
	mu     sync.Mutex
	docs   store.Documents
	events event.Publisher
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

func New(docs store.Documents, events event.Publisher, logger *slog.Logger) *Ledger {
	if events == nil {
		events = event.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		docs:   docs,
		events: events,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Amount returns quantity*price rounded to two decimal places.
func Amount(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Round(2)
}

func (l *Ledger) Add(in EntryInput) (model.GroceryEntry, error) {
	in, err := validate(in)
	if err != nil {
		return model.GroceryEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return model.GroceryEntry{}, err
	}

	entry := l.build(l.newID(), in)
	entries = append(entries, entry)
	if err := l.save(entries); err != nil {
		return model.GroceryEntry{}, err
	}

	l.logger.Info("entry added", "id", entry.ID, "name", entry.Name, "amount", entry.Amount.StringFixed(2))
	l.events.Publish(event.Change{Entity: event.EntityEntry, Action: event.ActionCreated, Key: entry.ID})
	return entry, nil
}

func (l *Ledger) Update(id string, in EntryInput) (model.GroceryEntry, error) {
	in, err := validate(in)
	if err != nil {
		return model.GroceryEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return model.GroceryEntry{}, err
	}

	i := indexOf(entries, id)
	if i < 0 {
		return model.GroceryEntry{}, &NotFoundError{Kind: "entry", Key: id}
	}

	entry := l.build(id, in)
	entries[i] = entry
	if err := l.save(entries); err != nil {
		return model.GroceryEntry{}, err
	}

	l.logger.Info("entry updated", "id", id, "name", entry.Name)
	l.events.Publish(event.Change{Entity: event.EntityEntry, Action: event.ActionUpdated, Key: id})
	return entry, nil
}

func (l *Ledger) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}

	i := indexOf(entries, id)
	if i < 0 {
		return &NotFoundError{Kind: "entry", Key: id}
	}

	entries = append(entries[:i], entries[i+1:]...)
	if err := l.save(entries); err != nil {
		return err
	}

	l.logger.Info("entry deleted", "id", id)
	l.events.Publish(event.Change{Entity: event.EntityEntry, Action: event.ActionDeleted, Key: id})
	return nil
}

// Get returns the entry with the given id.
func (l *Ledger) Get(id string) (model.GroceryEntry, error) {
	entries, err := l.List()
	if err != nil {
		return model.GroceryEntry{}, err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return model.GroceryEntry{}, &NotFoundError{Kind: "entry", Key: id}
	}
	return entries[i], nil
}

// List returns the entries in insertion order. The slice is the caller's.
func (l *Ledger) List() ([]model.GroceryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Subtotal sums every entry amount.
func (l *Ledger) Subtotal() (decimal.Decimal, error) {
	entries, err := l.List()
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total.Round(2), nil
}

func (l *Ledger) build(id string, in EntryInput) model.GroceryEntry {
	date := in.Date
	if date == "" {
		date = l.now().Format(dateLayout)
	}
	return model.GroceryEntry{
		ID:       id,
		Name:     in.Name,
		Unit:     in.Unit,
		Quantity: in.Quantity,
		Price:    in.Price,
		Amount:   Amount(in.Quantity, in.Price),
		Date:     date,
	}
}

func (l *Ledger) load() ([]model.GroceryEntry, error) {
	raw, err := l.docs.Get(store.KeyEntries)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Key: store.KeyEntries, Err: err}
	}
	entries, err := store.DecodeEntries(raw)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Key: store.KeyEntries, Err: err}
	}
	return entries, nil
}

func (l *Ledger) save(entries []model.GroceryEntry) error {
	raw, err := store.EncodeEntries(entries)
	if err != nil {
		return &PersistenceError{Op: "write", Key: store.KeyEntries, Err: err}
	}
	if err := l.docs.Put(store.KeyEntries, raw); err != nil {
		l.logger.Error("persist entries", "error", err)
		return &PersistenceError{Op: "write", Key: store.KeyEntries, Err: err}
	}
	return nil
}

func validate(in EntryInput) (EntryInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Unit = strings.TrimSpace(in.Unit)
	in.Date = strings.TrimSpace(in.Date)

	if in.Name == "" {
		return in, &ValidationError{Field: "name", Reason: "is required"}
	}
	if !in.Quantity.IsPositive() {
		return in, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if !in.Price.IsPositive() {
		return in, &ValidationError{Field: "price", Reason: "must be greater than zero"}
	}
	return in, nil
}

func indexOf(entries []model.GroceryEntry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
