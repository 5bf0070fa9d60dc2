// Package usage records daily consumption per item and keeps remaining
// stock in step with it.
//
// Usage is tracked in absolute mode: the 31 daily slots of an item always
// hold the complete usage to date, and a commit derives remaining stock as
// total purchased minus the sum of the slots. Committing the same days twice
// gives the same result.
package usage

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/dukerupert/larder/internal/event"
	"github.com/dukerupert/larder/internal/ledger"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
	"github.com/shopspring/decimal"
)

// EntrySource supplies the purchase entries usage is measured against.
type EntrySource interface {
	List() ([]model.GroceryEntry, error)
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	Name          string          `json:"name"`
	Days          model.Days      `json:"days"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalUsed     decimal.Decimal `json:"total_used"`
	Remaining     decimal.Decimal `json:"remaining"`
}

// ItemStatus is one row of the usage sheet.
type ItemStatus struct {
	model.ItemAggregate
	Days      model.Days      `json:"days"`
	TotalUsed decimal.Decimal `json:"total_used"`
	UsedValue decimal.Decimal `json:"used_value"`
	Remaining decimal.Decimal `json:"remaining"`
	Pending   bool            `json:"pending"`
}

type Accumulator struct {
	mu      sync.Mutex
	docs    store.Documents
	entries EntrySource
	events  event.Publisher
	logger  *slog.Logger

	// drafts hold days edited since the last commit, per item.
	drafts map[string]*model.Days
}

func New(docs store.Documents, entries EntrySource, events event.Publisher, logger *slog.Logger) *Accumulator {
	if events == nil {
		events = event.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		docs:    docs,
		entries: entries,
		events:  events,
		logger:  logger,
		drafts:  make(map[string]*model.Days),
	}
}

// ParseUsage converts a usage cell to a quantity. A blank cell is zero.
func ParseUsage(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: "value", Reason: "must be a number"}
	}
	if v.IsNegative() {
		return decimal.Zero, &ledger.ValidationError{Field: "value", Reason: "must not be negative"}
	}
	return v, nil
}

// SetDailyUsage stores value for day (1-31) in the item's draft. Nothing is
// persisted or checked against stock until Commit.
func (a *Accumulator) SetDailyUsage(name string, day int, value decimal.Decimal) error {
	if strings.TrimSpace(name) == "" {
		return &ledger.ValidationError{Field: "name", Reason: "is required"}
	}
	if day < 1 || day > model.DaysInCycle {
		return &ledger.ValidationError{Field: "day", Reason: "must be between 1 and 31"}
	}
	if value.IsNegative() {
		return &ledger.ValidationError{Field: "value", Reason: "must not be negative"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	draft, ok := a.drafts[name]
	if !ok {
		usage, err := a.loadUsage()
		if err != nil {
			return err
		}
		days := usage[name].Days
		draft = &days
		a.drafts[name] = draft
	}
	draft[day-1] = value
	return nil
}

// Days returns the item's draft if it has one, else its committed days.
func (a *Accumulator) Days(name string) (model.Days, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if draft, ok := a.drafts[name]; ok {
		return *draft, nil
	}
	usage, err := a.loadUsage()
	if err != nil {
		return model.Days{}, err
	}
	return usage[name].Days, nil
}

// Discard drops uncommitted edits for the item.
func (a *Accumulator) Discard(name string) {
	a.mu.Lock()
	delete(a.drafts, name)
	a.mu.Unlock()
}

// Commit validates the item's days against its purchased total and, if they
// fit, persists the days and the new remaining quantity together. On any
// error nothing is written and the draft is kept for correction.
func (a *Accumulator) Commit(name string) (CommitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	agg, err := a.aggregate(name)
	if err != nil {
		return CommitResult{}, err
	}

	snap, err := a.docs.Snapshot(store.KeyUsage, store.KeyRemaining)
	if err != nil {
		return CommitResult{}, &ledger.PersistenceError{Op: "read", Key: store.KeyUsage, Err: err}
	}
	usage, err := store.DecodeUsage(snap.Docs[store.KeyUsage])
	if err != nil {
		return CommitResult{}, &ledger.PersistenceError{Op: "read", Key: store.KeyUsage, Err: err}
	}
	remaining, err := store.DecodeRemaining(snap.Docs[store.KeyRemaining])
	if err != nil {
		return CommitResult{}, &ledger.PersistenceError{Op: "read", Key: store.KeyRemaining, Err: err}
	}

	days := usage[name].Days
	if draft, ok := a.drafts[name]; ok {
		days = *draft
	}

	used := days.Total()
	if used.GreaterThan(agg.TotalQuantity) {
		a.logger.Warn("usage exceeds purchased quantity", "name", name, "used", used.String(), "total", agg.TotalQuantity.String())
		return CommitResult{}, &ledger.CapacityExceededError{Item: name, Requested: used, Available: agg.TotalQuantity}
	}

	previous := ledger.ResolveRemaining(remaining, name, agg.TotalQuantity)
	left := agg.TotalQuantity.Sub(used)
	usage[name] = model.UsageRecord{Days: days}
	remaining[name] = left

	usageRaw, err := store.EncodeUsage(usage)
	if err != nil {
		return CommitResult{}, &ledger.PersistenceError{Op: "write", Key: store.KeyUsage, Err: err}
	}
	remainingRaw, err := store.EncodeRemaining(remaining)
	if err != nil {
		return CommitResult{}, &ledger.PersistenceError{Op: "write", Key: store.KeyRemaining, Err: err}
	}
	if err := a.docs.PutAll(map[string][]byte{
		store.KeyUsage:     usageRaw,
		store.KeyRemaining: remainingRaw,
	}); err != nil {
		a.logger.Error("persist usage", "name", name, "error", err)
		return CommitResult{}, &ledger.PersistenceError{Op: "write", Key: store.KeyUsage, Err: err}
	}

	delete(a.drafts, name)
	a.logger.Info("usage committed", "name", name, "used", used.String(), "remaining", left.String(), "previous_remaining", previous.String())
	a.events.Publish(event.Change{Entity: event.EntityUsage, Action: event.ActionCommitted, Key: name})

	return CommitResult{
		Name:          name,
		Days:          days,
		TotalQuantity: agg.TotalQuantity,
		TotalUsed:     used,
		Remaining:     left,
	}, nil
}

// Remaining returns the committed remaining quantity of the item, or its
// purchased total if usage was never committed.
func (a *Accumulator) Remaining(name string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	agg, err := a.aggregate(name)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := a.docs.Get(store.KeyRemaining)
	if err != nil {
		return decimal.Zero, &ledger.PersistenceError{Op: "read", Key: store.KeyRemaining, Err: err}
	}
	remaining, err := store.DecodeRemaining(raw)
	if err != nil {
		return decimal.Zero, &ledger.PersistenceError{Op: "read", Key: store.KeyRemaining, Err: err}
	}
	return ledger.ResolveRemaining(remaining, name, agg.TotalQuantity), nil
}

// Items lists every purchased item with its current days and stock.
func (a *Accumulator) Items() ([]ItemStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.entries.List()
	if err != nil {
		return nil, err
	}
	groups := ledger.GroupByItem(entries)

	snap, err := a.docs.Snapshot(store.KeyUsage, store.KeyRemaining)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "read", Key: store.KeyUsage, Err: err}
	}
	usage, err := store.DecodeUsage(snap.Docs[store.KeyUsage])
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "read", Key: store.KeyUsage, Err: err}
	}
	remaining, err := store.DecodeRemaining(snap.Docs[store.KeyRemaining])
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "read", Key: store.KeyRemaining, Err: err}
	}

	items := make([]ItemStatus, 0, groups.Len())
	for _, agg := range groups.Items {
		days := usage[agg.Name].Days
		draft, pending := a.drafts[agg.Name]
		if pending {
			days = *draft
		}
		used := days.Total()
		items = append(items, ItemStatus{
			ItemAggregate: agg,
			Days:          days,
			TotalUsed:     used,
			UsedValue:     used.Mul(agg.UnitPrice).Round(2),
			Remaining:     ledger.ResolveRemaining(remaining, agg.Name, agg.TotalQuantity),
			Pending:       pending,
		})
	}
	return items, nil
}

func (a *Accumulator) aggregate(name string) (model.ItemAggregate, error) {
	entries, err := a.entries.List()
	if err != nil {
		return model.ItemAggregate{}, err
	}
	agg, ok := ledger.GroupByItem(entries).Get(name)
	if !ok {
		return model.ItemAggregate{}, &ledger.NotFoundError{Kind: "item", Key: name}
	}
	return agg, nil
}

func (a *Accumulator) loadUsage() (map[string]model.UsageRecord, error) {
	raw, err := a.docs.Get(store.KeyUsage)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "read", Key: store.KeyUsage, Err: err}
	}
	usage, err := store.DecodeUsage(raw)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "read", Key: store.KeyUsage, Err: err}
	}
	return usage, nil
}

// Reset drops every draft.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	clear(a.drafts)
	a.mu.Unlock()
}
