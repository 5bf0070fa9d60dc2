// Package report builds the per-item expenditure and stock report.
package report

import (
	"log/slog"
	"sync"

	"github.com/dukerupert/larder/internal/ledger"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
	"github.com/shopspring/decimal"
)

// Build derives one row per item name, in the order names first appear in
// entries. Missing usage counts as zero and missing remaining as the full
// purchased quantity. Spent is valued at usage times unit price.
func Build(entries []model.GroceryEntry, usage map[string]model.UsageRecord, remaining map[string]decimal.Decimal) []model.ReportRow {
	groups := ledger.GroupByItem(entries)
	rows := make([]model.ReportRow, 0, groups.Len())
	for _, agg := range groups.Items {
		days := usage[agg.Name].Days
		used := days.Total()
		rows = append(rows, model.ReportRow{
			Name:             agg.Name,
			Unit:             agg.Unit,
			DailyUsage:       days,
			TotalQuantity:    agg.TotalQuantity,
			TotalUsed:        used,
			Remaining:        ledger.ResolveRemaining(remaining, agg.Name, agg.TotalQuantity),
			UnitPrice:        agg.UnitPrice,
			TotalAmountSpent: used.Mul(agg.UnitPrice).Round(2),
			PurchasedAmount:  agg.TotalAmount,
			FirstDate:        agg.FirstDate,
		})
	}
	return rows
}

// VersionSource reports a counter that moves on every data change.
type VersionSource interface {
	Version() int64
}

// Service reads the store and builds reports. When a VersionSource is set,
// the last report is reused until the version moves.
type Service struct {
	docs     store.Documents
	versions VersionSource
	logger   *slog.Logger

	mu        sync.Mutex
	cached    *model.Report
	cachedVer int64
}

func NewService(docs store.Documents, versions VersionSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, versions: versions, logger: logger}
}

// Report reads entries, usage and remaining from one store snapshot so all
// three come from the same revision.
func (s *Service) Report() (model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if s.versions != nil {
		version = s.versions.Version()
		if s.cached != nil && s.cachedVer == version {
			return *s.cached, nil
		}
	}

	snap, err := s.docs.Snapshot(store.AllKeys...)
	if err != nil {
		return model.Report{}, &ledger.PersistenceError{Op: "read", Key: store.KeyEntries, Err: err}
	}
	entries, err := store.DecodeEntries(snap.Docs[store.KeyEntries])
	if err != nil {
		return model.Report{}, &ledger.PersistenceError{Op: "read", Key: store.KeyEntries, Err: err}
	}
	usage, err := store.DecodeUsage(snap.Docs[store.KeyUsage])
	if err != nil {
		return model.Report{}, &ledger.PersistenceError{Op: "read", Key: store.KeyUsage, Err: err}
	}
	remaining, err := store.DecodeRemaining(snap.Docs[store.KeyRemaining])
	if err != nil {
		return model.Report{}, &ledger.PersistenceError{Op: "read", Key: store.KeyRemaining, Err: err}
	}

	rep := model.Report{
		Revision:       snap.Revision,
		Rows:           Build(entries, usage, remaining),
		TotalSpent:     decimal.Zero,
		TotalPurchased: decimal.Zero,
	}
	for _, row := range rep.Rows {
		rep.TotalSpent = rep.TotalSpent.Add(row.TotalAmountSpent)
		rep.TotalPurchased = rep.TotalPurchased.Add(row.PurchasedAmount)
	}

	s.logger.Debug("report built", "revision", rep.Revision, "rows", len(rep.Rows))
	if s.versions != nil {
		s.cached = &rep
		s.cachedVer = version
	}
	return rep, nil
}
