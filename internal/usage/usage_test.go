package usage

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/dukerupert/larder/internal/event"
	"github.com/dukerupert/larder/internal/ledger"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	docs   *store.MemoryDocuments
	bus    *event.Bus
	ledger *ledger.Ledger
	acc    *Accumulator
}

func setup(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	docs := store.NewMemoryDocuments()
	bus := event.NewBus()
	l := ledger.New(docs, bus, logger)
	return fixture{
		docs:   docs,
		bus:    bus,
		ledger: l,
		acc:    New(docs, l, bus, logger),
	}
}

func (f fixture) add(t *testing.T, name, qty, price string) model.GroceryEntry {
	t.Helper()
	e, err := f.ledger.Add(ledger.EntryInput{Name: name, Unit: "kg", Quantity: dec(qty), Price: dec(price)})
	require.NoError(t, err)
	return e
}

func (f fixture) setDays(t *testing.T, name string, values ...string) {
	t.Helper()
	for i, v := range values {
		require.NoError(t, f.acc.SetDailyUsage(name, i+1, dec(v)))
	}
}

func TestCommitDerivesRemaining(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	f.add(t, "Rice", "5", "50")

	f.setDays(t, "Rice", "5", "3", "2")
	res, err := f.acc.Commit("Rice")
	require.NoError(t, err)
	require.True(t, res.TotalUsed.Equal(dec("10")))
	require.True(t, res.Remaining.Equal(dec("5")))

	remaining, err := f.acc.Remaining("Rice")
	require.NoError(t, err)
	require.True(t, remaining.Equal(dec("5")), "remaining = %s", remaining)
}

func TestCommitOverCapacityLeavesStateUnchanged(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	f.add(t, "Rice", "5", "50")
	f.setDays(t, "Rice", "5", "3", "2")
	_, err := f.acc.Commit("Rice")
	require.NoError(t, err)
	before := f.bus.Version()

	require.NoError(t, f.acc.SetDailyUsage("Rice", 4, dec("10")))
	_, err = f.acc.Commit("Rice")

	var cerr *ledger.CapacityExceededError
	require.ErrorAs(t, err, &cerr)
	require.True(t, cerr.Requested.Equal(dec("20")))
	require.True(t, cerr.Available.Equal(dec("15")))

	remaining, err := f.acc.Remaining("Rice")
	require.NoError(t, err)
	require.True(t, remaining.Equal(dec("5")), "remaining = %s", remaining)
	require.Equal(t, before, f.bus.Version())

	// The rejected edit stays in the draft for correction.
	days, err := f.acc.Days("Rice")
	require.NoError(t, err)
	require.True(t, days[3].Equal(dec("10")))

	require.NoError(t, f.acc.SetDailyUsage("Rice", 4, dec("4")))
	res, err := f.acc.Commit("Rice")
	require.NoError(t, err)
	require.True(t, res.Remaining.Equal(dec("1")))
}

func TestCommitIsIdempotent(t *testing.T) {
	f := setup(t)
	f.add(t, "Oil", "3", "120")
	f.setDays(t, "Oil", "0.5", "0.25")

	first, err := f.acc.Commit("Oil")
	require.NoError(t, err)
	second, err := f.acc.Commit("Oil")
	require.NoError(t, err)
	require.True(t, first.Remaining.Equal(second.Remaining))
	require.True(t, second.Remaining.Equal(dec("2.25")))
}

func TestCommitExactlyAllStock(t *testing.T) {
	f := setup(t)
	f.add(t, "Salt", "1", "20")
	f.setDays(t, "Salt", "0.4", "0.6")

	res, err := f.acc.Commit("Salt")
	require.NoError(t, err)
	require.True(t, res.Remaining.IsZero())
}

func TestSetDailyUsageValidation(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name  string
		item  string
		day   int
		value string
		field string
	}{
		{"day above range", "Rice", 32, "5", "day"},
		{"day zero", "Rice", 0, "5", "day"},
		{"negative value", "Rice", 3, "-1", "value"},
		{"blank name", " ", 3, "1", "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.acc.SetDailyUsage(tt.item, tt.day, dec(tt.value))
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSetDailyUsageDoesNotPersist(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	require.NoError(t, f.acc.SetDailyUsage("Rice", 1, dec("4")))

	raw, err := f.docs.Get(store.KeyUsage)
	require.NoError(t, err)
	require.Nil(t, raw)

	remaining, err := f.acc.Remaining("Rice")
	require.NoError(t, err)
	require.True(t, remaining.Equal(dec("10")))
}

func TestDraftSeededFromCommittedDays(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	f.setDays(t, "Rice", "1", "2")
	_, err := f.acc.Commit("Rice")
	require.NoError(t, err)

	// A new accumulator over the same store edits on top of the committed days.
	acc := New(f.docs, f.ledger, nil, nil)
	require.NoError(t, acc.SetDailyUsage("Rice", 3, dec("3")))
	res, err := acc.Commit("Rice")
	require.NoError(t, err)
	require.True(t, res.TotalUsed.Equal(dec("6")))
	require.True(t, res.Remaining.Equal(dec("4")))
}

func TestDiscard(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	require.NoError(t, f.acc.SetDailyUsage("Rice", 1, dec("4")))
	f.acc.Discard("Rice")

	days, err := f.acc.Days("Rice")
	require.NoError(t, err)
	require.True(t, days.Total().IsZero())
}

func TestCommitUnknownItem(t *testing.T) {
	f := setup(t)
	_, err := f.acc.Commit("Ghee")

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "item", nf.Kind)

	_, err = f.acc.Remaining("Ghee")
	require.ErrorAs(t, err, &nf)
}

func TestRemainingDefaultsToTotal(t *testing.T) {
	f := setup(t)
	f.add(t, "Sugar", "2", "40")
	f.add(t, "Sugar", "1.5", "40")

	remaining, err := f.acc.Remaining("Sugar")
	require.NoError(t, err)
	require.True(t, remaining.Equal(dec("3.5")))

	days, err := f.acc.Days("Sugar")
	require.NoError(t, err)
	require.True(t, days.Total().IsZero())
}

func TestRemainingClampedAfterEntryEdit(t *testing.T) {
	f := setup(t)
	e := f.add(t, "Rice", "10", "50")
	f.setDays(t, "Rice", "2")
	_, err := f.acc.Commit("Rice")
	require.NoError(t, err)

	_, err = f.ledger.Update(e.ID, ledger.EntryInput{Name: "Rice", Unit: "kg", Quantity: dec("4"), Price: dec("50")})
	require.NoError(t, err)

	remaining, err := f.acc.Remaining("Rice")
	require.NoError(t, err)
	require.True(t, remaining.Equal(dec("4")), "remaining = %s", remaining)
}

func TestCommitPublishesChange(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	var got []event.Change
	f.bus.Subscribe(func(c event.Change) { got = append(got, c) })

	f.setDays(t, "Rice", "1")
	_, err := f.acc.Commit("Rice")
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Equal(t, event.EntityUsage, got[0].Entity)
	require.Equal(t, "Rice", got[0].Key)
}

func TestCommitPersistenceFailure(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	f.setDays(t, "Rice", "1")

	boom := errors.New("read-only filesystem")
	f.docs.FailWrites = boom
	_, err := f.acc.Commit("Rice")

	var perr *ledger.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.ErrorIs(t, err, boom)

	f.docs.FailWrites = nil
	raw, err := f.docs.Get(store.KeyRemaining)
	require.NoError(t, err)
	require.Nil(t, raw)
}

func TestItems(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	f.add(t, "Oil", "2", "120")
	f.setDays(t, "Rice", "1", "1")
	_, err := f.acc.Commit("Rice")
	require.NoError(t, err)
	require.NoError(t, f.acc.SetDailyUsage("Oil", 1, dec("0.5")))

	items, err := f.acc.Items()
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "Rice", items[0].Name)
	require.False(t, items[0].Pending)
	require.True(t, items[0].Remaining.Equal(dec("8")))
	require.Equal(t, "100.00", items[0].UsedValue.StringFixed(2))

	require.Equal(t, "Oil", items[1].Name)
	require.True(t, items[1].Pending)
	require.True(t, items[1].TotalUsed.Equal(dec("0.5")))
	require.True(t, items[1].Remaining.Equal(dec("2")))
}

func TestParseUsage(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "0", true},
		{"  ", "0", true},
		{"2", "2", true},
		{"2.5", "2.5", true},
		{"2,5", "2.5", true},
		{"abc", "", false},
		{"-1", "", false},
	}
	for _, tt := range tests {
		got, err := ParseUsage(tt.in)
		if tt.ok {
			require.NoError(t, err, "input %q", tt.in)
			require.True(t, got.Equal(dec(tt.want)), "%q: got %s", tt.in, got)
			continue
		}
		var verr *ledger.ValidationError
		require.ErrorAs(t, err, &verr, "input %q", tt.in)
	}
}

// Random sequences of edits and commits must keep every item within
// 0 <= remaining <= total and remaining + used == total.
func TestConservationUnderRandomCommits(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "15", "50")
	f.add(t, "Oil", "4", "120")
	f.add(t, "Rice", "5", "55")

	rng := rand.New(rand.NewPCG(7, 11))
	names := []string{"Rice", "Oil"}

	for i := 0; i < 200; i++ {
		name := names[rng.IntN(len(names))]
		day := rng.IntN(model.DaysInCycle) + 1
		value := decimal.NewFromInt(int64(rng.IntN(6)))
		require.NoError(t, f.acc.SetDailyUsage(name, day, value))

		_, err := f.acc.Commit(name)
		if err != nil {
			var cerr *ledger.CapacityExceededError
			require.ErrorAs(t, err, &cerr)
			f.acc.Discard(name)
		}

		items, err := f.acc.Items()
		require.NoError(t, err)
		for _, it := range items {
			committed, err := f.acc.Remaining(it.Name)
			require.NoError(t, err)
			require.False(t, committed.IsNegative())
			require.False(t, committed.GreaterThan(it.TotalQuantity))
		}
	}

	usage, err := f.docs.Get(store.KeyUsage)
	require.NoError(t, err)
	records, err := store.DecodeUsage(usage)
	require.NoError(t, err)
	for _, name := range names {
		remaining, err := f.acc.Remaining(name)
		require.NoError(t, err)
		items, _ := f.acc.Items()
		var total decimal.Decimal
		for _, it := range items {
			if it.Name == name {
				total = it.TotalQuantity
			}
		}
		used := records[name].Days.Total()
		require.False(t, used.GreaterThan(total))
		require.True(t, remaining.Add(used).Equal(total), "%s: %s + %s != %s", name, remaining, used, total)
	}
}

func TestResetDropsDrafts(t *testing.T) {
	f := setup(t)
	f.add(t, "Rice", "10", "50")
	f.add(t, "Oil", "2", "120")
	require.NoError(t, f.acc.SetDailyUsage("Rice", 1, dec("1")))
	require.NoError(t, f.acc.SetDailyUsage("Oil", 1, dec("1")))

	f.acc.Reset()

	items, err := f.acc.Items()
	require.NoError(t, err)
	for _, it := range items {
		require.False(t, it.Pending, it.Name)
	}
}
