package payout

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	t.Run("sums a seller month", func(t *testing.T) {
		entries := []LedgerEntry{
			entryWithGross(t, "seller-1", june2024, "100.00"),
			entryWithGross(t, "seller-1", june2024, "50.00"),
			entryWithGross(t, "seller-1", june2024, "25.50"),
		}

		summaries, err := Aggregate(entries)
		require.NoError(t, err)
		require.Len(t, summaries, 1)

		s := summaries[LedgerKey{SellerID: "seller-1", PeriodKey: "2024-06"}]
		require.NotNil(t, s)
		assert.Equal(t, 3, s.OrderCount)
		assert.True(t, d("175.50").Equal(s.TotalGross), "gross %s", s.TotalGross)
		assert.True(t, d("17.55").Equal(s.TotalCommission), "commission %s", s.TotalCommission)
		assert.True(t, d("157.95").Equal(s.TotalNet), "net %s", s.TotalNet)
	})

	t.Run("groups by seller and period", func(t *testing.T) {
		july := PeriodOf(GranularityMonth, june2024.End, nil)
		entries := []LedgerEntry{
			entryWithGross(t, "seller-1", june2024, "10"),
			entryWithGross(t, "seller-2", june2024, "20"),
			entryWithGross(t, "seller-1", july, "30"),
		}

		summaries, err := Aggregate(entries)
		require.NoError(t, err)
		assert.Len(t, summaries, 3)

		sorted := SortedSummaries(summaries)
		assert.Equal(t, "2024-06", sorted[0].Period.Key)
		assert.Equal(t, "seller-1", sorted[0].SellerID)
		assert.Equal(t, "seller-2", sorted[1].SellerID)
		assert.Equal(t, "2024-07", sorted[2].Period.Key)

		totals := Totals(sorted)
		assert.Equal(t, 2, totals.SellerCount)
		assert.Equal(t, 3, totals.OrderCount)
		assert.True(t, d("60").Equal(totals.TotalGross))
		assert.True(t, totals.TotalCommission.Add(totals.TotalNet).Equal(totals.TotalGross))
	})

	t.Run("empty input yields no summaries", func(t *testing.T) {
		summaries, err := Aggregate(nil)
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})

	t.Run("counts a duplicated order once", func(t *testing.T) {
		e := entryWithGross(t, "seller-1", june2024, "42.00")
		summaries, err := Aggregate([]LedgerEntry{e, e, e})
		require.NoError(t, err)

		s := summaries[LedgerKey{SellerID: "seller-1", PeriodKey: "2024-06"}]
		assert.Equal(t, 1, s.OrderCount)
		assert.True(t, d("42.00").Equal(s.TotalGross))
		assert.True(t, s.Includes(e.OrderID))
	})

	t.Run("rejects the same order with a different gross", func(t *testing.T) {
		e := entryWithGross(t, "seller-1", june2024, "42.00")
		conflicting := e
		conflicting.GrossAmount = d("43.00")

		_, err := Aggregate([]LedgerEntry{e, conflicting})
		var inconsistent *InconsistentLedgerError
		require.ErrorAs(t, err, &inconsistent)
		assert.Equal(t, e.OrderID, inconsistent.OrderID)
		assert.Equal(t, "seller-1", inconsistent.SellerID)
		assert.Equal(t, "2024-06", inconsistent.PeriodKey)
		assert.True(t, d("42.00").Equal(inconsistent.ExistingGross))
		assert.True(t, d("43.00").Equal(inconsistent.ConflictingGross))
	})

	t.Run("rejects an order attributed to two sellers", func(t *testing.T) {
		e := entryWithGross(t, "seller-1", june2024, "42.00")
		other := e
		other.SellerID = "seller-2"

		_, err := Aggregate([]LedgerEntry{e, other})
		var inconsistent *InconsistentLedgerError
		require.ErrorAs(t, err, &inconsistent)
	})
}

func TestAggregate_IsOrderIndependent(t *testing.T) {
	july := PeriodOf(GranularityMonth, june2024.End, nil)
	var entries []LedgerEntry
	grosses := []string{"0.01", "19.99", "5.55", "100.00", "0.05", "7.77", "33.33", "1.01"}
	for i, g := range grosses {
		seller := "seller-a"
		if i%3 == 0 {
			seller = "seller-b"
		}
		period := june2024
		if i%2 == 0 {
			period = july
		}
		entries = append(entries, entryWithGross(t, seller, period, g))
	}
	// duplicates must not change the outcome either
	entries = append(entries, entries[1], entries[4])

	baseline, err := Aggregate(entries)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 11))
	for range 25 {
		shuffled := append([]LedgerEntry(nil), entries...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := Aggregate(shuffled)
		require.NoError(t, err)
		require.Len(t, got, len(baseline))
		for key, want := range baseline {
			s := got[key]
			require.NotNil(t, s, "missing %v", key)
			assert.Equal(t, want.OrderCount, s.OrderCount)
			assert.True(t, want.TotalGross.Equal(s.TotalGross))
			assert.True(t, want.TotalCommission.Equal(s.TotalCommission))
			assert.True(t, want.TotalNet.Equal(s.TotalNet))
		}
	}
}

func TestFoldEntry(t *testing.T) {
	t.Run("starts a summary from nil", func(t *testing.T) {
		e := entryWithGross(t, "seller-1", june2024, "10.00")
		s, err := FoldEntry(nil, e)
		require.NoError(t, err)
		assert.Equal(t, "seller-1", s.SellerID)
		assert.Equal(t, june2024.Key, s.Period.Key)
		assert.Equal(t, 1, s.OrderCount)
	})

	t.Run("matches batch aggregation", func(t *testing.T) {
		entries := []LedgerEntry{
			entryWithGross(t, "seller-1", june2024, "100.00"),
			entryWithGross(t, "seller-1", june2024, "50.00"),
			entryWithGross(t, "seller-1", june2024, "25.50"),
		}
		var s *SellerLedgerSummary
		var err error
		for _, e := range entries {
			s, err = FoldEntry(s, e)
			require.NoError(t, err)
		}
		batch, err := Aggregate(entries)
		require.NoError(t, err)
		want := batch[s.Key()]
		assert.True(t, want.TotalNet.Equal(s.TotalNet))
		assert.Equal(t, want.OrderCount, s.OrderCount)
	})

	t.Run("leaves the summary unchanged on conflict", func(t *testing.T) {
		e := entryWithGross(t, "seller-1", june2024, "10.00")
		s, err := FoldEntry(nil, e)
		require.NoError(t, err)

		conflicting := e
		conflicting.GrossAmount = d("11.00")
		s, err = FoldEntry(s, conflicting)
		require.Error(t, err)
		assert.Equal(t, 1, s.OrderCount)
		assert.True(t, d("10.00").Equal(s.TotalGross))
	})

	t.Run("rejects an entry for another ledger", func(t *testing.T) {
		s := NewSellerLedgerSummary("seller-1", june2024)
		_, err := FoldEntry(s, entryWithGross(t, "seller-2", june2024, "1"))
		var inconsistent *InconsistentLedgerError
		assert.ErrorAs(t, err, &inconsistent)
	})
}
