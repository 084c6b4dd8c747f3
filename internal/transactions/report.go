package transactions

import (
	"sort"
	"time"
)

// DayTotal is the spending of one local calendar day.
type DayTotal struct {
	Day     time.Time
	Total   float64
	Largest *Transaction
}

// KeyTotal is the spending grouped under one key (category or hour).
type KeyTotal[K comparable] struct {
	Key   K
	Total float64
}

// Summary aggregates a set of transactions for a report.
type Summary struct {
	Count          int
	TotalIncome    float64
	TotalExpense   float64
	LargestExpense *Transaction
	LargestIncome  *Transaction
	TopDay         *DayTotal
	TopCategory    *KeyTotal[string]
	TopHour        *KeyTotal[int]
}

// Balance is income minus expenses.
func (s Summary) Balance() float64 { return s.TotalIncome - s.TotalExpense }

// Summarize computes report aggregates over txs. Spending rankings
// (day, category, hour) consider expenses only. Ties go to the
// earliest day, the alphabetically first category and the lowest hour;
// for largest transactions the first in input order wins.
func Summarize(txs []*Transaction) Summary {
	s := Summary{Count: len(txs)}

	days := make(map[string]*DayTotal)
	cats := make(map[string]float64)
	hours := make(map[int]float64)

	for _, tx := range txs {
		switch tx.Type {
		case Income:
			s.TotalIncome += tx.Value
			if s.LargestIncome == nil || tx.Value > s.LargestIncome.Value {
				s.LargestIncome = tx
			}
		case Expense:
			s.TotalExpense += tx.Value
			if s.LargestExpense == nil || tx.Value > s.LargestExpense.Value {
				s.LargestExpense = tx
			}

			key := tx.CreatedAt.Format("2006-01-02")
			d, ok := days[key]
			if !ok {
				y, m, dd := tx.CreatedAt.Date()
				d = &DayTotal{Day: time.Date(y, m, dd, 0, 0, 0, 0, tx.CreatedAt.Location())}
				days[key] = d
			}
			d.Total += tx.Value
			if d.Largest == nil || tx.Value > d.Largest.Value {
				d.Largest = tx
			}
			cats[tx.Category] += tx.Value
			hours[tx.Hour] += tx.Value
		}
	}

	dayKeys := make([]string, 0, len(days))
	for k := range days {
		dayKeys = append(dayKeys, k)
	}
	sort.Strings(dayKeys)
	for _, k := range dayKeys {
		if s.TopDay == nil || days[k].Total > s.TopDay.Total {
			s.TopDay = days[k]
		}
	}

	s.TopCategory = topKey(cats, func(a, b string) bool { return a < b })
	s.TopHour = topKey(hours, func(a, b int) bool { return a < b })
	return s
}

func topKey[K comparable](totals map[K]float64, less func(a, b K) bool) *KeyTotal[K] {
	keys := make([]K, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })

	var top *KeyTotal[K]
	for _, k := range keys {
		if top == nil || totals[k] > top.Total {
			top = &KeyTotal[K]{Key: k, Total: totals[k]}
		}
	}
	return top
}

// CategorySpend aggregates the expenses of one category.
type CategorySpend struct {
	Total        float64
	Count        int
	Largest      *Transaction
	Transactions []*Transaction
}

// Average is the mean expense, zero when empty.
func (c CategorySpend) Average() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.Total / float64(c.Count)
}

// SpendByCategory aggregates txs, which the caller has already filtered
// to one category's expenses.
func SpendByCategory(txs []*Transaction) CategorySpend {
	c := CategorySpend{Count: len(txs), Transactions: txs}
	for _, tx := range txs {
		c.Total += tx.Value
		if c.Largest == nil || tx.Value > c.Largest.Value {
			c.Largest = tx
		}
	}
	return c
}
