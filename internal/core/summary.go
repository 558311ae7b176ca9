package core

import (
	"fmt"
	"sort"
	"time"
)

// Reporting engine: period filtering, chart aggregation and trend series.
// Everything here is pure; the service layer loads the data.

const (
	PeriodToday  Period = "today"
	PeriodWeek   Period = "week"
	PeriodMonth  Period = "month"
	PeriodYear   Period = "year"
	PeriodAll    Period = "all"
	PeriodCustom Period = "custom"
)

const (
	ChartAll     ChartType = "all"
	ChartIncome  ChartType = "income"
	ChartExpense ChartType = "expense"
)

const (
	ModeCategory   SummaryMode = "category"
	ModeIndividual SummaryMode = "individual"
)

// Transactions whose category has been deleted out from under them are
// reported under a synthetic bucket with a fixed neutral color.
const (
	UncategorizedName  = "Uncategorized"
	UncategorizedColor = "#6c757d"
)

type (
	Period      string
	ChartType   string
	SummaryMode string

	// DateRange is an inclusive calendar interval. A zero bound is open.
	DateRange struct {
		Start Date
		End   Date
	}

	// Filter scopes a transaction listing. Zero values mean "no filter".
	Filter struct {
		Range      DateRange
		Type       CategoryType
		CategoryID int64
	}

	// ChartPoint is one slice of a chart payload. Type is empty on
	// single-type charts where it would be redundant.
	ChartPoint struct {
		Name  string       `json:"name"`
		Value float64      `json:"value"`
		Color string       `json:"color"`
		Type  CategoryType `json:"type,omitempty"`
	}

	// Series is a sparse date-keyed trend line: dates with no
	// transactions are absent rather than zero-filled.
	Series struct {
		Labels []string  `json:"labels"`
		Values []float64 `json:"values"`
	}

	Totals struct {
		Income  Money
		Expense Money
	}
)

func (p Period) Valid() bool {
	switch p {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodYear, PeriodAll, PeriodCustom:
		return true
	}
	return false
}

func (c ChartType) Valid() bool {
	switch c {
	case ChartAll, ChartIncome, ChartExpense:
		return true
	}
	return false
}

// Matches reports whether a transaction type belongs on this chart.
func (c ChartType) Matches(t CategoryType) bool {
	return c == ChartAll || string(c) == string(t)
}

func (m SummaryMode) Valid() bool {
	return m == ModeCategory || m == ModeIndividual
}

// Range resolves a period to an inclusive date interval. Preset periods
// run to "today": week starts Monday, month and year are to-date. For
// PeriodCustom the provided bounds are used as-is; a zero bound stays open.
func (p Period) Range(now time.Time, start, end Date) (DateRange, error) {
	today := DateOf(now)
	switch p {
	case PeriodToday:
		return DateRange{Start: today, End: today}, nil
	case PeriodWeek:
		offset := (int(now.Weekday()) + 6) % 7 // days since Monday
		monday := DateOf(now.AddDate(0, 0, -offset))
		return DateRange{Start: monday, End: today}, nil
	case PeriodMonth:
		return DateRange{Start: NewDate(now.Year(), int(now.Month()), 1), End: today}, nil
	case PeriodYear:
		return DateRange{Start: NewDate(now.Year(), 1, 1), End: today}, nil
	case PeriodAll:
		return DateRange{}, nil
	case PeriodCustom:
		if !start.IsZero() && !end.IsZero() && end.Before(start.Time) {
			return DateRange{}, fmt.Errorf("%w: range end before start", ErrInvalidDate)
		}
		return DateRange{Start: start, End: end}, nil
	}
	return DateRange{}, fmt.Errorf("unknown period %q", p)
}

// Contains reports whether d falls inside the inclusive range.
func (r DateRange) Contains(d Date) bool {
	if !r.Start.IsZero() && d.Before(r.Start.Time) {
		return false
	}
	if !r.End.IsZero() && d.After(r.End.Time) {
		return false
	}
	return true
}

// FilterTransactions applies date, type and category filters in memory.
// A filter matching nothing yields an empty slice, never the full set.
func FilterTransactions(txs []Transaction, f Filter) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if !f.Range.Contains(t.Date) {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.CategoryID != 0 && t.CategoryID != f.CategoryID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// SumTotals computes the unsigned income and expense totals of a set.
func SumTotals(txs []Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		switch tx.Type {
		case Income:
			t.Income.Cents += tx.Amount.Cents
		case Expense:
			t.Expense.Cents += tx.Amount.Cents
		}
	}
	return t
}

// Net is income minus expense, signed.
func (t Totals) Net() Money {
	return Money{Cents: t.Income.Cents - t.Expense.Cents}
}

// Summarize turns filtered transactions into chart points.
//
// Category mode accumulates a signed running total per category name:
// income adds, expense subtracts. On a single-type chart the sign is then
// stripped back to the absolute value; the "all" chart keeps it signed so
// the points sum to the net balance. Bucket color and type come from the
// transaction that opens the bucket, and bucket order follows first
// appearance in the input.
//
// Individual mode emits one unsigned point per transaction, labeled by
// item name with a "date - category" fallback for blank names.
func Summarize(txs []Transaction, cats map[int64]Category, chart ChartType, mode SummaryMode) []ChartPoint {
	if mode == ModeIndividual {
		return summarizeIndividual(txs, cats, chart)
	}
	return summarizeByCategory(txs, cats, chart)
}

type bucket struct {
	name  string
	cents int64
	color string
	typ   CategoryType
}

func summarizeByCategory(txs []Transaction, cats map[int64]Category, chart ChartType) []ChartPoint {
	index := make(map[string]int)
	var buckets []bucket
	for _, t := range txs {
		if !chart.Matches(t.Type) {
			continue
		}
		name, color := UncategorizedName, UncategorizedColor
		if c, ok := cats[t.CategoryID]; ok {
			name, color = c.Name, c.Color
		}
		signed := t.Amount.Cents
		if t.Type == Expense {
			signed = -signed
		}
		i, ok := index[name]
		if !ok {
			i = len(buckets)
			index[name] = i
			buckets = append(buckets, bucket{name: name, color: color, typ: t.Type})
		}
		buckets[i].cents += signed
	}

	points := make([]ChartPoint, 0, len(buckets))
	for _, b := range buckets {
		p := ChartPoint{Name: b.name, Value: Money{Cents: b.cents}.Float64(), Color: b.color, Type: b.typ}
		if chart != ChartAll {
			// Single-type charts show magnitudes only.
			if p.Value < 0 {
				p.Value = -p.Value
			}
			p.Type = ""
		}
		points = append(points, p)
	}
	return points
}

func summarizeIndividual(txs []Transaction, cats map[int64]Category, chart ChartType) []ChartPoint {
	points := make([]ChartPoint, 0, len(txs))
	for _, t := range txs {
		if !chart.Matches(t.Type) {
			continue
		}
		name, color := UncategorizedName, UncategorizedColor
		if c, ok := cats[t.CategoryID]; ok {
			name, color = c.Name, c.Color
		}
		label := t.ItemName
		if label == "" {
			label = t.Date.String() + " - " + name
		}
		points = append(points, ChartPoint{Name: label, Value: t.Amount.Float64(), Color: color, Type: t.Type})
	}
	return points
}

// TimeSeries buckets transactions by calendar date within the current
// month or year and sums amounts per date. Both types contribute
// positively; the series tracks activity volume, not balance. Labels are
// sorted ascending and sparse.
func TimeSeries(txs []Transaction, chart ChartType, period Period, now time.Time) (Series, error) {
	if period != PeriodMonth && period != PeriodYear {
		return Series{}, fmt.Errorf("unsupported series period %q", period)
	}
	start := NewDate(now.Year(), int(now.Month()), 1)
	if period == PeriodYear {
		start = NewDate(now.Year(), 1, 1)
	}

	totals := make(map[string]int64)
	for _, t := range txs {
		if !chart.Matches(t.Type) {
			continue
		}
		if t.Date.Before(start.Time) {
			continue
		}
		totals[t.Date.String()] += t.Amount.Cents
	}

	labels := make([]string, 0, len(totals))
	for d := range totals {
		labels = append(labels, d)
	}
	sort.Strings(labels)

	values := make([]float64, len(labels))
	for i, d := range labels {
		values[i] = Money{Cents: totals[d]}.Float64()
	}
	return Series{Labels: labels, Values: values}, nil
}
