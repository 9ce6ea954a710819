package repositoryImp

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"farmdash/entities"
	"farmdash/pkg/store/repository"
)

// orderColumns whitelists the sortable columns per collection; the first
// entry is the default.
var orderColumns = map[repository.Collection][]string{
	repository.CollectionFields:   {"created_at"},
	repository.CollectionExpenses: {"date", "created_at"},
	repository.CollectionReadings: {"timestamp", "created_at"},
}

func orderColumn(q repository.Query) (string, error) {
	cols, ok := orderColumns[q.Collection]
	if !ok {
		return "", eris.Errorf("unknown collection %q", q.Collection)
	}
	if q.OrderBy == "" {
		return cols[0], nil
	}
	for _, c := range cols {
		if c == q.OrderBy {
			return c, nil
		}
	}
	return "", eris.Errorf("collection %q cannot be ordered by %q", q.Collection, q.OrderBy)
}

func before(a, b time.Time, desc bool) bool {
	if desc {
		return a.After(b)
	}
	return a.Before(b)
}

func limit[T any](in []T, n int) []T {
	if n > 0 && len(in) > n {
		return in[:n]
	}
	return in
}

func queryFields(all map[string]entities.Field, q repository.Query) []entities.Field {
	out := make([]entities.Field, 0)
	for _, f := range all {
		if q.UserID != "" && f.UserID != q.UserID {
			continue
		}
		if q.FieldID != "" && f.FieldID != q.FieldID {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return before(out[i].CreatedAt, out[j].CreatedAt, q.Descending)
		}
		if q.Descending {
			return out[i].FieldID > out[j].FieldID
		}
		return out[i].FieldID < out[j].FieldID
	})
	return limit(out, q.Limit)
}

func queryExpenses(all []entities.Expense, q repository.Query, col string) []entities.Expense {
	out := make([]entities.Expense, 0)
	for _, e := range all {
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if q.FieldID != "" && e.FieldID != q.FieldID {
			continue
		}
		out = append(out, e)
	}
	key := func(e entities.Expense) time.Time {
		if col == "created_at" {
			return e.CreatedAt
		}
		return e.Date
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if !ki.Equal(kj) {
			return before(ki, kj, q.Descending)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return before(out[i].CreatedAt, out[j].CreatedAt, q.Descending)
		}
		if q.Descending {
			return out[i].ExpenseID > out[j].ExpenseID
		}
		return out[i].ExpenseID < out[j].ExpenseID
	})
	return limit(out, q.Limit)
}

func queryReadings(all []entities.SensorReading, q repository.Query, col string) []entities.SensorReading {
	out := make([]entities.SensorReading, 0)
	for _, r := range all {
		if q.FieldID != "" && r.FieldID != q.FieldID {
			continue
		}
		if q.SensorID != "" && r.SensorID != q.SensorID {
			continue
		}
		out = append(out, r)
	}
	key := func(r entities.SensorReading) time.Time {
		if col == "created_at" {
			return r.CreatedAt
		}
		return r.Timestamp
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if !ki.Equal(kj) {
			return before(ki, kj, q.Descending)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return before(out[i].CreatedAt, out[j].CreatedAt, q.Descending)
		}
		if q.Descending {
			return out[i].ReadingID > out[j].ReadingID
		}
		return out[i].ReadingID < out[j].ReadingID
	})
	return limit(out, q.Limit)
}
