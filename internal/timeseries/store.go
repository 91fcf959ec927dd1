package timeseries

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hysteresis thresholds. Reaching UpperThreshold rows truncates the store to
// the most recent LowerThreshold rows.
const (
	UpperThreshold = 20000
	LowerThreshold = 12000
)

// TimeColumn is the header name of column 0 in every sensor store.
const TimeColumn = "Time (s)"

// Store is a bounded, append-only, queryable time series of one sensor.
// It is safe for concurrent use. Append and truncation form one critical
// section; queries copy their result before releasing the lock.
type Store struct {
	name   string
	header []string
	upper  int
	lower  int
	logger *logrus.Logger

	mu       sync.RWMutex
	rows     []Row
	appended uint64
	rejected uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithThresholds overrides the hysteresis pair. lower must be below upper.
func WithThresholds(upper, lower int) StoreOption {
	return func(s *Store) {
		if upper > 0 && lower > 0 && lower < upper {
			s.upper, s.lower = upper, lower
		}
	}
}

func NewStore(name string, header []string, logger *logrus.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{
		name:   name,
		header: append([]string(nil), header...),
		upper:  UpperThreshold,
		lower:  LowerThreshold,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string {
	return s.name
}

// Header returns the column names; column 0 is the timestamp.
func (s *Store) Header() []string {
	return append([]string(nil), s.header...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Stats returns the number of rows ever appended and rejected.
func (s *Store) Stats() (appended, rejected uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appended, s.rejected
}

// Append adds rows in order and returns how many were kept. Rows whose width
// does not match the header, or whose timestamp precedes the last retained
// row, are rejected so the retained window stays timestamp-monotonic.
func (s *Store) Append(rows ...Row) int {
	if len(rows) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := 0
	for _, r := range rows {
		if len(r) != len(s.header) {
			s.rejected++
			continue
		}
		if n := len(s.rows); n > 0 && r[0] < s.rows[n-1][0] {
			s.rejected++
			continue
		}

		s.rows = append(s.rows, append(Row(nil), r...))
		kept++

		if len(s.rows) >= s.upper {
			s.rows = append([]Row(nil), s.rows[len(s.rows)-s.lower:]...)
			s.logger.WithFields(logrus.Fields{
				"sensor": s.name,
				"rows":   s.lower,
			}).Debug("Time series truncated")
		}
	}
	s.appended += uint64(kept)

	if dropped := len(rows) - kept; dropped > 0 {
		s.logger.WithFields(logrus.Fields{
			"sensor":  s.name,
			"dropped": dropped,
		}).Debug("Rejected out-of-order or malformed rows")
	}

	return kept
}

// Query is a read request. Exactly one of LastN and Since must be set.
type Query struct {
	// LastN selects the most recent N rows; -1 selects all rows.
	LastN *int
	// Since selects rows whose time column is strictly greater than the value.
	Since *float64
	// TimeColumn is the key compared against Since; defaults to column 0.
	TimeColumn *Column
	// Columns restricts and orders the result columns; nil selects all.
	Columns []Column
}

// LastN builds a last-N query.
func LastN(n int, cols ...Column) Query {
	return Query{LastN: &n, Columns: cols}
}

// Since builds an all-since query keyed on column 0.
func Since(t float64, cols ...Column) Query {
	return Query{Since: &t, Columns: cols}
}

// Query returns a snapshot matching q. Contract violations return an
// *InvalidQueryError. Any other fault degrades to an empty table shaped like
// the requested columns.
func (s *Store) Query(q Query) (table *Table, err error) {
	if (q.LastN == nil) == (q.Since == nil) {
		return nil, &InvalidQueryError{Reason: "exactly one of last-N or since-timestamp must be set"}
	}
	if q.LastN != nil && *q.LastN < -1 {
		return nil, &InvalidQueryError{Reason: fmt.Sprintf("last-N must be -1 or non-negative, got %d", *q.LastN)}
	}

	requested := s.requestedNames(q.Columns)
	defer func() {
		if r := recover(); r != nil {
			s.fault(fmt.Errorf("panic: %v", r))
			table, err = emptyTable(requested), nil
		}
	}()

	indices, names, rerr := s.resolveColumns(q.Columns)
	if rerr != nil {
		s.fault(rerr)
		return emptyTable(requested), nil
	}

	timeIdx := 0
	if q.TimeColumn != nil {
		idx, _, terr := q.TimeColumn.resolve(s.header)
		if terr != nil {
			s.fault(fmt.Errorf("time column: %w", terr))
			return emptyTable(names), nil
		}
		timeIdx = idx
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var selected []Row
	if q.LastN != nil {
		n := *q.LastN
		if n == -1 || n >= len(s.rows) {
			selected = s.rows
		} else {
			selected = s.rows[len(s.rows)-n:]
		}
	} else {
		since := *q.Since
		start := len(s.rows)
		if timeIdx == 0 {
			// Column 0 is monotonic, search from the end.
			for start > 0 && s.rows[start-1][0] > since {
				start--
			}
			selected = s.rows[start:]
		} else {
			for _, r := range s.rows {
				if r[timeIdx] > since {
					selected = append(selected, r)
				}
			}
		}
	}

	out := make([]Row, len(selected))
	for i, r := range selected {
		row := make(Row, len(indices))
		for j, idx := range indices {
			row[j] = r[idx]
		}
		out[i] = row
	}

	return &Table{Columns: names, Rows: out}, nil
}

func (s *Store) resolveColumns(cols []Column) ([]int, []string, error) {
	if len(cols) == 0 {
		indices := make([]int, len(s.header))
		for i := range indices {
			indices[i] = i
		}
		return indices, s.Header(), nil
	}

	indices := make([]int, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		idx, name, err := c.resolve(s.header)
		if err != nil {
			return nil, nil, err
		}
		indices[i], names[i] = idx, name
	}
	return indices, names, nil
}

func (s *Store) requestedNames(cols []Column) []string {
	if len(cols) == 0 {
		return s.Header()
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		if _, name, err := c.resolve(s.header); err == nil {
			names[i] = name
		} else {
			names[i] = c.String()
		}
	}
	return names
}

func (s *Store) fault(err error) {
	s.logger.WithFields(logrus.Fields{
		"sensor": s.name,
		"error":  err,
	}).Error("Time series query failed, returning empty result")
}
