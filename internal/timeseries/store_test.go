package timeseries

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

var ecgHeader = []string{TimeColumn, "ECG (A.U.)"}

type StoreTestSuite struct {
	suite.Suite
	logger *logrus.Logger
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.WarnLevel)
}

func (s *StoreTestSuite) newStore(rows int) *Store {
	st := NewStore("ECG test", ecgHeader, s.logger)
	batch := make([]Row, rows)
	for i := range batch {
		batch[i] = Row{float64(i), float64(i * 10)}
	}
	st.Append(batch...)
	return st
}

func (s *StoreTestSuite) TestHysteresis() {
	// GOAL: Verify append truncates to LowerThreshold exactly when UpperThreshold is reached
	//
	// TEST SCENARIO: Grow one row at a time → length never reaches UpperThreshold → drop to LowerThreshold on crossing
	st := NewStore("ECG test", ecgHeader, s.logger)

	maxSeen := 0
	truncations := 0
	prev := 0
	for i := 0; i < 2*UpperThreshold; i++ {
		st.Append(Row{float64(i), 0})
		n := st.Len()
		if n < prev {
			truncations++
			s.Equal(LowerThreshold, n, "store MUST hold exactly the lower threshold right after crossing")
		}
		maxSeen = max(maxSeen, n)
		prev = n
	}

	s.Less(maxSeen, UpperThreshold, "store MUST never hold UpperThreshold rows after an append returns")
	s.Equal(3, truncations)

	t, err := st.Query(LastN(1))
	s.Require().NoError(err)
	s.Equal(float64(2*UpperThreshold-1), t.Rows[0][0], "truncation MUST keep the most recent rows")
}

func (s *StoreTestSuite) TestHysteresisFromThreshold() {
	st := s.newStore(UpperThreshold - 1)
	s.Equal(UpperThreshold-1, st.Len())

	st.Append(Row{float64(UpperThreshold), 1})
	s.Equal(LowerThreshold, st.Len())

	for i := 0; i < UpperThreshold-LowerThreshold-1; i++ {
		st.Append(Row{float64(UpperThreshold + 1 + i), 1})
		s.LessOrEqual(st.Len(), UpperThreshold)
	}
	s.Equal(UpperThreshold-1, st.Len())
}

func (s *StoreTestSuite) TestQueryExclusivity() {
	// GOAL: Verify exactly one query mode must be selected
	//
	// TEST SCENARIO: both set → InvalidQueryError; neither set → InvalidQueryError
	st := s.newStore(10)
	n, since := 3, 1.0

	_, err := st.Query(Query{LastN: &n, Since: &since})
	s.ErrorIs(err, ErrInvalidQuery, "both modes MUST be rejected")

	_, err = st.Query(Query{})
	s.ErrorIs(err, ErrInvalidQuery, "no mode MUST be rejected")

	bad := -2
	_, err = st.Query(Query{LastN: &bad})
	s.ErrorIs(err, ErrInvalidQuery)
}

func (s *StoreTestSuite) TestLastN() {
	st := s.newStore(10)

	s.Run("subset", func() {
		t, err := st.Query(LastN(3))
		s.Require().NoError(err)
		s.Equal([]Row{{7, 70}, {8, 80}, {9, 90}}, t.Rows)
		s.Equal(ecgHeader, t.Columns)
	})

	s.Run("minus one returns everything", func() {
		t, err := st.Query(LastN(-1))
		s.Require().NoError(err)
		s.Equal(10, t.Len())
	})

	s.Run("more than stored returns everything", func() {
		t, err := st.Query(LastN(50))
		s.Require().NoError(err)
		s.Equal(10, t.Len())
	})

	s.Run("zero", func() {
		t, err := st.Query(LastN(0))
		s.Require().NoError(err)
		s.Equal(0, t.Len())
	})
}

func (s *StoreTestSuite) TestSinceIsStrict() {
	st := s.newStore(10)

	t, err := st.Query(Since(6))
	s.Require().NoError(err)
	s.Equal([]float64{7, 8, 9}, t.Values(0), "rows at exactly the watermark MUST be excluded")

	t, err = st.Query(Since(100))
	s.Require().NoError(err)
	s.Equal(0, t.Len())
}

func (s *StoreTestSuite) TestSinceOnNamedTimeColumn() {
	st := s.newStore(10)
	col := ByName("ECG (A.U.)")

	t, err := st.Query(Query{Since: ptr(65.0), TimeColumn: &col, Columns: []Column{ByIndex(0)}})
	s.Require().NoError(err)
	s.Equal([]string{TimeColumn}, t.Columns)
	s.Equal([]float64{7, 8, 9}, t.Values(0))
}

func (s *StoreTestSuite) TestColumnSelection() {
	st := s.newStore(3)

	byName, err := st.Query(LastN(-1, ByName("ECG (A.U.)")))
	s.Require().NoError(err)
	byIndex, err := st.Query(LastN(-1, ByIndex(1)))
	s.Require().NoError(err)

	s.Equal(byName, byIndex, "names and indices MUST select the same column")
	s.Equal([]float64{0, 10, 20}, byName.Column("ECG (A.U.)"))
}

func (s *StoreTestSuite) TestUnknownColumnDegradesToEmpty() {
	// GOAL: Verify internal faults yield a well-shaped empty table instead of an error
	st := s.newStore(5)

	t, err := st.Query(LastN(2, ByName(TimeColumn), ByName("nope")))
	s.Require().NoError(err)
	s.Equal([]string{TimeColumn, "nope"}, t.Columns)
	s.NotNil(t.Rows)
	s.Equal(0, t.Len())
}

func (s *StoreTestSuite) TestSnapshotIsolation() {
	st := s.newStore(3)

	t, err := st.Query(LastN(-1))
	s.Require().NoError(err)
	t.Rows[0][1] = -1

	again, err := st.Query(LastN(-1))
	s.Require().NoError(err)
	s.Equal(0.0, again.Rows[0][1], "query results MUST NOT alias store memory")
}

func (s *StoreTestSuite) TestRejectsOutOfOrderAndMalformedRows() {
	st := s.newStore(3)

	kept := st.Append(Row{1, 0}, Row{5}, Row{5, 5})
	s.Equal(1, kept)

	t, err := st.Query(LastN(-1))
	s.Require().NoError(err)
	s.Equal([]float64{0, 1, 2, 5}, t.Values(0))

	appended, rejected := st.Stats()
	s.Equal(uint64(4), appended)
	s.Equal(uint64(2), rejected)
}

func (s *StoreTestSuite) TestConcurrentAppendAndQuery() {
	st := NewStore("ECG test", ecgHeader, s.logger, WithThresholds(200, 120))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			st.Append(Row{float64(i), float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			t, err := st.Query(LastN(-1))
			if !s.NoError(err) {
				return
			}
			s.LessOrEqual(t.Len(), 199)
			for j := 1; j < t.Len(); j++ {
				if t.Rows[j][0] != t.Rows[j-1][0]+1 {
					s.Failf("snapshot not contiguous", "row %d", j)
					return
				}
			}
		}
	}()
	wg.Wait()

	s.Equal(4999.0, st.rows[len(st.rows)-1][0])
}

func ptr[T any](v T) *T {
	return &v
}
