//go:build test

package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/nervous/internal/testutils"
	"github.com/srg/nervous/scanner"
	"github.com/stretchr/testify/require"
	suitelib "github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.WithPeripheral().
		WithName("NERVOUS_ECG_7A2F").
		WithAddress("AA:BB:CC:DD:EE:FF").
		WithRSSI(-45).
		WithAdvertiser("Headphones", "11:22:33:44:55:66", -30).
		WithAdvertiser("NERVOUS_EDA_11C0", "99:88:77:66:55:44", -70).
		WithAdvertiser("", "00:00:00:00:00:09", -20)
	suite.MockBLEPeripheralSuite.SetupTest()
}

func (suite *ScannerTestSuite) TestScanFilters() {
	tests := []struct {
		name     string
		opts     scanner.Options
		expected string
	}{
		{
			name: "sensor families only by default",
			opts: scanner.Options{},
			expected: `[
				{"name": "NERVOUS_ECG_7A2F", "address": "AA:BB:CC:DD:EE:FF", "rssi": -45, "family": "ECG", "derived": "NERVOUS_HR_7A2F"},
				{"name": "NERVOUS_EDA_11C0", "address": "99:88:77:66:55:44", "rssi": -70, "family": "EDA", "derived": "NERVOUS_SCR_11C0"}
			]`,
		},
		{
			name: "all named devices",
			opts: scanner.Options{All: true},
			expected: `[
				{"name": "Headphones", "address": "11:22:33:44:55:66", "rssi": -30, "family": "unknown"},
				{"name": "NERVOUS_ECG_7A2F", "rssi": -45},
				{"name": "NERVOUS_EDA_11C0", "rssi": -70}
			]`,
		},
		{
			name:     "explicit names",
			opts:     scanner.Options{Names: []string{"NERVOUS_EDA_11C0"}},
			expected: `[{"name": "NERVOUS_EDA_11C0", "family": "EDA"}]`,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			tt.opts.Duration = 100 * time.Millisecond

			found, err := scanner.New(suite.Logger).Scan(context.Background(), tt.opts)
			require.NoError(suite.T(), err, "scan MUST succeed")

			testutils.NewJSONAsserter(suite.T()).
				WithOptions(testutils.WithIgnoredFields("lastSeen")).
				AssertValue(found, tt.expected)
		})
	}
}

func (suite *ScannerTestSuite) TestScanStampsSightings() {
	before := time.Now()
	found, err := scanner.New(suite.Logger).Scan(context.Background(), scanner.Options{Duration: 50 * time.Millisecond})
	suite.Require().NoError(err)
	suite.Require().NotEmpty(found)
	for _, s := range found {
		suite.False(s.LastSeen.Before(before), "sighting of %s MUST carry the time it was heard", s.Name)
	}
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}

type FailingScanTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (suite *FailingScanTestSuite) SetupTest() {
	suite.WithPeripheral().WithScanError(errors.New("adapter reset"))
	suite.MockBLEPeripheralSuite.SetupTest()
}

func (suite *FailingScanTestSuite) TestScanError() {
	_, err := scanner.New(suite.Logger).Scan(context.Background(), scanner.Options{Duration: 50 * time.Millisecond})
	suite.Require().Error(err)
	suite.Contains(err.Error(), "scan failed")
	suite.Contains(err.Error(), "adapter reset")
}

func TestFailingScanTestSuite(t *testing.T) {
	suitelib.Run(t, new(FailingScanTestSuite))
}
