//go:build test

package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/fatih/color"
	"github.com/srg/nervous/internal/testutils"
	suitelib "github.com/stretchr/testify/suite"
)

type ScanCommandTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (s *ScanCommandTestSuite) SetupTest() {
	s.WithPeripheral().
		WithName("NERVOUS_ECG_7A2F").
		WithAddress("AA:BB:CC:DD:EE:FF").
		WithRSSI(-45).
		WithAdvertiser("Headphones", "11:22:33:44:55:66", -30)
	s.MockBLEPeripheralSuite.SetupTest()
}

// scan runs the scan command and returns stdout only; logs go elsewhere.
func (s *ScanCommandTestSuite) scan(args ...string) (string, error) {
	resetFlags(rootCmd)
	color.NoColor = true

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"scan", "--duration", "50ms"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (s *ScanCommandTestSuite) TestTable() {
	out, err := s.scan()
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
NAME              ADDRESS            RSSI     FAMILY  DERIVED
NERVOUS_ECG_7A2F  AA:BB:CC:DD:EE:FF  -45 dBm  ECG     NERVOUS_HR_7A2F
`)
}

func (s *ScanCommandTestSuite) TestJSONWithAll() {
	out, err := s.scan("--format", "json", "--all")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[
		{"name": "Headphones", "address": "11:22:33:44:55:66", "rssi": -30, "family": "unknown", "lastSeen": "<<PRESENCE>>"},
		{"name": "NERVOUS_ECG_7A2F", "address": "AA:BB:CC:DD:EE:FF", "rssi": -45, "family": "ECG", "derived": "NERVOUS_HR_7A2F"}
	]`)
}

func (s *ScanCommandTestSuite) TestRejectsBadFlags() {
	_, err := s.scan("--format", "xml")
	s.ErrorContains(err, "invalid format 'xml'")

	_, err = s.scan("--duration", "0s")
	s.ErrorContains(err, "invalid duration")
}

func TestScanCommandTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScanCommandTestSuite))
}
