package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signmatch/internal/matching"
)

func TestCalibrateCommand_Corpus(t *testing.T) {
	var buf bytes.Buffer
	calibrateCmd.SetOut(&buf)
	t.Cleanup(func() { calibrateCmd.SetOut(nil) })

	corpus := filepath.Join("..", "internal", "matching", "testdata", "corpus.yaml")
	require.NoError(t, calibrateCmd.RunE(calibrateCmd, []string{corpus}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "RATIO")
	assert.Contains(t, lines[2], "0.60")
}

func TestCalibrateCommand_MissingCorpus(t *testing.T) {
	err := calibrateCmd.RunE(calibrateCmd, []string{filepath.Join(t.TempDir(), "none.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matching: read corpus")
}

func TestFormatCalibration(t *testing.T) {
	results := []matching.Calibration{
		{MinLengthRatio: 0.5, Correct: 3, Total: 4, Failures: []string{"short fragment: want \"\""}},
		{MinLengthRatio: 0.6, Correct: 4, Total: 4},
	}

	var buf bytes.Buffer
	formatCalibration(&buf, results, false)
	out := buf.String()
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "100.0%")
	assert.NotContains(t, out, "short fragment")

	buf.Reset()
	formatCalibration(&buf, results, true)
	assert.Contains(t, buf.String(), "ratio 0.50: short fragment")
}
