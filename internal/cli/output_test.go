package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-advisor/internal/models"
	"options-advisor/pkg/utils"
)

func TestOutput_ColorDisabled(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, false, false)

	out.Success("done %d", 3)
	out.Warning("careful")

	assert.Equal(t, "done 3\ncareful\n", buf.String())
	assert.Equal(t, "+₹1,500.00", out.FormatPnL(1500))
	assert.Equal(t, "HEDGE", out.Kind("HEDGE"))
}

func TestOutput_ColorEnabled(t *testing.T) {
	out := newOutput(&bytes.Buffer{}, false, true)

	red := out.Red("loss")
	assert.NotEqual(t, "loss", red)
	assert.Contains(t, red, "loss")
	assert.Equal(t, 4, visibleLen(red))
	assert.Contains(t, out.MarketStatus(utils.MarketOpen), "OPEN")
	assert.Contains(t, out.MarketStatus(utils.MarketPreOpen), "PRE-OPEN")
}

func TestTable_AlignsColouredCells(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, false, true)

	table := NewTable(out, "Kind", "Symbol")
	table.AddRow(out.Kind("NEW"), "ICICIBANK")
	table.AddRow(out.Kind("HEDGE"), "NIFTY50")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	// Symbol column starts at the same printed offset on every row.
	plain := func(l string) string { return ansiEscape.ReplaceAllString(l, "") }
	col := strings.Index(plain(lines[0]), "Symbol")
	assert.Equal(t, col, strings.Index(plain(lines[2]), "ICICIBANK"))
	assert.Equal(t, col, strings.Index(plain(lines[3]), "NIFTY50"))
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(newOutput(&buf, false, false)).Render()
	assert.Empty(t, buf.String())
}

func TestRenderManifest(t *testing.T) {
	skipped := []models.SkipEntry{
		{Symbol: "INFY", Stage: models.StageFetch, Reason: models.ReasonDataUnavailable, Detail: "option chain: not in snapshot"},
		{Symbol: "TCS", Stage: models.StageFetch, Reason: models.ReasonDataUnavailable},
		{Symbol: "SBIN", CandidateID: "abc", Stage: models.StageFilter, Reason: models.ReasonFilterViolation},
	}

	var buf bytes.Buffer
	renderManifest(newOutput(&buf, false, false), skipped, false)
	assert.Contains(t, buf.String(), "Skipped (3)")
	assert.Contains(t, buf.String(), "DataUnavailable 2, FilterViolation 1")
	assert.NotContains(t, buf.String(), "not in snapshot")

	buf.Reset()
	renderManifest(newOutput(&buf, false, false), skipped, true)
	assert.Contains(t, buf.String(), "option chain: not in snapshot")

	buf.Reset()
	renderManifest(newOutput(&buf, false, false), nil, true)
	assert.Empty(t, buf.String())
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(newOutput(&buf, false, false), models.PortfolioSummary{
		TotalMargin:       300000,
		AvailableMargin:   700000,
		MarginUtilization: 0.3,
		SectorExposure:    map[string]float64{"IT": 0.25, "Banking": 0.75},
		RiskGroups:        map[string]int{"Low": 1, "Medium": 2},
		AverageRisk:       4.5,
		RiskLevel:         "Medium",
	})

	s := buf.String()
	assert.Contains(t, s, "₹3,00,000.00, available ₹7,00,000.00 (30.00%)")
	assert.Contains(t, s, "Medium (average 4.5)")
	assert.Contains(t, s, "Low 1, Medium 2, High 0")
	assert.NotContains(t, s, "alert threshold")
	assert.Less(t, strings.Index(s, "Banking"), strings.Index(s, "IT "))
}
