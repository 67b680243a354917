package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeconf/internal/config"
	"tradeconf/internal/engine"
	"tradeconf/pkg/confrule"
)

func TestConfigSummaryLinesNil(t *testing.T) {
	lines := ConfigSummaryLines(nil, engine.Summary{})
	assert.Equal(t, []string{"Configuration: <nil>"}, lines)
}

func TestConfigSummaryLinesNoSnapshot(t *testing.T) {
	cfg := &config.Config{Env: "dev", ConfigRoot: "config"}
	lines := ConfigSummaryLines(cfg, engine.Summary{})
	assert.Contains(t, lines, "Environment: dev")
	assert.Contains(t, lines, "Postgres archive: not configured")
	assert.Contains(t, lines, "Snapshot: none installed")
}

func TestConfigSummaryLinesLoaded(t *testing.T) {
	cfg := &config.Config{Env: "prod", ConfigRoot: "config"}
	sum := engine.Summary{Loaded: true, Brokers: 2, Assets: 5, Strategies: 3, Risk: 1, Warnings: 4}
	lines := ConfigSummaryLines(cfg, sum)
	assert.Contains(t, lines, "Brokers: 2")
	assert.Contains(t, lines, "Assets: 5")
	assert.Contains(t, lines, "Strategies: 3")
	assert.Contains(t, lines, "Risk profiles: 1")
	assert.Contains(t, lines, "Warnings: 4")
}

func TestReportLinesOrdersErrorsFirst(t *testing.T) {
	report := &confrule.Result{
		Errors: []confrule.Violation{
			{Path: "strategy.version", Code: confrule.CodeRequired, Message: "required field is missing"},
		},
		Warnings: []confrule.Violation{
			{Path: "general.notes", Code: confrule.CodeUnresolvedEnv, Message: "unresolved placeholder"},
		},
	}
	lines := ReportLines(report)
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ERROR strategy.version")
	assert.Contains(t, lines[1], "WARN  general.notes")

	assert.Nil(t, ReportLines(nil))
}
