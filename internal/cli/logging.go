package cli

import (
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeconf/internal/config"
	"tradeconf/internal/engine"
	"tradeconf/pkg/confrule"
)

// ConfigSummaryLines returns human readable lines describing the engine state.
func ConfigSummaryLines(cfg *config.Config, sum engine.Summary) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Config root: %s", cfg.ResolvedRoot()),
		fmt.Sprintf("Postgres archive: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Snapshot cache: %s", presence(cfg.ResolvedCacheFile() != "")),
	}
	if !sum.Loaded {
		return append(lines, "Snapshot: none installed")
	}
	return append(lines,
		fmt.Sprintf("Brokers: %d", sum.Brokers),
		fmt.Sprintf("Assets: %d", sum.Assets),
		fmt.Sprintf("Strategies: %d", sum.Strategies),
		fmt.Sprintf("Risk profiles: %d", sum.Risk),
		fmt.Sprintf("Warnings: %d", sum.Warnings),
	)
}

// ReportLines flattens a validation report into printable lines, errors first.
func ReportLines(report *confrule.Result) []string {
	if report == nil {
		return nil
	}
	lines := make([]string, 0, len(report.Errors)+len(report.Warnings))
	for _, v := range report.Errors {
		lines = append(lines, fmt.Sprintf("ERROR %s", v))
	}
	for _, v := range report.Warnings {
		lines = append(lines, fmt.Sprintf("WARN  %s", v))
	}
	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config, sum engine.Summary) {
	lines := ConfigSummaryLines(cfg, sum)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

// LogReport emits every violation of the report using logx.
func LogReport(report *confrule.Result) {
	for _, v := range report.Errors {
		logx.Errorf("config • %s", v)
	}
	for _, v := range report.Warnings {
		logx.Infof("config • warning: %s", v)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
