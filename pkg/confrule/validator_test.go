package confrule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeconf/pkg/confnode"
)

func mustDecode(t *testing.T, doc string) *confnode.Node {
	t.Helper()
	n, err := confnode.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return n
}

const validStrategyDoc = `
strategy:
  name: prediction_force
  market: binary_options
  version: "2.1.0"
  enabled: true
  timeframe_base: 1
  general:
    description: generic template
  strategy_parameters:
    analysis:
      dominance_threshold: 82
    trade:
      amount_type: fixed
      fixed_amount: 10
      expiration: 1
    take_profit:
      type: rr_ratio
      rr_ratio: 2.0
      value_pips: null
    stop_loss:
      type: fixed
      value_pips: 25
    position_scaling:
      confidence_tiers:
        - threshold: 70
          multiplier: 1.0
        - threshold: 80
          multiplier: 1.5
        - threshold: 90
          multiplier: 2.0
`

func TestValidateStrategyOK(t *testing.T) {
	root := mustDecode(t, validStrategyDoc)
	result := Validate(root, StrategyRules())
	assert.True(t, result.OK(), "expected no errors, got %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateMissingRequired(t *testing.T) {
	root := mustDecode(t, `
strategy:
  name: prediction_force
  market: binary_options
`)
	result := Validate(root, StrategyRules())
	assert.False(t, result.OK())
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "strategy.version", result.Errors[0].Path)
	assert.Equal(t, CodeRequired, result.Errors[0].Code)
}

func TestValidateNullRequired(t *testing.T) {
	root := mustDecode(t, `
strategy:
  name: prediction_force
  market: null
  version: "1.0.0"
`)
	result := Validate(root, StrategyRules())
	assert.False(t, result.OK())
	assert.Equal(t, "strategy.market", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, "null")
}

func TestValidateAccumulatesAllViolations(t *testing.T) {
	root := mustDecode(t, `
strategy:
  enabled: "yes"
  timeframe_base: -5
  strategy_parameters:
    trade:
      amount_type: fixed
`)
	result := Validate(root, StrategyRules())
	assert.False(t, result.OK())

	var codes []Code
	for _, v := range result.Errors {
		codes = append(codes, v.Code)
	}
	// 3 missing required, bool mismatch, range violation, broken dependency.
	assert.Contains(t, codes, CodeRequired)
	assert.Contains(t, codes, CodeTypeMismatch)
	assert.Contains(t, codes, CodeOutOfRange)
	assert.Contains(t, codes, CodeDependency)
	assert.GreaterOrEqual(t, len(result.Errors), 6, "one pass collects everything: %v", result.Errors)
}

func TestValidateReproducibleOrder(t *testing.T) {
	root := mustDecode(t, "strategy:\n  enabled: 3\n")
	first := Validate(root, StrategyRules())
	second := Validate(root, StrategyRules())
	assert.Equal(t, first.Errors, second.Errors, "error order must be deterministic")
}

func TestValidateNullSuspendsOwnChecks(t *testing.T) {
	// take_profit.value_pips may legitimately be null under rr_ratio mode.
	root := mustDecode(t, validStrategyDoc)
	result := Validate(root, StrategyRules())
	for _, v := range result.Errors {
		assert.NotContains(t, v.Path, "value_pips", "null field must skip type/range checks")
	}
}

func TestValidateDependencySkippedWhenGoverningNull(t *testing.T) {
	root := mustDecode(t, `
strategy:
  name: s
  market: m
  version: "1"
  strategy_parameters:
    stop_loss:
      type: null
`)
	result := Validate(root, StrategyRules())
	assert.True(t, result.OK(), "null governing field suspends the dependency: %v", result.Errors)
}

func TestValidateDependencyAmountTypePercentage(t *testing.T) {
	root := mustDecode(t, `
strategy:
  name: s
  market: m
  version: "1"
  strategy_parameters:
    trade:
      amount_type: percentage
`)
	result := Validate(root, StrategyRules())
	assert.False(t, result.OK())
	found := false
	for _, v := range result.Errors {
		if v.Code == CodeDependency && v.Path == "strategy.strategy_parameters.trade.percentage" {
			found = true
		}
	}
	assert.True(t, found, "percentage must be required, got %v", result.Errors)
}

func TestValidateTierThresholdsMustIncrease(t *testing.T) {
	root := mustDecode(t, `
strategy:
  name: s
  market: m
  version: "1"
  strategy_parameters:
    position_scaling:
      confidence_tiers:
        - threshold: 80
          multiplier: 1.0
        - threshold: 75
          multiplier: 1.5
`)
	result := Validate(root, StrategyRules())
	assert.False(t, result.OK())
	v := result.Errors[0]
	assert.Equal(t, CodeConstraint, v.Code)
	assert.Contains(t, v.Path, "confidence_tiers[1].threshold")
	assert.Contains(t, v.Message, "strictly increasing")
}

func TestValidateTierMultiplierMustBePositive(t *testing.T) {
	root := mustDecode(t, `
strategy:
  name: s
  market: m
  version: "1"
  strategy_parameters:
    position_scaling:
      confidence_tiers:
        - threshold: 70
          multiplier: 0
`)
	result := Validate(root, StrategyRules())
	assert.False(t, result.OK())
	assert.Contains(t, result.Errors[0].Path, "multiplier")
}

func TestValidateUnresolvedPlaceholderIsWarning(t *testing.T) {
	root := mustDecode(t, `
strategy:
  name: s
  market: m
  version: "1"
  general:
    notes_url: ${DOCS_URL_NOT_SET}
`)
	result := Validate(root, StrategyRules())
	assert.True(t, result.OK(), "placeholder in optional field must not fail validation")
	assert.Len(t, result.Warnings, 1)
	assert.Equal(t, CodeUnresolvedEnv, result.Warnings[0].Code)
	assert.Equal(t, "strategy.general.notes_url", result.Warnings[0].Path)
}

func TestValidateBrokerRules(t *testing.T) {
	root := mustDecode(t, `
broker_settings:
  broker_name: IQOPTION
  broker_type: iqoption
  enabled: true
  execution_modes: [binary, digital]
auth:
  username: demo
  password: secret
connection:
  rate_limits:
    requests_per_second: 10
tick_normalizer:
  data_quality:
    min_quality_score: 0.8
    max_spread_percentage: 1.5
`)
	result := Validate(root, BrokerRules())
	assert.True(t, result.OK(), "errors: %v", result.Errors)

	bad := mustDecode(t, `
broker_settings:
  broker_name: IQOPTION
auth: {}
connection:
  rate_limits:
    requests_per_second: 0
tick_normalizer:
  data_quality:
    min_quality_score: 1.5
`)
	result = Validate(bad, BrokerRules())
	assert.False(t, result.OK())
	assert.Len(t, result.Errors, 2, "rps positive + quality score unit range: %v", result.Errors)
}

func TestValidateRiskRules(t *testing.T) {
	root := mustDecode(t, `
enabled: true
parameters:
  risk_per_trade_percent: 2
limits:
  max_daily_loss_percent: 5
  max_drawdown_percent: 15
  max_consecutive_losses: 4
`)
	result := Validate(root, RiskRules())
	assert.True(t, result.OK(), "errors: %v", result.Errors)

	missing := mustDecode(t, "limits:\n  max_daily_loss_percent: 300\n")
	result = Validate(missing, RiskRules())
	assert.False(t, result.OK())
	assert.Equal(t, "enabled", result.Errors[0].Path)
	assert.Equal(t, CodeRequired, result.Errors[0].Code)
	assert.Equal(t, "limits.max_daily_loss_percent", result.Errors[1].Path)
}

func TestResultMergeScopesPaths(t *testing.T) {
	outer := &Result{}
	inner := &Result{}
	inner.addError("enabled", CodeRequired, "required field is missing")
	inner.addWarning("notes", CodeUnresolvedEnv, "unresolved placeholder")
	outer.Merge("risk/conservative", inner)

	assert.Equal(t, "risk/conservative: enabled", outer.Errors[0].Path)
	assert.Equal(t, "risk/conservative: notes", outer.Warnings[0].Path)
	assert.False(t, outer.OK())
}
