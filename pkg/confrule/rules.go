// Package confrule declares validation rule sets for configuration trees and
// checks effective configurations against them, accumulating every violation
// instead of failing fast.
package confrule

// Type is the expected value type of a field.
type Type int

const (
	// TypeString expects a string scalar.
	TypeString Type = iota
	// TypeBool expects a boolean scalar.
	TypeBool
	// TypeNumber expects an integer or float scalar.
	TypeNumber
	// TypeMapping expects a nested mapping.
	TypeMapping
	// TypeSequence expects a list.
	TypeSequence
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeMapping:
		return "mapping"
	case TypeSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Range bounds a numeric field. Nil bounds are open; ExclusiveMin turns the
// lower bound strict (used for positive-only fields).
type Range struct {
	Min          *float64
	Max          *float64
	ExclusiveMin bool
}

func bound(v float64) *float64 { return &v }

// PercentRange constrains a value to [0, 100].
func PercentRange() Range {
	return Range{Min: bound(0), Max: bound(100)}
}

// UnitRange constrains a value to [0, 1].
func UnitRange() Range {
	return Range{Min: bound(0), Max: bound(1)}
}

// PositiveRange constrains a value to be strictly greater than zero.
func PositiveRange() Range {
	return Range{Min: bound(0), ExclusiveMin: true}
}

// Dependency is a cross-field rule: when the governing field holds the given
// scalar value, the dependent field must be present and non-null. The rule is
// skipped entirely while the governing field is absent or explicit-null.
type Dependency struct {
	If         string
	Equals     string
	Then       string
	ThenNumber bool
}

// TierRule constrains a sequence of tier mappings: thresholds strictly
// increasing, multipliers strictly positive.
type TierRule struct {
	Path          string
	ThresholdKey  string
	MultiplierKey string
}

// RuleSet is one category's schema: required paths, per-path types, numeric
// bounds, cross-field dependencies and tier constraints. Field ordering inside
// the set fixes the order of reported violations.
type RuleSet struct {
	Required     []string
	Types        []TypeRule
	Numbers      []NumberRule
	Dependencies []Dependency
	Tiers        []TierRule
}

// TypeRule pins a path to an expected type.
type TypeRule struct {
	Path string
	Type Type
}

// NumberRule pins a path to a numeric range.
type NumberRule struct {
	Path  string
	Range Range
}

// StrategyRules covers effective strategy configurations (template merged
// with an optional asset override).
func StrategyRules() RuleSet {
	return RuleSet{
		Required: []string{
			"strategy.name",
			"strategy.market",
			"strategy.version",
		},
		Types: []TypeRule{
			{Path: "strategy.name", Type: TypeString},
			{Path: "strategy.market", Type: TypeString},
			{Path: "strategy.version", Type: TypeString},
			{Path: "strategy.enabled", Type: TypeBool},
			{Path: "strategy.general", Type: TypeMapping},
			{Path: "strategy.timeframe_base", Type: TypeNumber},
			{Path: "strategy.strategy_parameters", Type: TypeMapping},
			{Path: "strategy.strategy_parameters.trade.amount_type", Type: TypeString},
			{Path: "strategy.asset_config", Type: TypeMapping},
			{Path: "strategy.asset_config.digits", Type: TypeNumber},
			{Path: "strategy.asset_config.truncate", Type: TypeBool},
		},
		Numbers: []NumberRule{
			{Path: "strategy.timeframe_base", Range: PositiveRange()},
			{Path: "strategy.strategy_parameters.analysis.dominance_threshold", Range: PercentRange()},
			{Path: "strategy.strategy_parameters.trade.percentage", Range: PercentRange()},
			{Path: "strategy.strategy_parameters.trade.fixed_amount", Range: PositiveRange()},
			{Path: "strategy.strategy_parameters.trade.expiration", Range: PositiveRange()},
			{Path: "strategy.asset_config.digits", Range: PositiveRange()},
			{Path: "strategy.asset_config.tolerance", Range: PositiveRange()},
		},
		Dependencies: []Dependency{
			{If: "strategy.strategy_parameters.trade.amount_type", Equals: "fixed", Then: "strategy.strategy_parameters.trade.fixed_amount", ThenNumber: true},
			{If: "strategy.strategy_parameters.trade.amount_type", Equals: "percentage", Then: "strategy.strategy_parameters.trade.percentage"},
			{If: "strategy.strategy_parameters.take_profit.type", Equals: "rr_ratio", Then: "strategy.strategy_parameters.take_profit.rr_ratio"},
			{If: "strategy.strategy_parameters.stop_loss.type", Equals: "fixed", Then: "strategy.strategy_parameters.stop_loss.value_pips"},
		},
		Tiers: []TierRule{
			{
				Path:          "strategy.strategy_parameters.position_scaling.confidence_tiers",
				ThresholdKey:  "threshold",
				MultiplierKey: "multiplier",
			},
		},
	}
}

// BrokerRules covers broker definition fragments.
func BrokerRules() RuleSet {
	return RuleSet{
		Required: []string{
			"broker_settings",
			"broker_settings.broker_name",
			"auth",
			"connection",
		},
		Types: []TypeRule{
			{Path: "broker_settings", Type: TypeMapping},
			{Path: "broker_settings.broker_name", Type: TypeString},
			{Path: "broker_settings.broker_type", Type: TypeString},
			{Path: "broker_settings.enabled", Type: TypeBool},
			{Path: "broker_settings.execution_modes", Type: TypeSequence},
			{Path: "auth", Type: TypeMapping},
			{Path: "connection", Type: TypeMapping},
			{Path: "active_symbols", Type: TypeMapping},
			{Path: "tick_normalizer", Type: TypeMapping},
		},
		Numbers: []NumberRule{
			{Path: "connection.rate_limits.requests_per_second", Range: PositiveRange()},
			{Path: "connection.timeout_seconds", Range: PositiveRange()},
			{Path: "tick_normalizer.data_quality.min_quality_score", Range: UnitRange()},
			{Path: "tick_normalizer.data_quality.max_spread_percentage", Range: PositiveRange()},
			{Path: "tick_normalizer.latency_compensation.fixed_latency_ms", Range: PositiveRange()},
		},
	}
}

// RiskRules covers standalone risk-management profiles. Risk profiles do not
// participate in the template/override merge.
func RiskRules() RuleSet {
	return RuleSet{
		Required: []string{"enabled"},
		Types: []TypeRule{
			{Path: "enabled", Type: TypeBool},
			{Path: "parameters", Type: TypeMapping},
			{Path: "limits", Type: TypeMapping},
			{Path: "thresholds", Type: TypeMapping},
		},
		Numbers: []NumberRule{
			{Path: "parameters.risk_per_trade_percent", Range: PercentRange()},
			{Path: "limits.max_daily_loss_percent", Range: PercentRange()},
			{Path: "limits.max_drawdown_percent", Range: PercentRange()},
			{Path: "limits.max_consecutive_losses", Range: PositiveRange()},
			{Path: "thresholds.min_win_rate_percent", Range: PercentRange()},
		},
	}
}

// AssetOverrideRules covers the standalone shape checks applied to asset
// override fragments before they are merged into a template.
func AssetOverrideRules() RuleSet {
	return RuleSet{
		Types: []TypeRule{
			{Path: "general", Type: TypeMapping},
			{Path: "asset_config", Type: TypeMapping},
			{Path: "asset_config.digits", Type: TypeNumber},
			{Path: "asset_config.truncate", Type: TypeBool},
			{Path: "strategy_parameters", Type: TypeMapping},
		},
		Numbers: []NumberRule{
			{Path: "asset_config.digits", Range: PositiveRange()},
			{Path: "asset_config.tolerance", Range: PositiveRange()},
		},
	}
}
