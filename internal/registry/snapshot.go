// Package registry builds immutable configuration snapshots: every fragment
// merged, projected into typed views and validated as one unit. A snapshot is
// never modified after Build returns; callers swap whole snapshots.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tradeconf/internal/loader"
	"tradeconf/pkg/confnode"
	"tradeconf/pkg/confrule"
)

// BrokerConfig is the typed view over one broker definition.
type BrokerConfig struct {
	Name           string
	Type           string
	Enabled        bool
	ExecutionModes []string
	Auth           *confnode.Node
	Connection     *confnode.Node
	ActiveSymbols  *confnode.Node
	TickNormalizer *confnode.Node
	Root           *confnode.Node
}

// AssetConfig is the typed view over one asset override file. The file's
// top-level keys are strategy names; Overrides holds each strategy's override
// tree and Effective the fully merged configuration per strategy.
type AssetConfig struct {
	Symbol      string
	Market      string
	Broker      string
	Subcategory string
	Digits      int64
	Tolerance   float64
	Truncate    bool
	Enabled     bool
	Overrides   map[string]*confnode.Node
	Effective   map[string]*confnode.Node
	Root        *confnode.Node
}

// StrategyConfig is the typed view over one strategy template after
// market-wide defaults were merged in.
type StrategyConfig struct {
	Name       string
	Market     string
	Version    string
	Enabled    bool
	Parameters *confnode.Node
	Root       *confnode.Node
}

// RiskConfig is the typed view over one risk-management profile.
type RiskConfig struct {
	Name       string
	Enabled    bool
	Parameters *confnode.Node
	Limits     *confnode.Node
	Thresholds *confnode.Node
	Root       *confnode.Node
}

// Snapshot is one consistent, fully validated configuration universe.
type Snapshot struct {
	Brokers    map[string]*BrokerConfig // lowercase broker name
	Assets     map[string]*AssetConfig  // market "/" symbol
	Strategies map[string]*StrategyConfig
	Risk       map[string]*RiskConfig
	Report     *confrule.Result
	BuiltAt    time.Time
}

// AssetKey builds the lookup key for GetAssetConfig-style access.
func AssetKey(market, symbol string) string {
	return market + "/" + symbol
}

// StrategyKey builds the lookup key for GetStrategyConfig-style access.
func StrategyKey(market, name string) string {
	return market + "/" + name
}

// Build merges and validates a manifest into a candidate snapshot. Merge
// failures on individual asset and strategy pairs are collected, not
// fail-fast; the caller installs the snapshot only when the error list is
// empty and the report has no errors.
func Build(m *loader.Manifest) (*Snapshot, []error) {
	snap := &Snapshot{
		Brokers:    make(map[string]*BrokerConfig),
		Assets:     make(map[string]*AssetConfig),
		Strategies: make(map[string]*StrategyConfig),
		Risk:       make(map[string]*RiskConfig),
		Report:     &confrule.Result{},
		BuiltAt:    time.Now().UTC(),
	}
	var errs []error

	for _, frag := range m.Brokers {
		cfg := projectBroker(frag)
		snap.Brokers[strings.ToLower(cfg.Name)] = cfg
		snap.Report.Merge("broker/"+cfg.Name, confrule.Validate(frag.Root, confrule.BrokerRules()))
	}

	for _, frag := range m.Risk {
		cfg := projectRisk(frag)
		snap.Risk[cfg.Name] = cfg
		snap.Report.Merge("risk/"+cfg.Name, confrule.Validate(frag.Root, confrule.RiskRules()))
	}

	// Strategy templates pick up their market's defaults before anything else
	// merges on top.
	templates := make(map[string]*confnode.Node)
	for _, frag := range m.Templates {
		root := frag.Root
		if defaults, ok := m.MarketDefaults[frag.Coords.Market]; ok {
			merged, err := confnode.Merge(defaults, root)
			if err != nil {
				errs = append(errs, fmt.Errorf("strategy %s/%s: %w", frag.Coords.Market, frag.Coords.Strategy, err))
				continue
			}
			root = merged
		}
		cfg := projectStrategy(frag, root)
		key := StrategyKey(frag.Coords.Market, frag.Coords.Strategy)
		snap.Strategies[key] = cfg
		templates[key] = root
		snap.Report.Merge("strategy/"+key, confrule.Validate(root, confrule.StrategyRules()))
	}

	for _, frag := range m.Assets {
		key := AssetKey(frag.Coords.Market, frag.Coords.Symbol)
		if prev, ok := snap.Assets[key]; ok {
			// Asset lookups are keyed by (market, symbol); a second file for
			// the same symbol under another broker or subcategory would evict
			// this one silently, so the build rejects it instead.
			snap.Report.Errors = append(snap.Report.Errors, confrule.Violation{
				Path: "asset/" + key,
				Code: confrule.CodeConstraint,
				Message: fmt.Sprintf("symbol configured twice: %s/%s and %s/%s both define it",
					prev.Broker, prev.Subcategory, frag.Coords.Broker, frag.Coords.Subcategory),
			})
			continue
		}
		cfg, assetErrs := projectAsset(frag, templates, snap.Report)
		errs = append(errs, assetErrs...)
		snap.Assets[key] = cfg
	}

	crossValidate(snap)

	return snap, errs
}

func projectBroker(frag loader.Fragment) *BrokerConfig {
	return projectBrokerTree(frag.Coords.Name, frag.Root)
}

func projectRisk(frag loader.Fragment) *RiskConfig {
	cfg := &RiskConfig{Name: frag.Coords.Name, Root: frag.Root}
	if node, ok := frag.Root.Child("enabled"); ok {
		cfg.Enabled, _ = node.BoolVal()
	}
	cfg.Parameters, _ = frag.Root.Child("parameters")
	cfg.Limits, _ = frag.Root.Child("limits")
	cfg.Thresholds, _ = frag.Root.Child("thresholds")
	return cfg
}

func projectStrategy(frag loader.Fragment, root *confnode.Node) *StrategyConfig {
	cfg := &StrategyConfig{Name: frag.Coords.Strategy, Market: frag.Coords.Market, Root: root}
	if node, ok := root.At("strategy", "version"); ok {
		cfg.Version, _ = node.StringVal()
	}
	if node, ok := root.At("strategy", "enabled"); ok {
		cfg.Enabled, _ = node.BoolVal()
	}
	cfg.Parameters, _ = root.At("strategy", "strategy_parameters")
	return cfg
}

// projectAsset merges each strategy override in the file against its template
// and validates the merged result. A merge failure on one strategy does not
// stop the remaining strategies in the same file.
func projectAsset(frag loader.Fragment, templates map[string]*confnode.Node, report *confrule.Result) (*AssetConfig, []error) {
	cfg := &AssetConfig{
		Symbol:      frag.Coords.Symbol,
		Market:      frag.Coords.Market,
		Broker:      frag.Coords.Broker,
		Subcategory: frag.Coords.Subcategory,
		Enabled:     true,
		Overrides:   make(map[string]*confnode.Node),
		Effective:   make(map[string]*confnode.Node),
		Root:        frag.Root,
	}
	var errs []error
	scope := fmt.Sprintf("asset/%s/%s", frag.Coords.Market, frag.Coords.Symbol)

	for _, strategy := range frag.Root.Keys() {
		override, _ := frag.Root.Child(strategy)
		cfg.Overrides[strategy] = override
		report.Merge(scope+"/"+strategy, confrule.Validate(override, confrule.AssetOverrideRules()))

		template, ok := templates[StrategyKey(frag.Coords.Market, strategy)]
		if !ok {
			report.Merge(scope, unknownStrategyResult(strategy))
			continue
		}
		inner, _ := template.Child("strategy")
		merged, err := confnode.Merge(inner, override)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s strategy %s: %w", scope, strategy, err))
			continue
		}
		effective := confnode.Mapping().Set("strategy", merged)
		cfg.Effective[strategy] = effective
		report.Merge(scope+"/"+strategy, confrule.Validate(effective, confrule.StrategyRules()))
	}

	projectAssetFields(cfg)
	return cfg, errs
}

// projectAssetFields lifts asset_config scalars out of the first override in
// document order. Files share one asset_config across strategies in practice.
func projectAssetFields(cfg *AssetConfig) {
	for _, strategy := range cfg.Root.Keys() {
		override, _ := cfg.Root.Child(strategy)
		assetConf, ok := override.Child("asset_config")
		if !ok {
			continue
		}
		if node, ok := assetConf.Child("digits"); ok {
			cfg.Digits, _ = node.IntVal()
		}
		if node, ok := assetConf.Child("tolerance"); ok {
			cfg.Tolerance, _ = node.FloatVal()
		}
		if node, ok := assetConf.Child("truncate"); ok {
			cfg.Truncate, _ = node.BoolVal()
		}
		if node, ok := assetConf.Child("enabled"); ok {
			cfg.Enabled, _ = node.BoolVal()
		}
		return
	}
}

func unknownStrategyResult(strategy string) *confrule.Result {
	r := &confrule.Result{}
	r.Errors = append(r.Errors, confrule.Violation{
		Path:    strategy,
		Code:    confrule.CodeDependency,
		Message: fmt.Sprintf("override targets strategy %q but no template with that name exists for this market", strategy),
	})
	return r
}

// crossValidate checks every broker's active_symbols against the discovered
// asset files. A broker trading a symbol nobody configured is an error on the
// candidate snapshot.
func crossValidate(snap *Snapshot) {
	// Asset directories name their broker; the match against the declared
	// broker_settings.broker_name is case-insensitive on both sides.
	assetsByBroker := make(map[string]bool)
	for _, asset := range snap.Assets {
		key := fmt.Sprintf("%s/%s/%s", strings.ToLower(asset.Broker), asset.Subcategory, asset.Symbol)
		assetsByBroker[key] = asset.Enabled
	}

	names := make([]string, 0, len(snap.Brokers))
	for name := range snap.Brokers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		broker := snap.Brokers[name]
		if broker.ActiveSymbols == nil {
			continue
		}
		for _, category := range broker.ActiveSymbols.Keys() {
			group, _ := broker.ActiveSymbols.Child(category)
			if group.Kind() != confnode.KindMapping {
				continue
			}
			if enabled, ok := group.Child("enabled"); ok {
				if b, _ := enabled.BoolVal(); !b {
					continue
				}
			}
			active, ok := group.Child("active_assets")
			if !ok {
				continue
			}
			for _, item := range active.Items() {
				symbol, ok := item.StringVal()
				if !ok {
					continue
				}
				key := fmt.Sprintf("%s/%s/%s", name, category, symbol)
				enabled, exists := assetsByBroker[key]
				switch {
				case !exists:
					snap.Report.Errors = append(snap.Report.Errors, confrule.Violation{
						Path:    fmt.Sprintf("broker/%s: active_symbols.%s", broker.Name, category),
						Code:    confrule.CodeDependency,
						Message: fmt.Sprintf("active asset %q has no configuration file", symbol),
					})
				case !enabled:
					snap.Report.Warnings = append(snap.Report.Warnings, confrule.Violation{
						Path:    fmt.Sprintf("broker/%s: active_symbols.%s", broker.Name, category),
						Code:    confrule.CodeDependency,
						Message: fmt.Sprintf("active asset %q is configured but disabled", symbol),
					})
				}
			}
		}
	}
}
