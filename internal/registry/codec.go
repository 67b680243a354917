package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"tradeconf/pkg/confnode"
	"tradeconf/pkg/confrule"
)

// snapshotWire is the portable encoding of a snapshot. Trees travel as plain
// interface values; typed views are rebuilt on decode so the two sides never
// drift.
type snapshotWire struct {
	Version    int                    `msgpack:"version"`
	BuiltAt    time.Time              `msgpack:"built_at"`
	Brokers    map[string]treeWire    `msgpack:"brokers"`
	Assets     map[string]assetWire   `msgpack:"assets"`
	Strategies map[string]treeWire    `msgpack:"strategies"`
	Risk       map[string]treeWire    `msgpack:"risk"`
	Errors     []confrule.Violation   `msgpack:"errors"`
	Warnings   []confrule.Violation   `msgpack:"warnings"`
}

type treeWire struct {
	Name string      `msgpack:"name"`
	Tree interface{} `msgpack:"tree"`
}

type assetWire struct {
	Symbol      string                 `msgpack:"symbol"`
	Market      string                 `msgpack:"market"`
	Broker      string                 `msgpack:"broker"`
	Subcategory string                 `msgpack:"subcategory"`
	Tree        interface{}            `msgpack:"tree"`
	Effective   map[string]interface{} `msgpack:"effective"`
}

const wireVersion = 1

// EncodeSnapshot serializes a snapshot for export or warm-start caching.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	wire := snapshotWire{
		Version:    wireVersion,
		BuiltAt:    snap.BuiltAt,
		Brokers:    make(map[string]treeWire, len(snap.Brokers)),
		Assets:     make(map[string]assetWire, len(snap.Assets)),
		Strategies: make(map[string]treeWire, len(snap.Strategies)),
		Risk:       make(map[string]treeWire, len(snap.Risk)),
		Errors:     snap.Report.Errors,
		Warnings:   snap.Report.Warnings,
	}
	for key, broker := range snap.Brokers {
		wire.Brokers[key] = treeWire{Name: broker.Name, Tree: broker.Root.ToInterface()}
	}
	for key, asset := range snap.Assets {
		aw := assetWire{
			Symbol:      asset.Symbol,
			Market:      asset.Market,
			Broker:      asset.Broker,
			Subcategory: asset.Subcategory,
			Tree:        asset.Root.ToInterface(),
			Effective:   make(map[string]interface{}, len(asset.Effective)),
		}
		for strategy, tree := range asset.Effective {
			aw.Effective[strategy] = tree.ToInterface()
		}
		wire.Assets[key] = aw
	}
	for key, strategy := range snap.Strategies {
		wire.Strategies[key] = treeWire{Name: strategy.Name, Tree: strategy.Root.ToInterface()}
	}
	for key, risk := range snap.Risk {
		wire.Risk[key] = treeWire{Name: risk.Name, Tree: risk.Root.ToInterface()}
	}
	data, err := msgpack.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("registry: encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot rebuilds a snapshot from its wire form.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var wire snapshotWire
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("registry: decode snapshot: %w", err)
	}
	if wire.Version != wireVersion {
		return nil, fmt.Errorf("registry: unsupported snapshot version %d", wire.Version)
	}
	snap := &Snapshot{
		Brokers:    make(map[string]*BrokerConfig, len(wire.Brokers)),
		Assets:     make(map[string]*AssetConfig, len(wire.Assets)),
		Strategies: make(map[string]*StrategyConfig, len(wire.Strategies)),
		Risk:       make(map[string]*RiskConfig, len(wire.Risk)),
		Report:     &confrule.Result{Errors: wire.Errors, Warnings: wire.Warnings},
		BuiltAt:    wire.BuiltAt,
	}
	for key, tw := range wire.Brokers {
		root := confnode.FromInterface(normalizeWire(tw.Tree))
		cfg := projectBrokerTree(tw.Name, root)
		snap.Brokers[key] = cfg
	}
	for key, aw := range wire.Assets {
		cfg := &AssetConfig{
			Symbol:      aw.Symbol,
			Market:      aw.Market,
			Broker:      aw.Broker,
			Subcategory: aw.Subcategory,
			Enabled:     true,
			Overrides:   make(map[string]*confnode.Node),
			Effective:   make(map[string]*confnode.Node, len(aw.Effective)),
			Root:        confnode.FromInterface(normalizeWire(aw.Tree)),
		}
		for _, strategy := range cfg.Root.Keys() {
			override, _ := cfg.Root.Child(strategy)
			cfg.Overrides[strategy] = override
		}
		for strategy, tree := range aw.Effective {
			cfg.Effective[strategy] = confnode.FromInterface(normalizeWire(tree))
		}
		projectAssetFields(cfg)
		snap.Assets[key] = cfg
	}
	for key, tw := range wire.Strategies {
		root := confnode.FromInterface(normalizeWire(tw.Tree))
		cfg := &StrategyConfig{Name: tw.Name, Root: root}
		if slash := strings.IndexByte(key, '/'); slash >= 0 {
			cfg.Market = key[:slash]
		}
		if node, ok := root.At("strategy", "version"); ok {
			cfg.Version, _ = node.StringVal()
		}
		if node, ok := root.At("strategy", "enabled"); ok {
			cfg.Enabled, _ = node.BoolVal()
		}
		cfg.Parameters, _ = root.At("strategy", "strategy_parameters")
		snap.Strategies[key] = cfg
	}
	for key, tw := range wire.Risk {
		root := confnode.FromInterface(normalizeWire(tw.Tree))
		cfg := &RiskConfig{Name: tw.Name, Root: root}
		if node, ok := root.Child("enabled"); ok {
			cfg.Enabled, _ = node.BoolVal()
		}
		cfg.Parameters, _ = root.Child("parameters")
		cfg.Limits, _ = root.Child("limits")
		cfg.Thresholds, _ = root.Child("thresholds")
		snap.Risk[key] = cfg
	}
	return snap, nil
}

func projectBrokerTree(name string, root *confnode.Node) *BrokerConfig {
	cfg := &BrokerConfig{Name: name, Root: root}
	if node, ok := root.At("broker_settings", "broker_type"); ok {
		cfg.Type, _ = node.StringVal()
	}
	if node, ok := root.At("broker_settings", "enabled"); ok {
		cfg.Enabled, _ = node.BoolVal()
	}
	if node, ok := root.At("broker_settings", "execution_modes"); ok {
		for _, item := range node.Items() {
			if s, ok := item.StringVal(); ok {
				cfg.ExecutionModes = append(cfg.ExecutionModes, s)
			}
		}
	}
	cfg.Auth, _ = root.Child("auth")
	cfg.Connection, _ = root.Child("connection")
	cfg.ActiveSymbols, _ = root.Child("active_symbols")
	cfg.TickNormalizer, _ = root.Child("tick_normalizer")
	return cfg
}

// normalizeWire rewrites msgpack's map[interface{}]interface{} decoding into
// the map[string]interface{} shape FromInterface expects.
func normalizeWire(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for key, val := range t {
			out[key] = normalizeWire(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for key, val := range t {
			out[fmt.Sprintf("%v", key)] = normalizeWire(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeWire(item)
		}
		return out
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
