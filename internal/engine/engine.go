// Package engine is the single entry point for configuration access: it runs
// load cycles through the loader and registry and serves lookups from an
// atomically swapped snapshot, so readers never observe a half-built state.
package engine

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/zeromicro/go-zero/core/logx"
	"gopkg.in/yaml.v3"

	"tradeconf/internal/loader"
	"tradeconf/internal/registry"
	"tradeconf/pkg/confrule"
)

// DefaultRoot is used when no configuration directory is given.
const DefaultRoot = "config"

// NotFoundError reports a lookup miss against the active snapshot.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s config %q not found", e.Kind, e.Key)
}

// outcome captures the result of the most recent load cycle, successful or not.
type outcome struct {
	errs   []error
	report *confrule.Result
}

// Engine loads, validates and serves configuration snapshots. All getters are
// safe for concurrent use; load and reload cycles are serialized by a guard
// and a losing caller returns false immediately instead of queuing.
type Engine struct {
	root    string
	active  atomic.Pointer[registry.Snapshot]
	loading atomic.Bool
	last    atomic.Pointer[outcome]
}

// New returns an engine rooted at the given configuration directory. An empty
// root falls back to DefaultRoot.
func New(root string) *Engine {
	if root == "" {
		root = DefaultRoot
	}
	e := &Engine{root: root}
	e.last.Store(&outcome{report: &confrule.Result{}})
	return e
}

// Root returns the configuration directory the engine reads from.
func (e *Engine) Root() string { return e.root }

// LoadAllConfigs runs a full load cycle and installs the snapshot only when
// every fragment parsed, merged and validated cleanly. On failure the previous
// snapshot, if any, keeps serving.
func (e *Engine) LoadAllConfigs() bool {
	if !e.loading.CompareAndSwap(false, true) {
		logx.Info("engine: load cycle already in progress, rejecting")
		return false
	}
	defer e.loading.Store(false)
	return e.runCycle()
}

// ReloadConfigs rebuilds a candidate snapshot in isolation and swaps it in
// atomically on success. A concurrent reload is rejected, not queued.
func (e *Engine) ReloadConfigs() bool {
	if !e.loading.CompareAndSwap(false, true) {
		logx.Info("engine: reload already in progress, rejecting")
		return false
	}
	defer e.loading.Store(false)
	ok := e.runCycle()
	if !ok {
		logx.Errorf("engine: reload failed, keeping previous snapshot")
	}
	return ok
}

func (e *Engine) runCycle() bool {
	manifest, err := loader.New(e.root).LoadAll()
	if err != nil {
		e.last.Store(&outcome{errs: []error{err}, report: &confrule.Result{}})
		logx.Errorf("engine: load cycle aborted: %v", err)
		return false
	}
	snap, errs := registry.Build(manifest)
	e.last.Store(&outcome{errs: errs, report: snap.Report})
	if len(errs) > 0 || !snap.Report.OK() {
		logx.Errorf("engine: candidate rejected: %d merge failures, %d validation errors",
			len(errs), len(snap.Report.Errors))
		return false
	}
	e.active.Store(snap)
	logx.Infof("engine: snapshot installed: %d brokers, %d assets, %d strategies, %d risk profiles",
		len(snap.Brokers), len(snap.Assets), len(snap.Strategies), len(snap.Risk))
	return true
}

// WarmStart installs a previously exported snapshot so getters can serve
// before the first full load cycle completes. It refuses to install over an
// existing snapshot or when the cached report carries errors.
func (e *Engine) WarmStart(path string) bool {
	if e.active.Load() != nil {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logx.Errorf("engine: warm start: %v", err)
		return false
	}
	snap, err := registry.DecodeSnapshot(data)
	if err != nil {
		logx.Errorf("engine: warm start: %v", err)
		return false
	}
	if !snap.Report.OK() {
		logx.Errorf("engine: warm start: cached snapshot has %d validation errors", len(snap.Report.Errors))
		return false
	}
	if !e.active.CompareAndSwap(nil, snap) {
		return false
	}
	logx.Infof("engine: warm start from %s, snapshot built at %s", path, snap.BuiltAt)
	return true
}

// ValidateConfigs re-runs validation over the active snapshot without
// replacing it. Returns false when no snapshot is installed.
func (e *Engine) ValidateConfigs() bool {
	snap := e.active.Load()
	if snap == nil {
		return false
	}
	report := &confrule.Result{}
	for _, key := range sortedKeys(snap.Brokers) {
		report.Merge("broker/"+snap.Brokers[key].Name, confrule.Validate(snap.Brokers[key].Root, confrule.BrokerRules()))
	}
	for _, key := range sortedKeys(snap.Strategies) {
		report.Merge("strategy/"+key, confrule.Validate(snap.Strategies[key].Root, confrule.StrategyRules()))
	}
	for _, key := range sortedKeys(snap.Assets) {
		asset := snap.Assets[key]
		for _, strategy := range asset.Root.Keys() {
			effective, ok := asset.Effective[strategy]
			if !ok {
				continue
			}
			report.Merge(fmt.Sprintf("asset/%s/%s", key, strategy), confrule.Validate(effective, confrule.StrategyRules()))
		}
	}
	for _, key := range sortedKeys(snap.Risk) {
		report.Merge("risk/"+key, confrule.Validate(snap.Risk[key].Root, confrule.RiskRules()))
	}
	// Keep the previous cycle's errors visible; a health check must not
	// erase the detail of the last failed load.
	e.last.Store(&outcome{errs: e.last.Load().errs, report: report})
	return report.OK()
}

// Snapshot returns the active snapshot, or nil before the first successful load.
func (e *Engine) Snapshot() *registry.Snapshot {
	return e.active.Load()
}

// GetBrokerConfig looks up a broker by name, case-insensitively.
func (e *Engine) GetBrokerConfig(name string) (*registry.BrokerConfig, error) {
	snap := e.active.Load()
	if snap == nil {
		return nil, &NotFoundError{Kind: "broker", Key: name}
	}
	cfg, ok := snap.Brokers[strings.ToLower(name)]
	if !ok {
		return nil, &NotFoundError{Kind: "broker", Key: name}
	}
	return cfg, nil
}

// GetAssetConfig looks up an asset by market category and symbol.
func (e *Engine) GetAssetConfig(category, name string) (*registry.AssetConfig, error) {
	snap := e.active.Load()
	if snap == nil {
		return nil, &NotFoundError{Kind: "asset", Key: registry.AssetKey(category, name)}
	}
	cfg, ok := snap.Assets[registry.AssetKey(category, name)]
	if !ok {
		return nil, &NotFoundError{Kind: "asset", Key: registry.AssetKey(category, name)}
	}
	return cfg, nil
}

// GetStrategyConfig looks up a strategy template by market category and name.
func (e *Engine) GetStrategyConfig(category, name string) (*registry.StrategyConfig, error) {
	snap := e.active.Load()
	if snap == nil {
		return nil, &NotFoundError{Kind: "strategy", Key: registry.StrategyKey(category, name)}
	}
	cfg, ok := snap.Strategies[registry.StrategyKey(category, name)]
	if !ok {
		return nil, &NotFoundError{Kind: "strategy", Key: registry.StrategyKey(category, name)}
	}
	return cfg, nil
}

// GetRiskConfig looks up a risk profile by name.
func (e *Engine) GetRiskConfig(name string) (*registry.RiskConfig, error) {
	snap := e.active.Load()
	if snap == nil {
		return nil, &NotFoundError{Kind: "risk", Key: name}
	}
	cfg, ok := snap.Risk[name]
	if !ok {
		return nil, &NotFoundError{Kind: "risk", Key: name}
	}
	return cfg, nil
}

// Errors returns the failures of the most recent load cycle.
func (e *Engine) Errors() []error {
	return e.last.Load().errs
}

// Report returns the validation report of the most recent cycle.
func (e *Engine) Report() *confrule.Result {
	return e.last.Load().report
}

// Summary reports per-category counts for the active snapshot.
type Summary struct {
	Brokers    int
	Assets     int
	Strategies int
	Risk       int
	Warnings   int
	Loaded     bool
}

// GetSummary counts the active snapshot's contents.
func (e *Engine) GetSummary() Summary {
	snap := e.active.Load()
	if snap == nil {
		return Summary{}
	}
	return Summary{
		Brokers:    len(snap.Brokers),
		Assets:     len(snap.Assets),
		Strategies: len(snap.Strategies),
		Risk:       len(snap.Risk),
		Warnings:   len(snap.Report.Warnings),
		Loaded:     true,
	}
}

// ExportSnapshot writes the active snapshot as one YAML document, with every
// tree in its plain-value projection.
func (e *Engine) ExportSnapshot(w io.Writer) error {
	snap := e.active.Load()
	if snap == nil {
		return fmt.Errorf("engine: no snapshot to export")
	}
	doc := map[string]interface{}{
		"built_at":   snap.BuiltAt,
		"brokers":    map[string]interface{}{},
		"assets":     map[string]interface{}{},
		"strategies": map[string]interface{}{},
		"risk":       map[string]interface{}{},
	}
	brokers := doc["brokers"].(map[string]interface{})
	for key, cfg := range snap.Brokers {
		brokers[key] = cfg.Root.ToInterface()
	}
	assets := doc["assets"].(map[string]interface{})
	for key, cfg := range snap.Assets {
		assets[key] = cfg.Root.ToInterface()
	}
	strategies := doc["strategies"].(map[string]interface{})
	for key, cfg := range snap.Strategies {
		strategies[key] = cfg.Root.ToInterface()
	}
	risk := doc["risk"].(map[string]interface{})
	for key, cfg := range snap.Risk {
		risk[key] = cfg.Root.ToInterface()
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("engine: export snapshot: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
