package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeconf/internal/registry"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

const brokerDoc = `
broker_settings:
  broker_name: IQOPTION
  broker_type: iqoption
  enabled: true
auth:
  username: demo
  password: secret
connection:
  rate_limits:
    requests_per_second: 10
active_symbols:
  forex:
    enabled: true
    active_assets: [EURUSD]
`

const templateDoc = `
strategy:
  name: prediction_force
  market: binary_options
  version: "2.1.0"
  enabled: true
  strategy_parameters:
    analysis:
      dominance_threshold: 82
    trade:
      amount_type: fixed
      fixed_amount: 10
`

const overrideDoc = `
prediction_force:
  asset_config:
    digits: 5
  strategy_parameters:
    analysis:
      dominance_threshold: 85
`

func fixtureRoot(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, root, "brokers/iqoption.yaml", brokerDoc)
	writeFile(t, root, "strategies/binary_options/prediction_force.yaml", templateDoc)
	writeFile(t, root, "assets/binary_options/iqoption/forex/EURUSD.yaml", overrideDoc)
	writeFile(t, root, "risk_management/conservative.yaml", "enabled: true\n")
	return root
}

func TestNewDefaultsRoot(t *testing.T) {
	assert.Equal(t, DefaultRoot, New("").Root())
	assert.Equal(t, "/tmp/custom", New("/tmp/custom").Root())
}

func TestLoadAllConfigsAndGetters(t *testing.T) {
	e := New(fixtureRoot(t))
	assert.True(t, e.LoadAllConfigs(), "errors: %v, report: %v", e.Errors(), e.Report().Errors)

	broker, err := e.GetBrokerConfig("IQOPTION")
	assert.NoError(t, err)
	assert.Equal(t, "iqoption", broker.Type)

	// Lookup is case-insensitive.
	_, err = e.GetBrokerConfig("iqoption")
	assert.NoError(t, err)

	asset, err := e.GetAssetConfig("binary_options", "EURUSD")
	assert.NoError(t, err)
	assert.Equal(t, int64(5), asset.Digits)

	strategy, err := e.GetStrategyConfig("binary_options", "prediction_force")
	assert.NoError(t, err)
	assert.Equal(t, "2.1.0", strategy.Version)

	risk, err := e.GetRiskConfig("conservative")
	assert.NoError(t, err)
	assert.True(t, risk.Enabled)
}

func TestGettersBeforeFirstLoad(t *testing.T) {
	e := New(fixtureRoot(t))
	_, err := e.GetBrokerConfig("IQOPTION")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "broker", notFound.Kind)
}

func TestGetterMissReturnsNotFound(t *testing.T) {
	e := New(fixtureRoot(t))
	assert.True(t, e.LoadAllConfigs())

	_, err := e.GetAssetConfig("binary_options", "USDJPY")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "asset", notFound.Kind)
	assert.Equal(t, "binary_options/USDJPY", notFound.Key)
}

func TestLoadFailureInstallsNothing(t *testing.T) {
	root := fixtureRoot(t)
	writeFile(t, root, "brokers/broken.yaml", "broker_settings: [unclosed\n")

	e := New(root)
	assert.False(t, e.LoadAllConfigs())
	assert.NotEmpty(t, e.Errors())
	assert.Nil(t, e.Snapshot(), "partial state must never become visible")
}

func TestReloadPicksUpChanges(t *testing.T) {
	root := fixtureRoot(t)
	e := New(root)
	assert.True(t, e.LoadAllConfigs())

	writeFile(t, root, "assets/binary_options/iqoption/forex/EURUSD.yaml", `
prediction_force:
  asset_config:
    digits: 3
  strategy_parameters:
    analysis:
      dominance_threshold: 90
`)
	assert.True(t, e.ReloadConfigs())

	asset, err := e.GetAssetConfig("binary_options", "EURUSD")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), asset.Digits)

	node, ok := asset.Effective["prediction_force"].Lookup("strategy.strategy_parameters.analysis.dominance_threshold")
	assert.True(t, ok)
	v, _ := node.IntVal()
	assert.Equal(t, int64(90), v)
}

func TestFailedReloadKeepsServingOldSnapshot(t *testing.T) {
	root := fixtureRoot(t)
	e := New(root)
	assert.True(t, e.LoadAllConfigs())

	// Template goes invalid on disk; the active snapshot must not notice.
	writeFile(t, root, "strategies/binary_options/prediction_force.yaml", `
strategy:
  name: prediction_force
  market: binary_options
`)
	assert.False(t, e.ReloadConfigs(), "missing strategy.version must reject the candidate")
	assert.False(t, e.Report().OK())

	strategy, err := e.GetStrategyConfig("binary_options", "prediction_force")
	assert.NoError(t, err)
	assert.Equal(t, "2.1.0", strategy.Version, "last-known-good keeps serving")
}

func TestLoadRejectsSameSymbolFromTwoBrokers(t *testing.T) {
	root := fixtureRoot(t)
	writeFile(t, root, "assets/binary_options/otherbroker/forex/EURUSD.yaml", `
prediction_force:
  asset_config:
    digits: 2
`)

	e := New(root)
	assert.False(t, e.LoadAllConfigs(), "two files for one symbol must not load silently")
	assert.False(t, e.Report().OK())
	assert.Nil(t, e.Snapshot())
}

func TestValidateConfigsKeepsLastCycleErrors(t *testing.T) {
	root := fixtureRoot(t)
	e := New(root)
	assert.True(t, e.LoadAllConfigs())

	writeFile(t, root, "brokers/broken.yaml", "broker_settings: [unclosed\n")
	assert.False(t, e.ReloadConfigs())
	assert.NotEmpty(t, e.Errors())

	assert.True(t, e.ValidateConfigs(), "active snapshot is still healthy")
	assert.NotEmpty(t, e.Errors(), "a health check must not erase the failed reload's errors")
}

func TestConcurrentReloadRejected(t *testing.T) {
	e := New(fixtureRoot(t))
	assert.True(t, e.LoadAllConfigs())

	e.loading.Store(true)
	assert.False(t, e.ReloadConfigs(), "reload while another cycle runs must be rejected")
	e.loading.Store(false)

	assert.True(t, e.ReloadConfigs())
}

func TestValidateConfigs(t *testing.T) {
	e := New(fixtureRoot(t))
	assert.False(t, e.ValidateConfigs(), "nothing to validate before the first load")

	assert.True(t, e.LoadAllConfigs())
	assert.True(t, e.ValidateConfigs())
	assert.True(t, e.Report().OK())
}

func TestGetSummary(t *testing.T) {
	e := New(fixtureRoot(t))
	assert.Equal(t, Summary{}, e.GetSummary())

	assert.True(t, e.LoadAllConfigs())
	s := e.GetSummary()
	assert.True(t, s.Loaded)
	assert.Equal(t, 1, s.Brokers)
	assert.Equal(t, 1, s.Assets)
	assert.Equal(t, 1, s.Strategies)
	assert.Equal(t, 1, s.Risk)
}

func TestWarmStartFromCache(t *testing.T) {
	root := fixtureRoot(t)
	e := New(root)
	assert.True(t, e.LoadAllConfigs())

	cache := filepath.Join(t.TempDir(), "snapshot.msgpack")
	data, err := registry.EncodeSnapshot(e.Snapshot())
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(cache, data, 0o600))

	fresh := New(root)
	assert.True(t, fresh.WarmStart(cache))

	strategy, err := fresh.GetStrategyConfig("binary_options", "prediction_force")
	assert.NoError(t, err)
	assert.Equal(t, "2.1.0", strategy.Version)

	assert.False(t, fresh.WarmStart(cache), "warm start must not replace an installed snapshot")
	assert.False(t, New(root).WarmStart(filepath.Join(t.TempDir(), "absent")))
}

func TestExportSnapshot(t *testing.T) {
	e := New(fixtureRoot(t))

	var buf bytes.Buffer
	assert.Error(t, e.ExportSnapshot(&buf), "export before load must fail")

	assert.True(t, e.LoadAllConfigs())
	assert.NoError(t, e.ExportSnapshot(&buf))
	out := buf.String()
	assert.Contains(t, out, "iqoption")
	assert.Contains(t, out, "binary_options/EURUSD")
	assert.Contains(t, out, "prediction_force")
}
