package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeconf/pkg/confnode"
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
  execution_modes: [binary, digital]
auth:
  username: ${IQ_USER}
  password: ${IQ_PASS}
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
  timeframe_base: 1
  strategy_parameters:
    analysis:
      dominance_threshold: 82
`

func TestLoadAllDiscoversEveryCategory(t *testing.T) {
	t.Setenv("IQ_USER", "demo")
	t.Setenv("IQ_PASS", "secret")

	root := t.TempDir()
	writeFile(t, root, "brokers/iqoption.yaml", brokerDoc)
	writeFile(t, root, "strategies/binary_options/prediction_force.yaml", templateDoc)
	writeFile(t, root, "strategies/binary_options/defaults.yaml", "trade:\n  expiration: 1\n")
	writeFile(t, root, "assets/binary_options/iqoption/forex/EURUSD.yaml",
		"prediction_force:\n  asset_config:\n    digits: 5\n")
	writeFile(t, root, "risk_management/conservative.yaml", "enabled: true\n")

	manifest, err := New(root).LoadAll()
	assert.NoError(t, err)

	assert.Len(t, manifest.Brokers, 1)
	assert.Equal(t, "IQOPTION", manifest.Brokers[0].Coords.Name)
	assert.Equal(t, "iqoption", manifest.Brokers[0].Coords.Broker)

	user, _ := manifest.Brokers[0].Root.Lookup("auth.username")
	s, _ := user.StringVal()
	assert.Equal(t, "demo", s, "credentials expanded at load time")

	assert.Len(t, manifest.Templates, 1)
	tpl := manifest.Templates[0]
	assert.Equal(t, "binary_options", tpl.Coords.Market)
	assert.Equal(t, "prediction_force", tpl.Coords.Strategy)

	defaults, ok := manifest.MarketDefaults["binary_options"]
	assert.True(t, ok, "defaults.yaml becomes market-wide defaults, not a template")
	_, ok = defaults.Lookup("trade.expiration")
	assert.True(t, ok)

	assert.Len(t, manifest.Assets, 1)
	coords := manifest.Assets[0].Coords
	assert.Equal(t, "binary_options", coords.Market)
	assert.Equal(t, "iqoption", coords.Broker)
	assert.Equal(t, "forex", coords.Subcategory)
	assert.Equal(t, "EURUSD", coords.Symbol)

	assert.Len(t, manifest.Risk, 1)
	assert.Equal(t, "conservative", manifest.Risk[0].Coords.Name)
}

func TestLoadAllMissingCategoriesAreEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "risk_management/default.yaml", "enabled: true\n")

	manifest, err := New(root).LoadAll()
	assert.NoError(t, err, "absent category directories are not an error")
	assert.Empty(t, manifest.Brokers)
	assert.Empty(t, manifest.Templates)
	assert.Len(t, manifest.Risk, 1)
}

func TestLoadAllMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope")).LoadAll()
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadAllRejectsNonMappingFragment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "risk_management/broken.yaml", "- just\n- a\n- list\n")

	_, err := New(root).LoadAll()
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Contains(t, loadErr.Error(), "mapping")
}

func TestLoadAllRejectsUnparsableFragment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "brokers/bad.yaml", "broker_settings: [unclosed\n")

	_, err := New(root).LoadAll()
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadAllRejectsDuplicateBroker(t *testing.T) {
	t.Setenv("IQ_USER", "demo")
	t.Setenv("IQ_PASS", "secret")

	root := t.TempDir()
	writeFile(t, root, "brokers/iqoption.yaml", brokerDoc)
	// Different file, same declared broker_name.
	writeFile(t, root, "brokers/iqoption_backup.yaml", brokerDoc)

	_, err := New(root).LoadAll()
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Contains(t, loadErr.Error(), "duplicate broker")
}

func TestLoadAllMissingCredentialEnvIsFatal(t *testing.T) {
	os.Unsetenv("IQ_USER")
	os.Unsetenv("IQ_PASS")

	root := t.TempDir()
	writeFile(t, root, "brokers/iqoption.yaml", brokerDoc)

	_, err := New(root).LoadAll()
	var missing *confnode.MissingEnvVarError
	assert.ErrorAs(t, err, &missing, "unresolved ${VAR} under auth must fail the load")
	assert.Equal(t, "IQ_USER", missing.Var)
}

func TestLoadAllOptionalPlaceholderKeptLiteral(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "risk_management/default.yaml", "enabled: true\nreport_webhook: ${UNSET_HOOK}\n")

	manifest, err := New(root).LoadAll()
	assert.NoError(t, err)

	hook, _ := manifest.Risk[0].Root.Child("report_webhook")
	assert.True(t, hook.HasUnresolvedPlaceholder(), "optional placeholder survives as literal for the validator")
}
