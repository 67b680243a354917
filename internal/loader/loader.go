// Package loader discovers configuration fragments on the categorized
// directory layout and parses each into a confnode tree tagged with the
// coordinates implied by its location.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeconf/pkg/confnode"
)

// Category names one of the fixed fragment kinds.
type Category string

const (
	// CategoryBroker is a broker definition under brokers/.
	CategoryBroker Category = "broker"
	// CategoryAsset is an asset override under assets/<market>/<broker>/<subcategory>/.
	CategoryAsset Category = "asset"
	// CategoryStrategy is a strategy template under strategies/<market>/.
	CategoryStrategy Category = "strategy"
	// CategoryRisk is a risk profile under risk_management/.
	CategoryRisk Category = "risk"
)

// Coordinates encode a fragment's identity as derived from file placement.
type Coordinates struct {
	Category    Category
	Market      string
	Broker      string
	Subcategory string
	Symbol      string
	Strategy    string
	Name        string
}

func (c Coordinates) String() string {
	switch c.Category {
	case CategoryAsset:
		return fmt.Sprintf("asset %s/%s/%s/%s", c.Market, c.Broker, c.Subcategory, c.Symbol)
	case CategoryStrategy:
		return fmt.Sprintf("strategy %s/%s", c.Market, c.Strategy)
	default:
		return fmt.Sprintf("%s %s", c.Category, c.Name)
	}
}

// Fragment is one parsed configuration file.
type Fragment struct {
	Coords Coordinates
	Path   string
	Root   *confnode.Node
}

// LoadError makes any load-time failure (unreadable file, non-mapping root,
// duplicate identity, missing required env var) fatal to the whole cycle.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Manifest is the complete output of one discovery pass.
type Manifest struct {
	Brokers   []Fragment
	Assets    []Fragment
	Templates []Fragment
	Risk      []Fragment

	// MarketDefaults holds the optional market-wide defaults tree, keyed by
	// market, merged below every strategy template of that market.
	MarketDefaults map[string]*confnode.Node
}

// Loader enumerates fragments under one configuration root.
type Loader struct {
	root string
}

// New returns a loader rooted at the given configuration directory.
func New(root string) *Loader {
	return &Loader{root: root}
}

// defaultsStem is the reserved strategy file name holding market-wide defaults.
const defaultsStem = "defaults"

// brokerRequiredEnv lists the path prefixes whose ${VAR} placeholders must
// resolve at load time. Credentials never ship as literals.
var brokerRequiredEnv = []string{"auth"}

// categoryHandler is one entry of the closed category registry. Adding a
// configuration category means adding one handler here, not a new code path
// in the facade.
type categoryHandler struct {
	category Category
	discover func(l *Loader, m *Manifest) error
}

func handlers() []categoryHandler {
	return []categoryHandler{
		{CategoryBroker, (*Loader).discoverBrokers},
		{CategoryAsset, (*Loader).discoverAssets},
		{CategoryStrategy, (*Loader).discoverStrategies},
		{CategoryRisk, (*Loader).discoverRisk},
	}
}

// LoadAll runs every category handler and returns the manifest. The first
// LoadError aborts the pass: a cycle with any unreadable or duplicate
// fragment must never produce a snapshot.
func (l *Loader) LoadAll() (*Manifest, error) {
	if _, err := os.Stat(l.root); err != nil {
		return nil, &LoadError{Path: l.root, Cause: err}
	}
	manifest := &Manifest{MarketDefaults: make(map[string]*confnode.Node)}
	for _, h := range handlers() {
		if err := h.discover(l, manifest); err != nil {
			return nil, err
		}
	}
	logx.Infof("loader: %d brokers, %d assets, %d templates, %d risk profiles from %s",
		len(manifest.Brokers), len(manifest.Assets), len(manifest.Templates), len(manifest.Risk), l.root)
	return manifest, nil
}

func (l *Loader) discoverBrokers(m *Manifest) error {
	dir := filepath.Join(l.root, "brokers")
	files, err := listFragmentFiles(dir)
	if err != nil {
		return err
	}
	seen := make(map[string]string)
	for _, path := range files {
		root, err := parseFragment(path, brokerRequiredEnv)
		if err != nil {
			return err
		}
		name := brokerName(path, root)
		key := strings.ToLower(name)
		if prev, ok := seen[key]; ok {
			return &LoadError{Path: path, Cause: fmt.Errorf("duplicate broker %q already defined in %s", name, prev)}
		}
		seen[key] = path
		m.Brokers = append(m.Brokers, Fragment{
			Coords: Coordinates{Category: CategoryBroker, Broker: key, Name: name},
			Path:   path,
			Root:   root,
		})
	}
	return nil
}

func brokerName(path string, root *confnode.Node) string {
	if node, ok := root.At("broker_settings", "broker_name"); ok {
		if s, ok := node.StringVal(); ok && s != "" {
			return s
		}
	}
	return strings.ToUpper(stem(path))
}

func (l *Loader) discoverAssets(m *Manifest) error {
	dir := filepath.Join(l.root, "assets")
	markets, err := listSubdirs(dir)
	if err != nil {
		return err
	}
	for _, market := range markets {
		brokers, err := listSubdirs(filepath.Join(dir, market))
		if err != nil {
			return err
		}
		for _, broker := range brokers {
			subcats, err := listSubdirs(filepath.Join(dir, market, broker))
			if err != nil {
				return err
			}
			for _, subcat := range subcats {
				files, err := listFragmentFiles(filepath.Join(dir, market, broker, subcat))
				if err != nil {
					return err
				}
				seen := make(map[string]string)
				for _, path := range files {
					root, err := parseFragment(path, nil)
					if err != nil {
						return err
					}
					symbol := stem(path)
					if prev, ok := seen[symbol]; ok {
						return &LoadError{Path: path, Cause: fmt.Errorf("duplicate asset %q already defined in %s", symbol, prev)}
					}
					seen[symbol] = path
					m.Assets = append(m.Assets, Fragment{
						Coords: Coordinates{
							Category:    CategoryAsset,
							Market:      market,
							Broker:      broker,
							Subcategory: subcat,
							Symbol:      symbol,
							Name:        symbol,
						},
						Path: path,
						Root: root,
					})
				}
			}
		}
	}
	return nil
}

func (l *Loader) discoverStrategies(m *Manifest) error {
	dir := filepath.Join(l.root, "strategies")
	markets, err := listSubdirs(dir)
	if err != nil {
		return err
	}
	for _, market := range markets {
		files, err := listFragmentFiles(filepath.Join(dir, market))
		if err != nil {
			return err
		}
		seen := make(map[string]string)
		for _, path := range files {
			root, err := parseFragment(path, nil)
			if err != nil {
				return err
			}
			name := stem(path)
			if prev, ok := seen[name]; ok {
				return &LoadError{Path: path, Cause: fmt.Errorf("duplicate strategy %q already defined in %s", name, prev)}
			}
			seen[name] = path
			if name == defaultsStem {
				m.MarketDefaults[market] = root
				continue
			}
			m.Templates = append(m.Templates, Fragment{
				Coords: Coordinates{Category: CategoryStrategy, Market: market, Strategy: name, Name: name},
				Path:   path,
				Root:   root,
			})
		}
	}
	return nil
}

func (l *Loader) discoverRisk(m *Manifest) error {
	dir := filepath.Join(l.root, "risk_management")
	files, err := listFragmentFiles(dir)
	if err != nil {
		return err
	}
	seen := make(map[string]string)
	for _, path := range files {
		root, err := parseFragment(path, nil)
		if err != nil {
			return err
		}
		name := stem(path)
		if prev, ok := seen[name]; ok {
			return &LoadError{Path: path, Cause: fmt.Errorf("duplicate risk profile %q already defined in %s", name, prev)}
		}
		seen[name] = path
		m.Risk = append(m.Risk, Fragment{
			Coords: Coordinates{Category: CategoryRisk, Name: name},
			Path:   path,
			Root:   root,
		})
	}
	return nil
}

// parseFragment reads one YAML file, requires a mapping at the root and
// resolves ${VAR} placeholders before anything downstream sees the tree.
func parseFragment(path string, requiredEnv []string) (*confnode.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	root, err := confnode.Decode(data)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	if root.Kind() != confnode.KindMapping {
		return nil, &LoadError{Path: path, Cause: fmt.Errorf("fragment root must be a mapping, got %s", root.Kind())}
	}
	if err := confnode.ExpandEnv(root, requiredEnv); err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	return root, nil
}

func listFragmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logx.Infof("loader: directory %s not present, skipping", dir)
		return nil, nil
	}
	if err != nil {
		return nil, &LoadError{Path: dir, Cause: err}
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logx.Infof("loader: directory %s not present, skipping", dir)
		return nil, nil
	}
	if err != nil {
		return nil, &LoadError{Path: dir, Cause: err}
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
