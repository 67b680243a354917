package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeconf/internal/archive"
	"tradeconf/internal/cli"
	"tradeconf/internal/config"
	"tradeconf/internal/engine"
	"tradeconf/internal/registry"
	"tradeconf/pkg/confkit"
)

var (
	configFile = flag.String("f", "etc/tradeconf.yaml", "engine settings file")
	exportFile = flag.String("export", "", "write the snapshot as msgpack to this path")
	exportYAML = flag.String("yaml", "", "write the snapshot as YAML to this path")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	root := ""
	if err != nil {
		logx.Errorf("confverify: load settings: %v", err)
		cfg = &config.Config{Env: "test", ConfigRoot: engine.DefaultRoot}
		root = fallbackRoot()
	} else {
		root = cfg.ResolvedRoot()
	}

	e := engine.New(root)
	ok := e.LoadAllConfigs()

	cli.LogConfigSummary(cfg, e.GetSummary())
	cli.LogReport(e.Report())
	for _, loadErr := range e.Errors() {
		logx.Errorf("confverify: %v", loadErr)
	}

	if !ok {
		logx.Error("confverify: configuration is INVALID")
		os.Exit(1)
	}
	logx.Info("confverify: configuration is valid")

	if path := cacheTarget(cfg); path != "" {
		if err := writeSnapshot(e.Snapshot(), path); err != nil {
			logx.Errorf("confverify: %v", err)
			os.Exit(1)
		}
		logx.Infof("confverify: snapshot exported to %s", path)
	}

	if *exportYAML != "" {
		if err := writeYAML(e, *exportYAML); err != nil {
			logx.Errorf("confverify: %v", err)
			os.Exit(1)
		}
		logx.Infof("confverify: snapshot exported to %s", *exportYAML)
	}

	if cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		archive.NewRecorder(archive.Connect(cfg.Postgres.DSN)).Record(ctx, e.Snapshot())
	}
}

// fallbackRoot anchors the default fragment directory at the repository root
// when no settings file is available, so the binary works from any cwd.
func fallbackRoot() string {
	p, err := confkit.ProjectPath(engine.DefaultRoot)
	if err != nil {
		return engine.DefaultRoot
	}
	return p
}

// cacheTarget prefers the -export flag over the settings file entry.
func cacheTarget(cfg *config.Config) string {
	if *exportFile != "" {
		return *exportFile
	}
	return cfg.ResolvedCacheFile()
}

func writeSnapshot(snap *registry.Snapshot, path string) error {
	data, err := registry.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

func writeYAML(e *engine.Engine, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export %s: %w", path, err)
	}
	defer f.Close()
	return e.ExportSnapshot(f)
}
