package config

import (
	"os"
	"path/filepath"
	"testing"

	"bridgex/internal/domain"
)

const sampleConfig = `
logging:
  level: debug
telegram:
  enabled: true
  token: "123:abc"
irc:
  enabled: true
  host: irc.libera.chat
  nick: bridgebot
bridges:
  - groups: ["telegram/-100111", "irc/#test"]
  - groups: ["telegram/-100222", "irc/#dev", "discord/4242"]
    filters:
      - text: "spam"
filter_file: filter.yaml
`

const sampleFilters = `
filters:
  - nick: "^annoying$"
`

func writeConfig(t *testing.T, bridgeYAML, filterYAML string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	if err := os.WriteFile(path, []byte(bridgeYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if filterYAML != "" {
		if err := os.WriteFile(filepath.Join(dir, "filter.yaml"), []byte(filterYAML), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig, sampleFilters))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level not applied: %q", cfg.Logging.Level)
	}
	// Defaults survive partial config.
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("dispatch defaults not applied: %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.IRC.Port != 6697 {
		t.Errorf("irc port default not applied: %d", cfg.IRC.Port)
	}
	if !filepath.IsAbs(cfg.FilterFile) {
		t.Errorf("filter file not resolved: %q", cfg.FilterFile)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	bad := sampleConfig + "\nbogus_key: true\n"
	if _, err := Load(writeConfig(t, bad, "")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_RejectsUnknownPlatform(t *testing.T) {
	bad := `
bridges:
  - groups: ["telegram/-1", "matrix/!room"]
`
	if _, err := Load(writeConfig(t, bad, "")); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

func TestLoad_RejectsSingleGroupBridge(t *testing.T) {
	bad := `
bridges:
  - groups: ["telegram/-1"]
`
	if _, err := Load(writeConfig(t, bad, "")); err == nil {
		t.Fatal("expected error for one-endpoint bridge")
	}
}

func TestLoad_EnabledPlatformNeedsCredentials(t *testing.T) {
	bad := `
telegram:
  enabled: true
bridges:
  - groups: ["telegram/-1", "irc/#x"]
`
	if _, err := Load(writeConfig(t, bad, "")); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

func TestBuildTable_ResolvesRoutesAndFilters(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig, sampleFilters))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	table, err := BuildTable(cfg)
	if err != nil {
		t.Fatalf("build table: %v", err)
	}

	tg := domain.Endpoint{Platform: domain.PlatformTelegram, GroupID: "-100222"}
	routes := table.RoutesFor(tg)
	if len(routes) != 1 {
		t.Fatalf("expected 1 route for %s, got %d", tg, len(routes))
	}
	if got := len(routes[0].Targets(tg)); got != 2 {
		t.Errorf("expected 2 targets, got %d", got)
	}
	// Inline rule + global rule.
	if got := len(routes[0].Rules); got != 2 {
		t.Errorf("expected 2 compiled rules, got %d", got)
	}
	// First bridge only carries the global rule.
	first := domain.Endpoint{Platform: domain.PlatformTelegram, GroupID: "-100111"}
	if got := len(table.RoutesFor(first)[0].Rules); got != 1 {
		t.Errorf("expected 1 compiled rule on first route, got %d", got)
	}

	groups := table.GroupsFor(domain.PlatformIRC)
	if len(groups) != 2 {
		t.Errorf("expected 2 irc groups, got %v", groups)
	}
}

func TestBuildTable_BadRegexFails(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig, "filters:\n  - text: \"(\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := BuildTable(cfg); err == nil {
		t.Fatal("expected build error for malformed filter regex")
	}
}
