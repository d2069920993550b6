package main

import (
	"errors"
	"testing"

	"github.com/blueberrycongee/genmux/internal/config"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

type recordingSetter struct {
	writes map[string]provider.Status
}

func (r *recordingSetter) SetProviderStatus(id string, status provider.Status) error {
	if id == "ghost" {
		return errors.New("unknown provider")
	}
	r.writes[id] = status
	return nil
}

func statusConfig(statuses map[string]provider.Status) *config.Config {
	cfg := config.DefaultConfig()
	for _, id := range []string{"a", "b", "ghost"} {
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{ID: id, Type: "mock", Status: statuses[id]})
	}
	return cfg
}

func TestStatusReloader_Apply(t *testing.T) {
	setter := &recordingSetter{writes: map[string]provider.Status{}}
	r := newStatusReloader(setter, statusConfig(map[string]provider.Status{
		"a": provider.StatusMaintenance,
	}), discardLogger())

	r.Apply(statusConfig(map[string]provider.Status{
		"a": provider.StatusMaintenance,
		"b": provider.StatusOffline,
	}))
	if len(setter.writes) != 1 || setter.writes["b"] != provider.StatusOffline {
		t.Fatalf("writes = %v, want only b offline", setter.writes)
	}

	setter.writes = map[string]provider.Status{}
	r.Apply(statusConfig(map[string]provider.Status{
		"b":     provider.StatusOffline,
		"ghost": provider.StatusOffline,
	}))
	if setter.writes["a"] != provider.StatusOnline {
		t.Fatalf("removed override must reset to online, writes = %v", setter.writes)
	}
	if _, ok := setter.writes["b"]; ok {
		t.Fatal("unchanged status must not be rewritten")
	}
}

func TestStatusReloader_LiveClient(t *testing.T) {
	client := newTestClient(t, testConfig())
	r := newStatusReloader(client, testConfig(), discardLogger())

	cfg := testConfig()
	cfg.Providers[0].Status = provider.StatusMaintenance
	r.Apply(cfg)

	if got := client.Providers()[0].Status; got != provider.StatusMaintenance {
		t.Fatalf("status = %s, want maintenance", got)
	}
}
