package healthcheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/genmux/internal/registry"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/providers/mock"
)

func setup(t *testing.T) (*Prober, *registry.Registry, *mock.Provider, *mock.Provider) {
	t.Helper()
	reg, err := registry.New([]provider.Descriptor{{ID: "a"}, {ID: "b"}, {ID: "m", Status: provider.StatusMaintenance}})
	require.NoError(t, err)
	a := mock.New(mock.WithName("a"))
	b := mock.New(mock.WithName("b"))
	adapters := map[string]provider.Provider{"a": a, "b": b, "m": mock.New(mock.WithName("m"))}
	return NewProber(Config{Enabled: true, Interval: time.Second, Timeout: time.Second}, reg, adapters, nil), reg, a, b
}

func TestProber_RunOnce_NotReadyMarksOffline(t *testing.T) {
	p, reg, a, _ := setup(t)
	a.SetReady(false)

	p.runOnce(context.Background())

	status, _ := reg.Status("a")
	assert.Equal(t, provider.StatusOffline, status)
	status, _ = reg.Status("b")
	assert.Equal(t, provider.StatusOnline, status)
}

func TestProber_Check_Recovers(t *testing.T) {
	p, reg, _, b := setup(t)
	require.NoError(t, reg.SetStatus("b", provider.StatusRateLimited))

	res, err := p.Check(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.Equal(t, provider.StatusOnline, res.Status)
	assert.Zero(t, b.Calls(), "probes never dispatch a generation")
}

func TestProber_Check_MaintenanceUntouched(t *testing.T) {
	p, reg, _, _ := setup(t)

	res, err := p.Check(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusMaintenance, res.Status)
	status, _ := reg.Status("m")
	assert.Equal(t, provider.StatusMaintenance, status)
}

func TestProber_Check_Unknown(t *testing.T) {
	p, _, _, _ := setup(t)
	_, err := p.Check(context.Background(), "nope")
	genErr, ok := genErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, genErrors.CodeNotFound, genErr.Code)
}

func TestProber_StartDisabled(t *testing.T) {
	p, _, _, _ := setup(t)
	p.cfg.Enabled = false
	p.Start(context.Background())
	assert.False(t, p.started.Load())
}
