package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/api"
	"github.com/itohio/instamp/pkg/command"
	"github.com/itohio/instamp/pkg/config"
	"github.com/itohio/instamp/pkg/hw"
	"github.com/itohio/instamp/pkg/regstate"
	"github.com/itohio/instamp/pkg/telemetry"
)

func TestADCTiming(t *testing.T) {
	c := config.Default().ADC
	tm := adcTiming(c)
	assert.Equal(t, c.ReadyRetries, tm.ReadyRetries)
	assert.Equal(t, c.PollInterval, tm.PollInterval)
	assert.Equal(t, c.StreamSettle, tm.StreamSettle)
}

func TestFrontendConfig(t *testing.T) {
	cfg := config.Default()
	fc, err := frontendConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint16(cfg.Sensors.FilterFs), fc.FilterFs)

	cfg.ADC.PowerMode = "turbo"
	_, err = frontendConfig(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Sensors.FilterFs = 4096
	_, err = frontendConfig(cfg)
	assert.Error(t, err)
}

func TestAmpOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Settings.FrequencyGHz = 40
	cfg.Settings.GainDB = 1
	cfg.Settings.PulseUs = 5
	cfg.Settings.DutyCycle = 10

	o, err := ampOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 18.0, o.Settings.FrequencyGHz)
	assert.Equal(t, 12.0, o.Settings.GainDB)
	assert.Equal(t, 5.0, o.Settings.DutyCycle)
	assert.Equal(t, 5.0, o.Settings.PulseUs)
	assert.Equal(t, cfg.Control.TickInterval, o.Tick)

	cfg.Settings.Mode = "fast"
	_, err = ampOptions(cfg)
	assert.Error(t, err)
}

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.Listen = ""
	cfg.Console.Port = ""
	cfg.State.DBPath = filepath.Join(t.TempDir(), "state.db")
	cfg.Mock.NoiseLevel = 0
	return cfg
}

func TestRun_Mock(t *testing.T) {
	cfg := mockConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, run(ctx, cfg, true, zaptest.NewLogger(t).Sugar()))

	store, err := regstate.Open(cfg.State.DBPath)
	require.NoError(t, err)
	defer store.Close()
	regs, err := store.Load(regstateDevice)
	require.NoError(t, err)
	assert.NotEmpty(t, regs, "registers saved after adc initialization")
}

// TestStack_Mock drives the whole stack over HTTP on simulated hardware.
func TestStack_Mock(t *testing.T) {
	cfg := mockConfig(t)
	log := zaptest.NewLogger(t).Sugar()

	m := hw.NewMock(cfg.Mock)
	board := m.Board()
	a, err := newAmplifier(cfg, board.Bus, board.Hardware, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	hist := telemetry.New(time.Minute)
	a.OnUpdate(hist.Record)
	d := command.NewDispatcher(log)
	require.NoError(t, command.Register(d, a))
	require.NoError(t, a.Init(context.Background()))

	srv := httptest.NewServer(api.New(a, hist, d, log).Handler())
	t.Cleanup(srv.Close)

	out := &bytes.Buffer{}
	exec := func(args ...string) error {
		cmd := newRootCommand(out)
		cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--addr", srv.URL}, args...))
		return cmd.Execute()
	}

	require.NoError(t, exec("send", "lock"))
	assert.Equal(t, amp.StatusLock, a.Status())
	require.NoError(t, exec("send", "set_attenuator", "0"))
	require.NoError(t, exec("send", "read_sensors"))
	assert.Contains(t, out.String(), "power_in_adc")

	out.Reset()
	err = exec("send", "start")
	assert.Error(t, err, "start is rejected in lock")
	assert.Contains(t, out.String(), "invalid_arguments")

	require.NoError(t, exec("send", "unlock"))
	out.Reset()
	require.NoError(t, exec("status"))
	assert.Contains(t, out.String(), `"status": "off"`)

	out.Reset()
	require.NoError(t, exec("regs"))
	assert.True(t, strings.HasPrefix(out.String(), "ADDR"))
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	out := &bytes.Buffer{}

	cmd := newRootCommand(out)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Hardware, cfg.Hardware)

	out.Reset()
	cmd = newRootCommand(out)
	cmd.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "spi_port")
}
