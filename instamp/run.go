package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/api"
	"github.com/itohio/instamp/pkg/command"
	"github.com/itohio/instamp/pkg/config"
	"github.com/itohio/instamp/pkg/console"
	"github.com/itohio/instamp/pkg/hw"
	"github.com/itohio/instamp/pkg/regstate"
	"github.com/itohio/instamp/pkg/telemetry"
)

const regstateDevice = "ad7124"

func newRunCommand(g *globals) *cobra.Command {
	var (
		mock        bool
		consolePort string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the amplifier controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if consolePort != "" {
				cfg.Console.Port = consolePort
			}
			cfg.API.Listen = g.apiAddr(cfg)

			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, mock, log)
		},
	}
	cmd.Flags().BoolVar(&mock, "mock", false, "Use simulated hardware")
	cmd.Flags().StringVarP(&consolePort, "port", "p", "", "Serial console port override (e.g. /dev/ttyACM0)")
	return cmd
}

func openBoard(cfg *config.Config, mock bool, log *zap.SugaredLogger) (*hw.Board, error) {
	if mock {
		log.Infow("using simulated hardware")
		return hw.NewMock(cfg.Mock).Board(), nil
	}
	return hw.Open(cfg.Hardware)
}

// run wires the controller and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config, mock bool, log *zap.SugaredLogger) (err error) {
	board, err := openBoard(cfg, mock, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, board.Close()) }()

	a, err := newAmplifier(cfg, board.Bus, board.Hardware, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()

	hist := telemetry.New(cfg.Control.HistoryWindow)
	a.OnUpdate(hist.Record)
	a.OnUpdate(func(s amp.Snapshot) {
		if s.Fault != "" {
			log.Warnw("amplifier fault", "fault", s.Fault, "status", s.Status)
		}
	})

	if cfg.State.DBPath != "" {
		store, err := regstate.Open(cfg.State.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		a.OnADCInit(store.Recorder(regstateDevice, func(err error) {
			log.Warnw("saving adc registers", "error", err)
		}))
	}
	a.OnADCInit(func(st ad7124.State) {
		log.Debugw("adc initialized", "channels", st.EnabledChannels(), "mode", st.AdcControl.Mode())
	})

	d := command.NewDispatcher(log.Named("command"))
	if err := command.Register(d, a); err != nil {
		return err
	}

	if err := a.Init(ctx); err != nil {
		return err
	}
	log.Infow("amplifier ready", "status", a.Status())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	serve := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.Errorw("service stopped", "service", name, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}

	if cfg.Console.Port != "" {
		c := console.New(d, log.Named("console"))
		s := console.NewSerial(c, cfg.Console.Port, cfg.Console.BaudRate)
		serve("console", func() error { return s.ListenAndServe(ctx, cfg.Control.InitRetryDelay) })
	}
	if cfg.API.Listen != "" {
		srv := api.New(a, hist, d, log.Named("api"))
		serve("api", func() error { return srv.ListenAndServe(ctx, cfg.API.Listen) })
	}

	<-ctx.Done()
	log.Infow("shutting down")
	wg.Wait()
	return errs
}
