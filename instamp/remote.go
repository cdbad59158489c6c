package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/itohio/instamp/pkg/api"
	"github.com/itohio/instamp/pkg/client"
	"github.com/itohio/instamp/pkg/command"
	"github.com/itohio/instamp/pkg/config"
	"github.com/itohio/instamp/pkg/regstate"
)

func newClient(g *globals) (*client.Client, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return client.New(g.apiAddr(cfg)), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSendCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command> [args...]",
		Short: "Send a command line to a running controller",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g)
			if err != nil {
				return err
			}
			res, ok, err := c.Command(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if res.Code != command.Ok {
				return fmt.Errorf("%s: %s", res.Code, res.Message)
			}
			return nil
		},
	}
}

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the amplifier snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g)
			if err != nil {
				return err
			}
			s, err := c.Status()
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
}

func newHistoryCommand(g *globals) *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded snapshots and bursts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g)
			if err != nil {
				return err
			}
			h, err := c.History(points)
			if err != nil {
				return err
			}
			return printJSON(cmd, h)
		},
	}
	cmd.Flags().IntVarP(&points, "points", "n", api.DefaultHistoryPoints, "Maximum number of snapshots")
	return cmd
}

func newRegsCommand(g *globals) *cobra.Command {
	var stored bool
	cmd := &cobra.Command{
		Use:   "regs",
		Short: "Dump the ADC register file",
		Long:  "Dump the ADC register file of a running controller, or with --stored the last file saved in the state database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var regs []api.RegHex
			if stored {
				cfg, err := g.load()
				if err != nil {
					return err
				}
				regs, err = storedRegisters(cfg)
				if err != nil {
					return err
				}
			} else {
				c, err := newClient(g)
				if err != nil {
					return err
				}
				if regs, err = c.Registers(); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ADDR\tVALUE")
			for _, r := range regs {
				fmt.Fprintf(w, "%s\t%s\n", r.Addr, r.Value)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&stored, "stored", false, "Read from the state database instead of the API")
	return cmd
}

func storedRegisters(cfg *config.Config) ([]api.RegHex, error) {
	store, err := regstate.Open(cfg.State.DBPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	regs, err := store.Load(regstateDevice)
	if err != nil {
		return nil, err
	}
	return api.Registers(regs), nil
}
