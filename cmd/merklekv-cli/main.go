// cmd/merklekv-cli is a thin command-line client that drives the Command
// Correlator over a pub/sub transport, mirroring the teacher's cmd/client
// Cobra CLI but talking replication-event pub/sub instead of HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"merklekv/internal/command"
	"merklekv/internal/correlator"
	"merklekv/internal/transport"
)

var topicPrefix string

func main() {
	root := &cobra.Command{
		Use:   "merklekv-cli",
		Short: "CLI client for MerkleKV",
	}
	root.PersistentFlags().StringVarP(&topicPrefix, "topic-prefix", "t", "merklekv", "MQTT topic prefix for the target cluster")

	root.AddCommand(getCmd(), setCmd(), delCmd(), incrCmd(), decrCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newCorrelator connects a Correlator over a Mock transport. No concrete
// MQTT client ships in this repository (see internal/transport); a real
// deployment of this CLI plugs a broker connection in here instead.
func newCorrelator() (*correlator.Correlator, error) {
	mt := transport.NewMock()
	return correlator.New(mt, topicPrefix, zerolog.Nop())
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corr, err := newCorrelator()
			if err != nil {
				return err
			}
			resp, err := corr.Send(context.Background(), command.Command{Op: command.OpGet, Key: args[0]})
			if err != nil {
				return err
			}
			return prettyPrint(resp)
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			corr, err := newCorrelator()
			if err != nil {
				return err
			}
			resp, err := corr.Send(context.Background(), command.Command{Op: command.OpSet, Key: args[0], Value: args[1]})
			if err != nil {
				return err
			}
			return prettyPrint(resp)
		},
	}
}

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corr, err := newCorrelator()
			if err != nil {
				return err
			}
			resp, err := corr.Send(context.Background(), command.Command{Op: command.OpDel, Key: args[0]})
			if err != nil {
				return err
			}
			return prettyPrint(resp)
		},
	}
}

func incrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "incr <key> [amount]",
		Short: "Increment a numeric key",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runIncrDecr(command.OpIncr),
	}
}

func decrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decr <key> [amount]",
		Short: "Decrement a numeric key",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runIncrDecr(command.OpDecr),
	}
}

func runIncrDecr(op string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		corr, err := newCorrelator()
		if err != nil {
			return err
		}
		c := command.Command{Op: op, Key: args[0]}
		if len(args) == 2 {
			var amount int64
			if _, err := fmt.Sscanf(args[1], "%d", &amount); err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			c.Amount = &amount
		}
		resp, err := corr.Send(context.Background(), c)
		if err != nil {
			return err
		}
		return prettyPrint(resp)
	}
}

func prettyPrint(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return nil
	}
	fmt.Println(string(data))
	return nil
}
