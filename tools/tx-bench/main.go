// tx-bench keeps a node's mempool busy with chains of signed transfers sent
// over the rpc websocket.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log/term"
	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/libs/log"

	"slotchain/privval"
)

var (
	target      string
	keyFile     string
	utxo        string
	value       uint64
	connections int
	rate        int
	duration    time.Duration
	verbose     bool
)

func main() {
	cmd := &cobra.Command{
		Use:   "tx-bench",
		Short: "Send chained transfers to a node through broadcast_tx",
		Example: "tx-bench --key identity.json --utxo 3F1A...:0 --value 1000000 " +
			"-c 4 -r 100 -T 30s 127.0.0.1:26657",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target = args[0]
			return run()
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "", "identity key file owning the funding output")
	cmd.Flags().StringVar(&utxo, "utxo", "", "funding output as TXID:INDEX")
	cmd.Flags().Uint64Var(&value, "value", 0, "value of the funding output")
	cmd.Flags().IntVarP(&connections, "connections", "c", 1, "connections to open, one transfer chain each")
	cmd.Flags().IntVarP(&rate, "rate", "r", 100, "txs per second per connection")
	cmd.Flags().DurationVarP(&duration, "duration", "T", 10*time.Second, "how long to send")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every batch")
	for _, f := range []string{"key", "utxo", "value"} {
		_ = cmd.MarkFlagRequired(f)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() log.Logger {
	if !verbose {
		return log.NewFilter(log.NewTMLogger(log.NewSyncWriter(os.Stdout)), log.AllowInfo())
	}
	// Color errors red
	colorFn := func(keyvals ...interface{}) term.FgBgColor {
		for i := 1; i < len(keyvals); i += 2 {
			if _, ok := keyvals[i].(error); ok {
				return term.FgBgColor{Fg: term.White, Bg: term.Red}
			}
		}
		return term.FgBgColor{}
	}
	return log.NewTMLoggerWithColorFn(log.NewSyncWriter(os.Stdout), colorFn)
}

func run() error {
	logger := newLogger()

	pv, err := privval.LoadFilePV(keyFile)
	if err != nil {
		return err
	}
	key := pv.Key.PrivKeys[0]
	prev, err := parseOutPoint(utxo)
	if err != nil {
		return err
	}
	split, err := splitTransfer(key, prev, value, connections)
	if err != nil {
		return err
	}

	// the split goes first so every chain has a pending output to spend
	c, _, err := connect(target)
	if err != nil {
		return err
	}
	err = sendTx(c, split, time.Now().Add(sendTimeout))
	c.Close()
	if err != nil {
		return err
	}
	logger.Info("Sent funding split", "tx", split.ID(), "outputs", len(split.Outputs))

	chains := make([]*transferChain, connections)
	for i := range chains {
		chains[i] = newTransferChain(key, split.OutPoint(i), split.Outputs[i].Value)
	}

	t := newTransacter(target, rate, chains)
	t.SetLogger(logger)
	if err := t.Start(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(duration):
	case <-sigs:
	}
	t.Stop()

	count, mean := t.Sent()
	fmt.Printf("sent %d txs, %.1f tx/s\n", count, mean)
	return nil
}
