package main

import (
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "slotchain/cmd/commands"
	cfg "slotchain/config"
	nm "slotchain/node"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.GenGenesisCmd,
		cmd.GenValidatorCmd,
		cmd.ShowValidatorCmd,
		cmd.GenNodeKeyCmd,
		cmd.ShowNodeIDCmd,
		cmd.RegisterMemberCmd,
		cmd.DeregisterMemberCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	// Users wishing to supply the genesis doc or identity keys from another
	// source can copy this file and use something other than DefaultNewNode.
	nodeFunc := nm.DefaultNewNode

	// Create & start node
	rootCmd.AddCommand(cmd.NewRunNodeCmd(nodeFunc))

	cmd := cli.PrepareBaseCmd(rootCmd, "SC", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultDir)))
	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}
