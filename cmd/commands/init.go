package commands

import (
	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/p2p"

	cfg "slotchain/config"
	"slotchain/privval"
)

// InitFilesCmd initialises a fresh single member chain.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a node with a single member genesis",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	privValKeyFile := config.PrivValidatorKeyFile()

	var pv *privval.FilePV
	if tmos.FileExists(privValKeyFile) {
		var err error
		if pv, err = privval.LoadFilePV(privValKeyFile); err != nil {
			return err
		}
		logger.Info("Found member identity", "keyFile", privValKeyFile)
	} else {
		var err error
		if pv, err = privval.GenFilePV(privValKeyFile, 1); err != nil {
			return err
		}
		if err := pv.Save(); err != nil {
			return err
		}
		logger.Info("Generated member identity", "keyFile", privValKeyFile)
	}

	nodeKeyFile := config.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		logger.Info("Found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("Generated node key", "path", nodeKeyFile)
	}

	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}
	authority, err := privval.LoadOrGenFilePV(authorityKeyFile())
	if err != nil {
		return err
	}
	genDoc, err := makeGenesis("", authority.PubKeys()[0], pv)
	if err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile)

	return nil
}
