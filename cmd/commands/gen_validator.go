package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"

	"slotchain/privval"
	"slotchain/types"
)

var numKeys int

// GenValidatorCmd generates the keys of a new member identity.
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Short:   "Generate a new member identity",
	PreRun:  deprecateSnakeCase,
	RunE:    genValidator,
}

// ShowValidatorCmd prints the public part of the local member identity.
var ShowValidatorCmd = &cobra.Command{
	Use:     "show-validator",
	Aliases: []string{"show_validator"},
	Short:   "Show this node's member identity",
	PreRun:  deprecateSnakeCase,
	RunE:    showValidator,
}

func init() {
	GenValidatorCmd.Flags().IntVar(&numKeys, "keys", 1,
		fmt.Sprintf("number of ed25519 keys of the identity (1 to %d)", types.MaxMemberKeys))
}

func genValidator(cmd *cobra.Command, args []string) error {
	privValKeyFile := config.PrivValidatorKeyFile()
	if tmos.FileExists(privValKeyFile) {
		return fmt.Errorf("identity key at %s already exists", privValKeyFile)
	}

	pv, err := privval.GenFilePV(privValKeyFile, numKeys)
	if err != nil {
		return err
	}
	if err := pv.Save(); err != nil {
		return err
	}
	return printMember(pv.Member(config.Moniker))
}

func showValidator(cmd *cobra.Command, args []string) error {
	pv, err := privval.LoadFilePV(config.PrivValidatorKeyFile())
	if err != nil {
		return err
	}
	return printMember(pv.Member(config.Moniker))
}

func printMember(m types.Member) error {
	bz, err := tmjson.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bz))
	return nil
}
