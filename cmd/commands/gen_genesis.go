package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/crypto"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmrand "github.com/tendermint/tendermint/libs/rand"

	"slotchain/privval"
	"slotchain/types"
)

var (
	chainID          string
	blockInterval    int64
	coinbaseMaturity int64
	genesisTime      int64
	memberKeyFiles   []string
	allocValue       uint64
)

// GenGenesisCmd writes a genesis document admitting the members whose
// identity key files are given.
var GenGenesisCmd = &cobra.Command{
	Use:     "gen-genesis",
	Aliases: []string{"gen_genesis"},
	Short:   "Generate the genesis document of a new chain",
	PreRun:  deprecateSnakeCase,
	RunE:    genGenesisFile,
}

func init() {
	GenGenesisCmd.Flags().StringVar(&chainID, "chain-id", "", "chain id, random when empty")
	GenGenesisCmd.Flags().Int64Var(&blockInterval, "interval", types.DefaultBlockInterval, "slot length in seconds")
	GenGenesisCmd.Flags().Int64Var(&coinbaseMaturity, "maturity", types.DefaultCoinbaseMaturity,
		"blocks before a coinbase output can be spent")
	GenGenesisCmd.Flags().Int64Var(&genesisTime, "time", 0, "genesis unix time, now when 0")
	GenGenesisCmd.Flags().StringSliceVar(&memberKeyFiles, "member", nil,
		"identity key file of an initial member, repeatable (default: this node's identity)")
	GenGenesisCmd.Flags().Uint64Var(&allocValue, "alloc", 0, "value allocated to every initial member")
}

func genGenesisFile(cmd *cobra.Command, args []string) error {
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		return fmt.Errorf("genesis file at %s already exists", genFile)
	}

	files := memberKeyFiles
	if len(files) == 0 {
		files = []string{config.PrivValidatorKeyFile()}
	}
	members := make([]*privval.FilePV, len(files))
	for i, f := range files {
		pv, err := privval.LoadFilePV(f)
		if err != nil {
			return err
		}
		members[i] = pv
	}

	authority, err := privval.LoadOrGenFilePV(authorityKeyFile())
	if err != nil {
		return err
	}
	genDoc, err := makeGenesis(chainID, authority.PubKeys()[0], members...)
	if err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile, "chain", genDoc.ChainID, "members", len(genDoc.Members))
	return nil
}

// makeGenesis builds and validates a genesis document from the command
// flags. Allocations go to the address of each member's first key.
func makeGenesis(chain string, authority crypto.PubKey, members ...*privval.FilePV) (*types.GenesisDoc, error) {
	if chain == "" {
		chain = fmt.Sprintf("test-chain-%v", tmrand.Str(6))
	}
	start := genesisTime
	if start == 0 {
		start = time.Now().Unix()
	}
	genDoc := &types.GenesisDoc{
		ChainID:          chain,
		GenesisTime:      start,
		BlockInterval:    blockInterval,
		CoinbaseMaturity: coinbaseMaturity,
		Authority:        authority,
	}
	for i, pv := range members {
		genDoc.Members = append(genDoc.Members, types.GenesisMember{
			Name:    fmt.Sprintf("member-%d", i),
			PubKeys: pv.PubKeys(),
		})
		if allocValue > 0 {
			genDoc.Alloc = append(genDoc.Alloc, types.GenesisAlloc{
				Owner: pv.PubKeys()[0].Address(),
				Value: allocValue,
			})
		}
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}
	return genDoc, nil
}
