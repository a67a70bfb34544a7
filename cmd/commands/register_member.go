package commands

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
	rpcclient "github.com/tendermint/tendermint/rpc/jsonrpc/client"

	"slotchain/privval"
	"slotchain/rpc"
	"slotchain/types"
)

var (
	remote     string
	authorityF string
)

// RegisterMemberCmd admits a member into the set of block producers.
var RegisterMemberCmd = &cobra.Command{
	Use:   "register-member [member.json]",
	Short: "Sign a member registration with the authority key and broadcast it",
	Long: "Reads a member as printed by show-validator, signs its registration " +
		"with the authority key and sends it to a node over RPC.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return broadcastMemberChange(types.TxRegister, args[0])
	},
}

// DeregisterMemberCmd removes a member from the set of block producers.
var DeregisterMemberCmd = &cobra.Command{
	Use:   "deregister-member [member.json]",
	Short: "Sign a member deregistration with the authority key and broadcast it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return broadcastMemberChange(types.TxDeregister, args[0])
	},
}

func init() {
	for _, cmd := range []*cobra.Command{RegisterMemberCmd, DeregisterMemberCmd} {
		cmd.Flags().StringVar(&remote, "node", "", "rpc address of the node, the local rpc.laddr when empty")
		cmd.Flags().StringVar(&authorityF, "authority-key", "", "authority key file, config/authority_key.json when empty")
	}
}

func loadMember(path string) (types.Member, error) {
	var m types.Member
	bz, err := ioutil.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := tmjson.Unmarshal(bz, &m); err != nil {
		return m, errors.Wrapf(err, "reading member from %s", path)
	}
	// the identity hash is always derived from the keys
	m = types.NewMember(m.Name, m.PubKeys...)
	return m, m.ValidateBasic()
}

// memberChangeTx signs the registration or deregistration of m for chain.
func memberChangeTx(chain string, txType types.TxType, m types.Member, authority *privval.FilePV) (*types.Tx, error) {
	sig, err := authority.Key.PrivKeys[0].Sign(types.RegistrationSignBytes(chain, txType, m))
	if err != nil {
		return nil, err
	}
	switch txType {
	case types.TxRegister:
		return types.NewRegisterTx(m, sig), nil
	case types.TxDeregister:
		return types.NewDeregisterTx(m, sig), nil
	default:
		return nil, fmt.Errorf("%v is not a membership change", txType)
	}
}

func broadcastMemberChange(txType types.TxType, memberFile string) error {
	m, err := loadMember(memberFile)
	if err != nil {
		return err
	}
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return err
	}
	keyFile := authorityF
	if keyFile == "" {
		keyFile = authorityKeyFile()
	}
	authority, err := privval.LoadFilePV(keyFile)
	if err != nil {
		return err
	}
	tx, err := memberChangeTx(genDoc.ChainID, txType, m, authority)
	if err != nil {
		return err
	}

	addr := remote
	if addr == "" {
		addr = config.RPC.ListenAddress
	}
	c, err := rpcclient.New(addr)
	if err != nil {
		return err
	}
	result := new(rpc.ResultBroadcastTx)
	if _, err := c.Call(context.Background(), "broadcast_tx", map[string]interface{}{"tx": tx.Bytes()}, result); err != nil {
		return errors.Wrap(err, "broadcast_tx")
	}
	logger.Info("Broadcast membership change", "type", txType, "member", m.IdentityHash, "tx", result.Hash)
	return nil
}
