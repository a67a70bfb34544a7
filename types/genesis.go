package types

import (
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/tendermint/tendermint/crypto"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/tempfile"
)

const (
	MaxChainIDLen = 50

	DefaultBlockInterval    = 10 // seconds
	DefaultCoinbaseMaturity = 100
)

type GenesisMember struct {
	Name    string          `json:"name"`
	PubKeys []crypto.PubKey `json:"pub_keys"`
}

type GenesisAlloc struct {
	Owner Address `json:"owner"`
	Value uint64  `json:"value"`
}

// GenesisDoc defines the initial conditions of the chain.
type GenesisDoc struct {
	ChainID          string          `json:"chain_id"`
	GenesisTime      int64           `json:"genesis_time"`
	BlockInterval    int64           `json:"block_interval"`
	CoinbaseMaturity int64           `json:"coinbase_maturity"`
	Authority        crypto.PubKey   `json:"authority"`
	Members          []GenesisMember `json:"members"`
	Alloc            []GenesisAlloc  `json:"alloc"`
}

// SaveAs is a utility method for saving GenesisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := tmjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(file, genDocBytes, 0644)
}

// ValidateAndComplete checks the genesis and fills defaults.
func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	if len(genDoc.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chain_id in genesis doc is too long (max: %d)", MaxChainIDLen)
	}
	if genDoc.Authority == nil {
		return errors.New("genesis doc must include the authority key")
	}
	if len(genDoc.Members) == 0 {
		return errors.New("genesis doc must include at least one member")
	}
	seen := make(map[string]struct{})
	for i, gm := range genDoc.Members {
		m := NewMember(gm.Name, gm.PubKeys...)
		if err := m.ValidateBasic(); err != nil {
			return fmt.Errorf("incorrect member %d in genesis: %w", i, err)
		}
		if _, ok := seen[string(m.IdentityHash)]; ok {
			return fmt.Errorf("duplicate member %v in genesis", m.IdentityHash)
		}
		seen[string(m.IdentityHash)] = struct{}{}
	}
	for i, a := range genDoc.Alloc {
		if len(a.Owner) != crypto.AddressSize {
			return fmt.Errorf("alloc %d has a malformed owner", i)
		}
	}
	if genDoc.BlockInterval <= 0 {
		genDoc.BlockInterval = DefaultBlockInterval
	}
	if genDoc.CoinbaseMaturity <= 0 {
		genDoc.CoinbaseMaturity = DefaultCoinbaseMaturity
	}
	if genDoc.GenesisTime == 0 {
		genDoc.GenesisTime = time.Now().Unix()
	}
	return nil
}

// InitialMembers returns the members admitted by the genesis block.
func (genDoc *GenesisDoc) InitialMembers() Members {
	ms := make(Members, len(genDoc.Members))
	for i, gm := range genDoc.Members {
		ms[i] = NewMember(gm.Name, gm.PubKeys...)
	}
	return ms
}

// Block builds the height-0 block: one allocation coinbase followed by the
// registrations of the initial members.
func (genDoc *GenesisDoc) Block() *Block {
	alloc := &Tx{Type: TxCoinbase, Outputs: []TxOutput{}}
	for _, a := range genDoc.Alloc {
		alloc.Outputs = append(alloc.Outputs, TxOutput{Value: a.Value, Owner: a.Owner})
	}
	txs := Txs{alloc}
	for _, m := range genDoc.InitialMembers() {
		txs = append(txs, NewRegisterTx(m, nil))
	}
	return MakeBlock(Header{
		ChainID:   genDoc.ChainID,
		Height:    0,
		PrevHash:  []byte{},
		Timestamp: genDoc.GenesisTime,
	}, txs)
}

// GenesisDocFromJSON unmarshalls JSON data into a GenesisDoc.
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	if err := tmjson.Unmarshal(jsonBlob, &genDoc); err != nil {
		return nil, err
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}
	return &genDoc, nil
}

// GenesisDocFromFile reads JSON data from a file and unmarshalls it into a GenesisDoc.
func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := ioutil.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, fmt.Errorf("error reading GenesisDoc at %s: %w", genDocFile, err)
	}
	return genDoc, nil
}
