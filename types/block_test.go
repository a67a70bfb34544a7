package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
)

type testSigner struct {
	privs []crypto.PrivKey
}

func (s testSigner) IdentityHash() Address { return IdentityHashFromKeys(s.PubKeys()) }

func (s testSigner) PubKeys() []crypto.PubKey {
	keys := make([]crypto.PubKey, len(s.privs))
	for i, p := range s.privs {
		keys[i] = p.PubKey()
	}
	return keys
}

func (s testSigner) Sign(msg []byte) ([][]byte, error) {
	sigs := make([][]byte, len(s.privs))
	for i, p := range s.privs {
		sig, err := p.Sign(msg)
		if err != nil {
			return nil, err
		}
		sigs[i] = sig
	}
	return sigs, nil
}

func testGenesis() *GenesisDoc {
	return &GenesisDoc{
		ChainID:     "test-chain",
		GenesisTime: 1000,
		Authority:   ed25519.GenPrivKeyFromSecret([]byte("root")).PubKey(),
		Members: []GenesisMember{
			{Name: "a", PubKeys: []crypto.PubKey{ed25519.GenPrivKeyFromSecret([]byte("a")).PubKey()}},
			{Name: "b", PubKeys: []crypto.PubKey{ed25519.GenPrivKeyFromSecret([]byte("b")).PubKey()}},
		},
		Alloc: []GenesisAlloc{{Owner: ed25519.GenPrivKeyFromSecret([]byte("a")).PubKey().Address(), Value: 100}},
	}
}

func TestGenesisBlock(t *testing.T) {
	genDoc := testGenesis()
	require.NoError(t, genDoc.ValidateAndComplete())
	assert.EqualValues(t, DefaultBlockInterval, genDoc.BlockInterval)

	b := genDoc.Block()
	require.NoError(t, b.ValidateBasic())
	assert.True(t, b.IsGenesis())
	assert.EqualValues(t, 1000, b.Timestamp)
	require.Len(t, b.Txs, 3)
	assert.Equal(t, TxCoinbase, b.Txs[0].Type)
	assert.Equal(t, TxRegister, b.Txs[1].Type)
	assert.Equal(t, genDoc.Block().Hash(), b.Hash(), "genesis block is deterministic")
}

func TestGenesisValidate(t *testing.T) {
	genDoc := testGenesis()
	genDoc.Members = append(genDoc.Members, genDoc.Members[0])
	assert.Error(t, genDoc.ValidateAndComplete())

	genDoc = testGenesis()
	genDoc.Authority = nil
	assert.Error(t, genDoc.ValidateAndComplete())
}

func TestGenesisSaveAndLoad(t *testing.T) {
	genDoc := testGenesis()
	require.NoError(t, genDoc.ValidateAndComplete())
	file := t.TempDir() + "/genesis.json"
	require.NoError(t, genDoc.SaveAs(file))

	loaded, err := GenesisDocFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, genDoc.Block().Hash(), loaded.Block().Hash())
	assert.True(t, loaded.Authority.Equals(genDoc.Authority))
}

func TestBlockValidateBasic(t *testing.T) {
	signer := testSigner{privs: []crypto.PrivKey{ed25519.GenPrivKeyFromSecret([]byte("a"))}}
	genesis := testGenesis().Block()

	header := Header{
		ChainID:          "test-chain",
		Height:           1,
		PrevHash:         genesis.Hash(),
		Timestamp:        1010,
		PeriodCount:      2,
		TimePeriod:       0,
		PeriodStartPoint: 0,
	}
	b := MakeBlock(header, Txs{NewCoinbaseTx(signer.IdentityHash(), 0, 1, 10)})
	assert.Error(t, b.ValidateBasic(), "unsigned")

	require.NoError(t, SignHeader(signer, &b.Header))
	require.NoError(t, b.ValidateBasic())
	assert.True(t, NewMember("a", signer.PubKeys()...).VerifySignatures(b.Hash(), b.SignatureBytes()))

	hash := b.Hash()
	b.Signatures = nil
	assert.Equal(t, hash, b.Hash(), "signatures are not hashed")

	b.Txs = append(b.Txs, NewCoinbaseTx(signer.IdentityHash(), 0, 2, 10))
	assert.Error(t, b.ValidateBasic())

	bad := *b
	bad.TimePeriod = 2
	assert.Error(t, bad.Header.ValidateBasic())
}

func TestBlockBytesRoundTrip(t *testing.T) {
	b := testGenesis().Block()
	decoded, err := BlockFromBytes(b.Bytes())
	require.NoError(t, err)
	assert.Equal(t, b.Hash(), decoded.Hash())
	assert.Equal(t, b.Txs.Hash(), decoded.Txs.Hash())
}

func TestViolationRecordEvidenceHash(t *testing.T) {
	offender := ed25519.GenPrivKeyFromSecret([]byte("c")).PubKey().Address()

	r1 := NewMissedSlotRecord(offender, 10, 5000, 2)
	r2 := NewMissedSlotRecord(offender, 10, 5000, 2)
	assert.NoError(t, r1.ValidateBasic())
	assert.Equal(t, r1.EvidenceHash(), r2.EvidenceHash())
	assert.NotEqual(t, r1.EvidenceHash(), NewMissedSlotRecord(offender, 10, 5000, 3).EvidenceHash())
	assert.NotEqual(t, r1.EvidenceHash(), NewMissedSlotRecord(offender, 11, 5000, 2).EvidenceHash())

	broken := r1
	broken.Kind = ViolationEquivocation
	assert.Error(t, broken.ValidateBasic())
}

func TestEquivocationRecordIsOrderIndependent(t *testing.T) {
	signer := testSigner{privs: []crypto.PrivKey{ed25519.GenPrivKeyFromSecret([]byte("a"))}}
	h1 := Header{ChainID: "c", Height: 3, PrevHash: []byte{1}, PeriodCount: 2, TimePeriod: 1, PeriodStartPoint: 1, Timestamp: 10}
	h2 := h1
	h2.TxsHash = []byte{9}
	require.NoError(t, SignHeader(signer, &h1))
	require.NoError(t, SignHeader(signer, &h2))

	r1 := NewEquivocationRecord(h1, h2)
	r2 := NewEquivocationRecord(h2, h1)
	require.NoError(t, r1.ValidateBasic())
	assert.Equal(t, r1.EvidenceHash(), r2.EvidenceHash())
	assert.Equal(t, signer.IdentityHash(), r1.Offender)
}
