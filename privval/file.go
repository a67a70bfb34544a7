package privval

import (
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"

	"slotchain/types"
)

// ErrKeyFile is returned for identity key files that cannot be used.
var ErrKeyFile = errors.New("invalid identity key file")

//-------------------------------------------------------------------------------

// FilePVKey stores the keys of the local member identity.
type FilePVKey struct {
	IdentityHash types.Address    `json:"identity_hash"`
	PubKeys      []crypto.PubKey  `json:"pub_keys"`
	PrivKeys     []crypto.PrivKey `json:"priv_keys"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() error {
	outFile := pvKey.filePath
	if outFile == "" {
		return errors.New("cannot save identity key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
}

//-------------------------------------------------------------------------------

// FilePV implements types.PrivValidator with keys persisted to disk.
// NOTE: the directory containing the key file must already exist.
type FilePV struct {
	Key FilePVKey
}

var _ types.PrivValidator = (*FilePV)(nil)

// NewFilePV builds an identity from one or two private keys.
func NewFilePV(keyFilePath string, privKeys ...crypto.PrivKey) *FilePV {
	pubKeys := make([]crypto.PubKey, len(privKeys))
	for i, k := range privKeys {
		pubKeys[i] = k.PubKey()
	}
	return &FilePV{
		Key: FilePVKey{
			IdentityHash: types.IdentityHashFromKeys(pubKeys),
			PubKeys:      pubKeys,
			PrivKeys:     privKeys,
			filePath:     keyFilePath,
		},
	}
}

// GenFilePV generates an identity of numKeys random ed25519 keys and sets
// the filePath, but does not call Save().
func GenFilePV(keyFilePath string, numKeys int) (*FilePV, error) {
	if numKeys < 1 || numKeys > types.MaxMemberKeys {
		return nil, fmt.Errorf("identity needs 1 to %d keys, got %d", types.MaxMemberKeys, numKeys)
	}
	privKeys := make([]crypto.PrivKey, numKeys)
	for i := range privKeys {
		privKeys[i] = ed25519.GenPrivKey()
	}
	return NewFilePV(keyFilePath, privKeys...), nil
}

// LoadFilePV loads a FilePV from keyFilePath.
func LoadFilePV(keyFilePath string) (*FilePV, error) {
	keyJSONBytes, err := ioutil.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	pvKey := FilePVKey{}
	if err := tmjson.Unmarshal(keyJSONBytes, &pvKey); err != nil {
		return nil, errors.Wrapf(ErrKeyFile, "reading %v: %v", keyFilePath, err)
	}
	if len(pvKey.PrivKeys) == 0 || len(pvKey.PrivKeys) > types.MaxMemberKeys {
		return nil, errors.Wrapf(ErrKeyFile, "%v holds %d keys", keyFilePath, len(pvKey.PrivKeys))
	}

	// overwrite pubkeys and identity for convenience
	pv := NewFilePV(keyFilePath, pvKey.PrivKeys...)
	return pv, nil
}

// LoadOrGenFilePV loads a FilePV from keyFilePath or else generates a
// single-key identity and saves it there.
func LoadOrGenFilePV(keyFilePath string) (*FilePV, error) {
	if tmos.FileExists(keyFilePath) {
		return LoadFilePV(keyFilePath)
	}
	pv, err := GenFilePV(keyFilePath, 1)
	if err != nil {
		return nil, err
	}
	if err := pv.Save(); err != nil {
		return nil, err
	}
	return pv, nil
}

func (pv *FilePV) IdentityHash() types.Address {
	return pv.Key.IdentityHash
}

func (pv *FilePV) PubKeys() []crypto.PubKey {
	return pv.Key.PubKeys
}

// Sign signs msg with every key, in key order.
func (pv *FilePV) Sign(msg []byte) ([][]byte, error) {
	sigs := make([][]byte, len(pv.Key.PrivKeys))
	for i, k := range pv.Key.PrivKeys {
		sig, err := k.Sign(msg)
		if err != nil {
			return nil, errors.Wrapf(err, "signing with key %d", i)
		}
		sigs[i] = sig
	}
	return sigs, nil
}

// Member returns the identity as a member record with the given name.
func (pv *FilePV) Member(name string) types.Member {
	return types.NewMember(name, pv.Key.PubKeys...)
}

// Save persists the FilePV to disk.
func (pv *FilePV) Save() error {
	return pv.Key.Save()
}

// String returns a string representation of the FilePV.
func (pv *FilePV) String() string {
	return fmt.Sprintf("PrivValidator{%v keys:%d}", pv.IdentityHash(), len(pv.Key.PubKeys))
}
