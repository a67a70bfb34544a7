package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
)

// Verifier checks signatures of transactions and consensus messages.
type Verifier interface {
	VerifyTx(tx *Tx) error
	VerifyMessage(msg *RoundMessage) error
}

// SignatureVerifier checks input signatures and authority counter-signatures.
type SignatureVerifier struct {
	chainID   string
	authority crypto.PubKey
}

var _ Verifier = (*SignatureVerifier)(nil)

func NewSignatureVerifier(chainID string, authority crypto.PubKey) *SignatureVerifier {
	return &SignatureVerifier{chainID: chainID, authority: authority}
}

func (v *SignatureVerifier) VerifyTx(tx *Tx) error {
	if err := tx.ValidateBasic(); err != nil {
		return err
	}
	if len(tx.Inputs) > 0 {
		msg := tx.SignBytes()
		for i, in := range tx.Inputs {
			if in.PubKey == nil {
				return fmt.Errorf("input %d has no public key", i)
			}
			if !in.PubKey.VerifySignature(msg, in.Signature) {
				return fmt.Errorf("input %d has an invalid signature", i)
			}
		}
	}

	var change *MemberChange
	switch tx.Type {
	case TxRegister:
		change = tx.Registration
	case TxDeregister:
		change = tx.Deregistration
	default:
		return nil
	}
	if v.authority == nil {
		return errors.New("no authority key to verify membership change")
	}
	if !v.authority.VerifySignature(RegistrationSignBytes(v.chainID, tx.Type, change.Member), change.AuthoritySig) {
		return errors.New("membership change is not signed by the authority")
	}
	return nil
}

func (v *SignatureVerifier) VerifyMessage(msg *RoundMessage) error {
	if err := msg.ValidateBasic(); err != nil {
		return err
	}
	id := msg.ID()
	for i, k := range msg.SenderKeys {
		if !k.VerifySignature(id, msg.Signatures[i]) {
			return fmt.Errorf("message signature %d is invalid", i)
		}
	}
	return nil
}
