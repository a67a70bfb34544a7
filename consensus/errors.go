package consensus

import "github.com/pkg/errors"

var (
	// ErrMalformedMessage is returned for messages that fail decoding,
	// signature or version checks. The message is dropped.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrStaleResponse is returned for state responses that arrive too late
	// or disagree with the local chain. The response is ignored.
	ErrStaleResponse = errors.New("stale or adversarial state response")

	// ErrInvalidEvidence is returned for gossiped evidence that does not
	// hold against the local chain.
	ErrInvalidEvidence = errors.New("invalid evidence")

	// ErrUnexpectedProducer is returned for blocks whose producer does not
	// own the slot they claim.
	ErrUnexpectedProducer = errors.New("block producer does not own the slot")

	// ErrInvalidBlock is returned for blocks carrying transactions the
	// producer could not have admitted.
	ErrInvalidBlock = errors.New("invalid block transactions")

	// ErrConflictingBlock is returned for blocks competing with a stored one.
	ErrConflictingBlock = errors.New("conflicting block at height")
)

var errNoConsensus = errors.New("reactor has no consensus state")
