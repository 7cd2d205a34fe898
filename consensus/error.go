package consensus

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

// IsStalled() returns true if the error reports an engine making no progress
func IsStalled(err error) bool {
	return lib.Is(err, lib.ConsensusModule, lib.CodeStalledConsensus)
}

func ErrStalledConsensus(rounds, pending int) lib.ErrorI {
	return lib.NewError(lib.CodeStalledConsensus, lib.ConsensusModule, fmt.Sprintf("no agreement after %d polls with %d pending proposals", rounds, pending))
}

func ErrNoQuorum(signers, needed int) lib.ErrorI {
	return lib.NewError(lib.CodeNoQuorum, lib.ConsensusModule, fmt.Sprintf("agreement carries %d of the %d needed elder signatures", signers, needed))
}

func ErrEmptyAgreement() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyAgreement, lib.ConsensusModule, "empty agreement")
}

func ErrInvalidAgreement(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidAgreement, lib.ConsensusModule, fmt.Sprintf("invalid agreement: %s", reason))
}

func ErrNotElder() lib.ErrorI {
	return lib.NewError(lib.CodeNotElder, lib.ConsensusModule, "the local key is not in the elder set")
}

func ErrEngineClosed() lib.ErrorI {
	return lib.NewError(lib.CodeEngineClosed, lib.ConsensusModule, "engine closed")
}

func ErrInvalidVote(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidVote, lib.ConsensusModule, fmt.Sprintf("invalid vote: %s", reason))
}

func ErrEmptyElderSet() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyElderSet, lib.ConsensusModule, "empty elder set")
}

func ErrMismatchElderBitmap(err error) lib.ErrorI {
	return lib.NewError(lib.CodeMismatchElderBitmap, lib.ConsensusModule, fmt.Sprintf("bitmap does not fit the elder set: %s", err.Error()))
}

func ErrInvalidAggregateSigLen(length int) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidAggregateSigLen, lib.ConsensusModule, fmt.Sprintf("aggregate signature of %d bytes", length))
}
