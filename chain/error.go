package chain

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

// IsIntegrityError() returns true if the error reports a violated linkage invariant of a locally owned chain.
// These errors are fatal: routing must halt and an operator must intervene
func IsIntegrityError(err error) bool {
	return lib.Is(err, lib.ChainModule, lib.CodeChainIntegrity)
}

// IsProofError() returns true if the error reports an unverifiable proof carried by received data
func IsProofError(err error) bool {
	return lib.Is(err, lib.ChainModule, lib.CodeInvalidProof) ||
		lib.Is(err, lib.ChainModule, lib.CodeUntrustedProof) ||
		lib.Is(err, lib.ChainModule, lib.CodeEmptyProof)
}

func ErrChainIntegrity(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeChainIntegrity, lib.ChainModule, fmt.Sprintf("section chain integrity violated: %s", reason))
}

func ErrInvalidProof(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidProof, lib.ChainModule, fmt.Sprintf("invalid proof: %s", reason))
}

func ErrUntrustedProof() lib.ErrorI {
	return lib.NewError(lib.CodeUntrustedProof, lib.ChainModule, "proof does not contain a trusted key")
}

func ErrEmptyProof() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyProof, lib.ChainModule, "proof is empty")
}

func ErrPruneAnchor() lib.ErrorI {
	return lib.NewError(lib.CodePruneAnchor, lib.ChainModule, "cannot prune past a pinned anchor")
}

func ErrKeyNotInChain(key []byte) lib.ErrorI {
	return lib.NewError(lib.CodeKeyNotInChain, lib.ChainModule, fmt.Sprintf("key %s is not in the chain", lib.BytesToTruncatedString(key)))
}

func ErrInvalidMerge(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidMerge, lib.ChainModule, fmt.Sprintf("invalid merge: %s", reason))
}

func ErrEmptyChain() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyChain, lib.ChainModule, "chain has no links")
}

func ErrDuplicateKey(key []byte) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateKey, lib.ChainModule, fmt.Sprintf("key %s is already in the chain", lib.BytesToTruncatedString(key)))
}

func ErrInvalidLinkData() lib.ErrorI {
	return lib.NewError(lib.CodeInvalidLinkData, lib.ChainModule, "malformed link encoding")
}
