package resource

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

func ErrChallengeExpired(candidate lib.XorName) lib.ErrorI {
	return lib.NewError(lib.CodeChallengeExpired, lib.ResourceProofModule, fmt.Sprintf("challenge for %s expired", candidate))
}

func ErrChallengeMismatch(candidate lib.XorName) lib.ErrorI {
	return lib.NewError(lib.CodeChallengeMismatch, lib.ResourceProofModule, fmt.Sprintf("response from %s does not answer the pending challenge", candidate))
}

func ErrNoChallenge(candidate lib.XorName) lib.ErrorI {
	return lib.NewError(lib.CodeNoChallenge, lib.ResourceProofModule, fmt.Sprintf("no pending challenge for %s", candidate))
}

func ErrBlacklisted(candidate lib.XorName) lib.ErrorI {
	return lib.NewError(lib.CodeBlacklisted, lib.ResourceProofModule, fmt.Sprintf("candidate %s is blacklisted", candidate))
}

func ErrSolveCancelled() lib.ErrorI {
	return lib.NewError(lib.CodeSolveCancelled, lib.ResourceProofModule, "solving was cancelled")
}
