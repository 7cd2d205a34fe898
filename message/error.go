package message

import (
	"fmt"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
)

// IsProofError() returns true if a message was refused for its signature or its chain proof.
// These are validation failures of received data and never fatal
func IsProofError(err error) bool {
	return lib.Is(err, lib.RoutingModule, lib.CodeInvalidMessageSignature) || chain.IsProofError(err)
}

func ErrInvalidMessageSignature(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidMessageSignature, lib.RoutingModule, fmt.Sprintf("invalid message signature: %s", reason))
}

func ErrInvalidMessage(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidMessage, lib.RoutingModule, fmt.Sprintf("invalid message: %s", reason))
}

func ErrInvalidDestination(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidDestination, lib.RoutingModule, fmt.Sprintf("invalid destination: %s", reason))
}

func ErrUnknownVariant(v Variant) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownVariant, lib.RoutingModule, fmt.Sprintf("unknown message variant %d", v))
}
