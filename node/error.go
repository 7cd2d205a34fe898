package node

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

func ErrNodeStopped() lib.ErrorI {
	return lib.NewError(lib.CodeNodeStopped, lib.NodeModule, "node stopped")
}

func ErrNodeHalted() lib.ErrorI {
	return lib.NewError(lib.CodeNodeHalted, lib.NodeModule, "node halted after a chain integrity failure")
}

func ErrNotJoined() lib.ErrorI {
	return lib.NewError(lib.CodeNotJoined, lib.NodeModule, "node has not joined a section yet")
}

func ErrGenesisKey(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeGenesisKey, lib.NodeModule, fmt.Sprintf("invalid genesis: %s", reason))
}

func ErrOutboxFull(endpoint string) lib.ErrorI {
	return lib.NewError(lib.CodeOutboxFull, lib.NodeModule, fmt.Sprintf("outbox full, dropping frame to %s", endpoint))
}

func ErrInvalidPayload(variant fmt.Stringer, err error) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidPayload, lib.NodeModule, fmt.Sprintf("invalid %s payload: %s", variant, err.Error()))
}
