package routing

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

func ErrNoRoute(target fmt.Stringer) lib.ErrorI {
	return lib.NewError(lib.CodeNoRoute, lib.RoutingModule, fmt.Sprintf("no route towards %s", target))
}

func ErrDuplicateMessage(id string) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateMessage, lib.RoutingModule, fmt.Sprintf("duplicate message %s", id))
}

func ErrRoutingHalted() lib.ErrorI {
	return lib.NewError(lib.CodeRoutingHalted, lib.RoutingModule, "routing halted after a chain integrity failure")
}

func ErrNotAShare() lib.ErrorI {
	return lib.NewError(lib.CodeInvalidMessage, lib.RoutingModule, "invalid message: not a section signature share")
}
