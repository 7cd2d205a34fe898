package p2p

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

func ErrFailedDial(endpoint string, err error) lib.ErrorI {
	return lib.NewError(lib.CodeDial, lib.P2PModule, fmt.Sprintf("dial %s failed with err: %s", endpoint, err))
}

func ErrFailedListen(err error) lib.ErrorI {
	return lib.NewError(lib.CodeListen, lib.P2PModule, fmt.Sprintf("listen failed with err: %s", err))
}

func ErrFailedSend(endpoint string, err error) lib.ErrorI {
	return lib.NewError(lib.CodeSend, lib.P2PModule, fmt.Sprintf("send to %s failed with err: %s", endpoint, err))
}

func ErrTransportClosed() lib.ErrorI {
	return lib.NewError(lib.CodeTransportClose, lib.P2PModule, "transport closed")
}

func ErrUnknownPeer(endpoint string) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownPeer, lib.P2PModule, fmt.Sprintf("unknown peer %s", endpoint))
}

func ErrMaxFrameSize(size, max uint64) lib.ErrorI {
	return lib.NewError(lib.CodeMaxFrameSize, lib.P2PModule, fmt.Sprintf("frame of %d bytes exceeds max %d", size, max))
}

func ErrTLSConfig(err error) lib.ErrorI {
	return lib.NewError(lib.CodeTLSConfig, lib.P2PModule, fmt.Sprintf("tls config failed with err: %s", err))
}
