package lib

import (
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	// Constructs a new Error instance
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

// Is() reports whether err is an ErrorI with the given module and code
func Is(err error, module ErrorModule, code ErrorCode) bool {
	e, ok := err.(ErrorI)
	if !ok || e == nil {
		return false
	}
	return e.Module() == module && e.Code() == code
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal        ErrorCode = 1
	CodeJSONUnmarshal      ErrorCode = 2
	CodeUnmarshal          ErrorCode = 3
	CodeMarshal            ErrorCode = 4
	CodeStringToBytes      ErrorCode = 5
	CodeWriteFile          ErrorCode = 6
	CodeReadFile           ErrorCode = 7
	CodeInvalidArgument    ErrorCode = 8
	CodeInvalidPrefix      ErrorCode = 9
	CodeInvalidName        ErrorCode = 10
	CodeNewPubKeyFromBytes ErrorCode = 11
	CodeNewMultiPubKey     ErrorCode = 12
	CodeInvalidSignature   ErrorCode = 13
	CodeThresholdSignature ErrorCode = 14
	CodeMaxMessageSize     ErrorCode = 15
	CodePanic              ErrorCode = 16

	// Chain Module
	ChainModule ErrorModule = "chain"

	// Chain Module Error Codes
	CodeChainIntegrity  ErrorCode = 1
	CodeInvalidProof    ErrorCode = 2
	CodeUntrustedProof  ErrorCode = 3
	CodeEmptyProof      ErrorCode = 4
	CodePruneAnchor     ErrorCode = 5
	CodeKeyNotInChain   ErrorCode = 6
	CodeInvalidMerge    ErrorCode = 7
	CodeEmptyChain      ErrorCode = 8
	CodeDuplicateKey    ErrorCode = 9
	CodeInvalidLinkData ErrorCode = 10

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeStalledConsensus       ErrorCode = 1
	CodeNoQuorum               ErrorCode = 2
	CodeEmptyAgreement         ErrorCode = 3
	CodeInvalidAgreement       ErrorCode = 4
	CodeNotElder               ErrorCode = 5
	CodeEngineClosed           ErrorCode = 6
	CodeInvalidVote            ErrorCode = 7
	CodeEmptyElderSet          ErrorCode = 8
	CodeMismatchElderBitmap    ErrorCode = 9
	CodeInvalidAggregateSigLen ErrorCode = 10

	// Section Module
	SectionModule ErrorModule = "section"

	// Section Module Error Codes
	CodeUnknownEvent       ErrorCode = 1
	CodeOutOfOrderEvent    ErrorCode = 2
	CodeMemberExists       ErrorCode = 3
	CodeMemberNotFound     ErrorCode = 4
	CodeNameOutsidePrefix  ErrorCode = 5
	CodeInvalidSplit       ErrorCode = 6
	CodeInvalidMergeEvent  ErrorCode = 7
	CodeInvalidStateChange ErrorCode = 8
	CodeNotMember          ErrorCode = 9
	CodeRelocationExpired  ErrorCode = 10
	CodeInvalidEventData   ErrorCode = 11
	CodeStaleSectionInfo   ErrorCode = 12

	// Routing Module
	RoutingModule ErrorModule = "routing"

	// Routing Module Error Codes
	CodeNoRoute                 ErrorCode = 1
	CodeDuplicateMessage        ErrorCode = 2
	CodeInvalidMessageSignature ErrorCode = 3
	CodeInvalidMessage          ErrorCode = 4
	CodeInvalidDestination      ErrorCode = 5
	CodeRoutingHalted           ErrorCode = 6
	CodeUnknownVariant          ErrorCode = 7

	// Resource Proof Module
	ResourceProofModule ErrorModule = "resource_proof"

	// Resource Proof Module Error Codes
	CodeChallengeExpired  ErrorCode = 1
	CodeChallengeMismatch ErrorCode = 2
	CodeNoChallenge       ErrorCode = 3
	CodeBlacklisted       ErrorCode = 4
	CodeSolveCancelled    ErrorCode = 5

	// P2P Module
	P2PModule ErrorModule = "p2p"

	// P2P Module Error Codes
	CodeDial           ErrorCode = 1
	CodeListen         ErrorCode = 2
	CodeSend           ErrorCode = 3
	CodeTransportClose ErrorCode = 4
	CodeUnknownPeer    ErrorCode = 5
	CodeMaxFrameSize   ErrorCode = 6
	CodeTLSConfig      ErrorCode = 7

	// Store Module
	StoreModule ErrorModule = "store"

	// Store Module Error Codes
	CodeOpenDB     ErrorCode = 1
	CodeCloseDB    ErrorCode = 2
	CodeStoreSet   ErrorCode = 3
	CodeStoreGet   ErrorCode = 4
	CodeCorruptKey ErrorCode = 5

	// Node Module
	NodeModule ErrorModule = "node"

	// Node Module Error Codes
	CodeNodeStopped    ErrorCode = 1
	CodeNodeHalted     ErrorCode = 2
	CodeNotJoined      ErrorCode = 3
	CodeGenesisKey     ErrorCode = 4
	CodeOutboxFull     ErrorCode = 5
	CodeInvalidPayload ErrorCode = 6

	// RPC Module
	RPCModule ErrorModule = "rpc"

	// RPC Module Error Codes
	CodeRPCTimeout ErrorCode = 1
	CodeGetRequest ErrorCode = 2
	CodeHttpStatus ErrorCode = 3
	CodeReadBody   ErrorCode = 4
)

func ErrUnmarshal(err error) ErrorI {
	return NewError(CodeUnmarshal, MainModule, fmt.Sprintf("unmarshal() failed with err: %s", err.Error()))
}

func ErrMarshal(err error) ErrorI {
	return NewError(CodeMarshal, MainModule, fmt.Sprintf("marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrStringToBytes(err error) ErrorI {
	return NewError(CodeStringToBytes, MainModule, fmt.Sprintf("stringToBytes() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrInvalidArgument() ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "the argument is invalid")
}

func ErrInvalidPrefix(s string) ErrorI {
	return NewError(CodeInvalidPrefix, MainModule, fmt.Sprintf("invalid prefix %q", s))
}

func ErrInvalidName() ErrorI {
	return NewError(CodeInvalidName, MainModule, "xor name has the wrong length")
}

func ErrPubKeyFromBytes(err error) ErrorI {
	return NewError(CodeNewPubKeyFromBytes, MainModule, fmt.Sprintf("publicKeyFromBytes() failed with err: %s", err.Error()))
}

func ErrNewMultiPubKey(err error) ErrorI {
	return NewError(CodeNewMultiPubKey, MainModule, fmt.Sprintf("newMultiPubKey() failed with err: %s", err.Error()))
}

func ErrInvalidSignature() ErrorI {
	return NewError(CodeInvalidSignature, MainModule, "invalid signature")
}

func ErrThresholdSignature(err error) ErrorI {
	return NewError(CodeThresholdSignature, MainModule, fmt.Sprintf("threshold signature failed with err: %s", err.Error()))
}

func ErrMaxMessageSize(size, max int) ErrorI {
	return NewError(CodeMaxMessageSize, MainModule, fmt.Sprintf("message of %d bytes exceeds the max of %d", size, max))
}

func ErrPanic() ErrorI {
	return NewError(CodePanic, MainModule, "panic")
}
