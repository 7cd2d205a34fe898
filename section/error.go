package section

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

func ErrUnknownEvent(kind EventKind) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownEvent, lib.SectionModule, fmt.Sprintf("unknown churn event kind %d", kind))
}

func ErrOutOfOrderEvent(expected, got uint64) lib.ErrorI {
	return lib.NewError(lib.CodeOutOfOrderEvent, lib.SectionModule, fmt.Sprintf("expected event sequence %d, got %d", expected, got))
}

func ErrMemberExists(name lib.XorName) lib.ErrorI {
	return lib.NewError(lib.CodeMemberExists, lib.SectionModule, fmt.Sprintf("member %s already exists", name))
}

func ErrMemberNotFound(name lib.XorName) lib.ErrorI {
	return lib.NewError(lib.CodeMemberNotFound, lib.SectionModule, fmt.Sprintf("member %s not found", name))
}

func ErrNameOutsidePrefix(name lib.XorName, prefix lib.Prefix) lib.ErrorI {
	return lib.NewError(lib.CodeNameOutsidePrefix, lib.SectionModule, fmt.Sprintf("name %s is outside of prefix %s", name, prefix.Display()))
}

func ErrInvalidSplit(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidSplit, lib.SectionModule, fmt.Sprintf("invalid split: %s", reason))
}

func ErrInvalidMergeEvent(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidMergeEvent, lib.SectionModule, fmt.Sprintf("invalid merge: %s", reason))
}

func ErrInvalidStateChange(from, to State) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidStateChange, lib.SectionModule, fmt.Sprintf("invalid state change from %s to %s", from, to))
}

func ErrNotMember() lib.ErrorI {
	return lib.NewError(lib.CodeNotMember, lib.SectionModule, "this node is not a member of a section")
}

func ErrRelocationExpired() lib.ErrorI {
	return lib.NewError(lib.CodeRelocationExpired, lib.SectionModule, "relocation window expired")
}

func ErrInvalidEventData(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidEventData, lib.SectionModule, fmt.Sprintf("invalid event data: %s", reason))
}

func ErrStaleSectionInfo() lib.ErrorI {
	return lib.NewError(lib.CodeStaleSectionInfo, lib.SectionModule, "section info is not newer than our state")
}
