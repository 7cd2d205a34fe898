package store

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
)

func ErrOpenDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeOpenDB, lib.StoreModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCloseDB, lib.StoreModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrStoreSet(err error) lib.ErrorI {
	return lib.NewError(lib.CodeStoreSet, lib.StoreModule, fmt.Sprintf("store.set() failed with err: %s", err.Error()))
}

func ErrStoreGet(err error) lib.ErrorI {
	return lib.NewError(lib.CodeStoreGet, lib.StoreModule, fmt.Sprintf("store.get() failed with err: %s", err.Error()))
}

func ErrCorruptKey(key string, err error) lib.ErrorI {
	return lib.NewError(lib.CodeCorruptKey, lib.StoreModule, fmt.Sprintf("value of key %q is corrupt: %s", key, err.Error()))
}
