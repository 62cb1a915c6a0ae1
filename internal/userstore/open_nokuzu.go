//go:build !cgo

package userstore

import "errors"

func openKuzuBackend(string) (Backend, error) {
	return nil, errors.New("userstore: kuzu driver requires a cgo build")
}
