//go:build cgo

package userstore

func openKuzuBackend(path string) (Backend, error) {
	if path == "" {
		return NewKuzuStore()
	}
	return NewKuzuFileStore(path)
}
