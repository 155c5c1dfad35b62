package container

import (
	"os"
	"path/filepath"

	"github.com/barnettlynn/save3dscore/pkg/crypto"
	"github.com/barnettlynn/save3dscore/pkg/difi"
	"github.com/barnettlynn/save3dscore/pkg/raf"
)

// OpenBare opens a DIFF container without checking its header signature,
// for inspecting an image when no key is available or trust is established
// some other way.
func OpenBare(file raf.RandomAccessFile, p difi.Param) (*DiffContainer, error) {
	var zero [16]byte
	return OpenDiff(file, zero, p, false)
}

// OpenWithKey opens a DIFF container and verifies its header signature
// against key.
func OpenWithKey(file raf.RandomAccessFile, key [16]byte, p difi.Param) (*DiffContainer, error) {
	return OpenDiff(file, key, p, true)
}

// OpenSDFile wraps a disk-backed leaf with the outer AES-CTR layer the
// console applies to every file under its SD save directory — a distinct
// encryption layer from the inner CMAC-signed container header, keyed by
// ctrKey (the console's scrambled SD key) and a counter derived from the
// file's path components relative to the SD root.
func OpenSDFile(leaf raf.RandomAccessFile, ctrKey [16]byte, path []string) (raf.RandomAccessFile, error) {
	baseCtr := crypto.DeriveCounter(path)
	return raf.NewAesCtrFile(leaf, ctrKey, baseCtr)
}

// LocateSDRoot finds the per-console save directory under sdRoot (an SD
// card's root): the "Nintendo 3DS" directory holds one subdirectory named
// after keyY, which in turn holds a single further id directory that is the
// actual file-open root. That inner directory's name is not derivable from
// key material, so it is discovered by scanning for the first
// subdirectory. Fails with KindNotFound when none exists. Key extraction
// from movable.sed stays out of scope; callers supply keyY already
// extracted.
func LocateSDRoot(sdRoot string, keyY [16]byte) (string, error) {
	hashed := filepath.Join(sdRoot, "Nintendo 3DS", crypto.HashMovable(keyY))
	entries, err := os.ReadDir(hashed)
	if err != nil {
		return "", raf.WrapError(raf.KindIO, "LocateSDRoot", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(hashed, e.Name()), nil
		}
	}
	return "", raf.NewError(raf.KindNotFound, "LocateSDRoot: no id directory under "+hashed)
}
