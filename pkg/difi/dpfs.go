package difi

import "github.com/barnettlynn/save3dscore/pkg/raf"

// newDualRegion wires one level of the dual pyramid: two same-length copy
// windows carved out of parent, selected by a single bit read through
// selector. DifiPartition addresses every level with block index 0 — each
// level here is one dual-copied block — so the general multi-block bitmap
// the packing rule in bitSelector supports collapses to bit 0 of one byte.
// A multi-block extension only needs a different blockIndex per region.
func newDualRegion(selector *bitSelector, parent raf.RandomAccessFile, copyAOffset, copyBOffset, size int64) (*raf.DualFile, error) {
	copyA, err := raf.NewSubFile(parent, copyAOffset, size)
	if err != nil {
		return nil, err
	}
	copyB, err := raf.NewSubFile(parent, copyBOffset, size)
	if err != nil {
		return nil, err
	}
	return raf.NewDualFile(selector, [2]raf.RandomAccessFile{copyA, copyB})
}
