// Package difi assembles a DifiPartition: the DPFS (dual-pyramid) and IVFC
// (integrity file chain) structures that together give one hash-verified,
// dual-buffered data region. It is built entirely from pkg/raf layers; it
// has no knowledge of container framing (that's pkg/container).
//
// The pyramid works bottom-up. DPFS level3 is the dual-copied payload: it
// holds the IVFC hash regions and, unless the data is external, the data
// itself. Level3's selector is one bit of DPFS level2's content, which is a
// dual-copied region in turn; level2's selector is one bit of the level1
// selector byte at the head of the descriptor. A write session touches only
// inactive copies; each level's commit flips its selector bit into the
// level above, and the topmost flip (level1's byte, or the enclosing
// container's active-table bit when the whole descriptor is itself
// dual-copied) publishes everything at once.
package difi

import "github.com/barnettlynn/save3dscore/pkg/raf"

// Param describes a partition's shape: every block length is a
// power of two, data_len is arbitrary, external_ivfc_level4 selects whether
// the bulk data region lives inside the descriptor or alongside it as a
// separately-allocated partition body.
type Param struct {
	DpfsLevel2BlockLen int64
	DpfsLevel3BlockLen int64
	IvfcLevel1BlockLen int64
	IvfcLevel2BlockLen int64
	IvfcLevel3BlockLen int64
	IvfcLevel4BlockLen int64
	DataLen            int64
	ExternalIvfcLevel4 bool
}

// Align returns partition_align = max(dpfs_level3_block_len,
// ivfc_level4_block_len), the alignment the enclosing container must apply
// to the partition body's offset.
func (p Param) Align() int64 {
	if p.DpfsLevel3BlockLen > p.IvfcLevel4BlockLen {
		return p.DpfsLevel3BlockLen
	}
	return p.IvfcLevel4BlockLen
}

func alignUp(value, align int64) int64 {
	if align <= 0 {
		return value
	}
	return value + (align-value%align)%align
}

func divideUp(value, align int64) int64 {
	if value == 0 {
		return 0
	}
	return 1 + (value-1)/align
}

const hashLen = 32

// layout is the deterministic bottom-up size/offset computation shared by
// Format and New (open). Descriptor offsets are relative to the start of
// the descriptor region; payload offsets are relative to the start of the
// DPFS level3 payload (one copy of it); partition offsets are relative to
// the start of the external partition body.
//
// l3Size is the IVFC level3 region's length (the hash store for the user
// data); l2Size is the IVFC level2 region's length (the hash store for the
// level3 region). Level1, the 32-byte apex, lives in the enclosing
// container's header and is not laid out here.
type layout struct {
	l2Size int64
	l3Size int64

	// descriptor regions
	level1SelectorOffset int64
	level2CopyAOffset    int64 // 1 byte each: the level3 selector bitmap
	level2CopyBOffset    int64
	level3CopyAOffset    int64 // payloadLen bytes each
	level3CopyBOffset    int64

	// dpfs level3 payload regions
	ivfcL3RegionOffset   int64 // l2 region sits at payload offset 0
	level4SelectorOffset int64 // only meaningful when ExternalIvfcLevel4
	level4DataOffset     int64 // only meaningful when !ExternalIvfcLevel4
	payloadLen           int64

	// external partition body: copy A at 0, copy B aligned past the data
	partitionCopyBOffset int64

	descriptorLen int64
	partitionLen  int64
}

// computeLayout walks the structure from the bottom (the user data) up,
// aligning each region to its governing block length and summing. Used
// identically at Format and Open time, which is what guarantees the two
// always agree on a partition's shape.
func computeLayout(p Param) layout {
	l3Size := divideUp(p.DataLen, p.IvfcLevel4BlockLen) * hashLen
	l2Size := divideUp(l3Size, p.IvfcLevel3BlockLen) * hashLen

	pOff := l2Size
	pOff = alignUp(pOff, p.IvfcLevel3BlockLen)
	ivfcL3RegionOffset := pOff
	pOff += l3Size

	var level4SelectorOffset, level4DataOffset int64
	if p.ExternalIvfcLevel4 {
		level4SelectorOffset = pOff
		pOff++
	} else {
		pOff = alignUp(pOff, p.IvfcLevel4BlockLen)
		level4DataOffset = pOff
		pOff += p.DataLen
	}
	payloadLen := pOff

	off := int64(0)
	level1SelectorOffset := off
	off++

	off = alignUp(off, p.DpfsLevel2BlockLen)
	level2CopyA := off
	off++
	level2CopyB := off
	off++

	off = alignUp(off, p.DpfsLevel3BlockLen)
	level3CopyA := off
	off += payloadLen
	off = alignUp(off, p.DpfsLevel3BlockLen)
	level3CopyB := off
	off += payloadLen

	var partitionCopyB, partitionLen int64
	if p.ExternalIvfcLevel4 {
		partitionCopyB = alignUp(p.DataLen, p.IvfcLevel4BlockLen)
		partitionLen = partitionCopyB + p.DataLen
	}

	return layout{
		l2Size: l2Size, l3Size: l3Size,
		level1SelectorOffset: level1SelectorOffset,
		level2CopyAOffset:    level2CopyA,
		level2CopyBOffset:    level2CopyB,
		level3CopyAOffset:    level3CopyA,
		level3CopyBOffset:    level3CopyB,
		ivfcL3RegionOffset:   ivfcL3RegionOffset,
		level4SelectorOffset: level4SelectorOffset,
		level4DataOffset:     level4DataOffset,
		payloadLen:           payloadLen,
		partitionCopyBOffset: partitionCopyB,
		descriptorLen:        off,
		partitionLen:         partitionLen,
	}
}

// CalculateSize returns (descriptorLen, partitionLen) for p, the same
// computation Format() and New() both call, guaranteeing they agree.
func CalculateSize(p Param) (descriptorLen, partitionLen int64) {
	l := computeLayout(p)
	return l.descriptorLen, l.partitionLen
}

func checkParam(p Param) error {
	for _, blockLen := range []int64{
		p.DpfsLevel2BlockLen, p.DpfsLevel3BlockLen,
		p.IvfcLevel1BlockLen, p.IvfcLevel2BlockLen,
		p.IvfcLevel3BlockLen, p.IvfcLevel4BlockLen,
	} {
		if blockLen <= 0 || blockLen&(blockLen-1) != 0 {
			return raf.NewError(raf.KindBrokenLayout, "difi.Param: block length must be a power of two")
		}
	}
	if p.DataLen < 0 {
		return raf.NewError(raf.KindBrokenLayout, "difi.Param: negative data length")
	}
	return nil
}
