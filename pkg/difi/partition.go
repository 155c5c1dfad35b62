package difi

import "github.com/barnettlynn/save3dscore/pkg/raf"

// DifiPartition is one hash-verified, dual-buffered data region. The IVFC
// level2 and level3 hash regions (and the data itself, unless external)
// live inside the DPFS level3 payload, so a write session only ever touches
// inactive dual copies; the hash chain's 32-byte apex is the enclosing
// container's table hash, which covers the whole descriptor handed in here.
type DifiPartition struct {
	param Param
	lay   layout

	level2 *raf.DualFile // the level3 selector bitmap, dual-copied
	level3 *raf.DualFile // the payload: ivfc hash regions + internal data
	level4 *raf.DualFile // external data pair; nil when data is internal

	l3Region raf.RandomAccessFile // the level4 hash store, a level3 payload window

	ivfcL3 *raf.IvfcLevel // hashStore = l2 region, data = l3 region
	ivfcL4 *raf.IvfcLevel // hashStore = l3 region, data = the user data
}

func buildStack(descriptor, partition raf.RandomAccessFile, p Param) (*DifiPartition, error) {
	if err := checkParam(p); err != nil {
		return nil, err
	}
	l := computeLayout(p)
	if descriptor.Len() != l.descriptorLen {
		return nil, raf.NewError(raf.KindSizeMismatch, "difi.New descriptor length")
	}

	level2, err := newDualRegion(
		newBitSelector(descriptor, l.level1SelectorOffset, 0),
		descriptor, l.level2CopyAOffset, l.level2CopyBOffset, 1)
	if err != nil {
		return nil, err
	}
	level3, err := newDualRegion(
		newBitSelector(level2, 0, 0),
		descriptor, l.level3CopyAOffset, l.level3CopyBOffset, l.payloadLen)
	if err != nil {
		return nil, err
	}

	var level4 *raf.DualFile
	var data raf.RandomAccessFile
	if p.ExternalIvfcLevel4 {
		if partition == nil || partition.Len() != l.partitionLen {
			return nil, raf.NewError(raf.KindSizeMismatch, "difi.New partition length")
		}
		level4, err = newDualRegion(
			newBitSelector(level3, l.level4SelectorOffset, 0),
			partition, 0, l.partitionCopyBOffset, p.DataLen)
		if err != nil {
			return nil, err
		}
		data = level4
	} else {
		data, err = raf.NewSubFile(level3, l.level4DataOffset, p.DataLen)
		if err != nil {
			return nil, err
		}
	}

	l2Region, err := raf.NewSubFile(level3, 0, l.l2Size)
	if err != nil {
		return nil, err
	}
	l3Region, err := raf.NewSubFile(level3, l.ivfcL3RegionOffset, l.l3Size)
	if err != nil {
		return nil, err
	}

	ivfcL3, err := raf.NewIvfcLevel(l2Region, l3Region, l.l3Size, p.IvfcLevel3BlockLen)
	if err != nil {
		return nil, err
	}
	ivfcL4, err := raf.NewIvfcLevel(l3Region, data, p.DataLen, p.IvfcLevel4BlockLen)
	if err != nil {
		return nil, err
	}

	return &DifiPartition{
		param:    p,
		lay:      l,
		level2:   level2,
		level3:   level3,
		level4:   level4,
		l3Region: l3Region,
		ivfcL3:   ivfcL3,
		ivfcL4:   ivfcL4,
	}, nil
}

// New opens an existing DifiPartition. descriptor is the region the
// enclosing container carved out for it (its length, descriptor_len, comes
// from CalculateSize(p)); the container has typically already wrapped it in
// its own dual-copy and root-hash layers. partition is the external
// bulk-data region when p.ExternalIvfcLevel4 is set, and is ignored
// otherwise. Reading through the returned partition's Data() verifies every
// touched hash level on demand; nothing is verified eagerly at New.
func New(descriptor, partition raf.RandomAccessFile, p Param) (*DifiPartition, error) {
	return buildStack(descriptor, partition, p)
}

// Format initializes a freshly allocated, zero-filled descriptor (and, if
// p.ExternalIvfcLevel4, partition region) so that it reads back as an
// all-zero data region with consistent hashes. The descriptor's full extent
// is written through first so a caller-supplied wrapper that verifies what
// it reads (the container's root-hash layer) sees content matching its own
// staged state before the selector bits are ever consulted.
func Format(descriptor, partition raf.RandomAccessFile, p Param) error {
	part, err := buildStack(descriptor, partition, p)
	if err != nil {
		return err
	}

	if err := descriptor.Write(0, make([]byte, descriptor.Len())); err != nil {
		return err
	}
	if err := part.ivfcL4.Write(0, make([]byte, p.DataLen)); err != nil {
		return err
	}
	if err := part.Commit(); err != nil {
		return err
	}
	if err := descriptor.Commit(); err != nil {
		return err
	}
	if partition != nil {
		return partition.Commit()
	}
	return nil
}

// Data returns the top of the stack: the user-visible, hash-verified
// RandomAccessFile over the partition's bulk data.
func (d *DifiPartition) Data() raf.RandomAccessFile {
	return d.ivfcL4
}

// Commit publishes the session's writes: level4's staged hashes flush into
// the level3 region, the level3 region is rehashed into the level2 region,
// and then the dual swaps run bottom-up — external data, then the payload,
// then the selector bitmap, whose flip lands in the level1 selector. All of
// those writes target inactive copies (or, under a container, the inactive
// table copy), so the surrounding active-table flip remains the single
// publication point. Syncing the leaf is the caller's job.
func (d *DifiPartition) Commit() error {
	if !d.ivfcL4.Dirty() {
		return nil
	}

	if err := d.ivfcL4.FlushHashes(); err != nil {
		return err
	}

	l3Content := make([]byte, d.lay.l3Size)
	if err := d.l3Region.Read(0, l3Content); err != nil {
		return err
	}
	if err := d.ivfcL3.Write(0, l3Content); err != nil {
		return err
	}
	if err := d.ivfcL3.FlushHashes(); err != nil {
		return err
	}

	if d.level4 != nil {
		if err := d.level4.Commit(); err != nil {
			return err
		}
	}
	if err := d.level3.Commit(); err != nil {
		return err
	}
	return d.level2.Commit()
}
