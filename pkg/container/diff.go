// Package container implements the two top-level save-data container
// formats, DIFF and DISA: fixed header framing around one (DIFF) or two
// (DISA) DifiPartitions.
package container

import (
	"encoding/binary"

	"github.com/barnettlynn/save3dscore/pkg/crypto"
	"github.com/barnettlynn/save3dscore/pkg/difi"
	"github.com/barnettlynn/save3dscore/pkg/raf"
)

const (
	diffMagic     = "DIFF"
	diffVersion   = uint32(0x00030000)
	diffTagOffset = 0x00
	diffTagLen    = 16
	diffHdrOffset = 0x100 // signed body: [0x100, 0x200), header in its first 0x5C bytes
	diffBodyLen   = 0x100
	diffHdrLen    = 0x5C
	diffReserved  = 0x200 // table region starts here; everything before is tag+header+padding
	tableHashLen  = 32
)

// diffHeader is the 0x5C-byte structure at the head of the signed body,
// magic through unique_id, little-endian throughout.
type diffHeader struct {
	magic                [4]byte
	version              uint32
	secondaryTableOffset uint64
	primaryTableOffset   uint64
	tableSize            uint64
	partitionOffset      uint64
	partitionSize        uint64
	activeTable          uint8
	tableHash            [tableHashLen]byte
	uniqueID             uint64
}

func (h *diffHeader) marshal() []byte {
	buf := make([]byte, diffHdrLen)
	copy(buf[0x00:0x04], h.magic[:])
	binary.LittleEndian.PutUint32(buf[0x04:0x08], h.version)
	binary.LittleEndian.PutUint64(buf[0x08:0x10], h.secondaryTableOffset)
	binary.LittleEndian.PutUint64(buf[0x10:0x18], h.primaryTableOffset)
	binary.LittleEndian.PutUint64(buf[0x18:0x20], h.tableSize)
	binary.LittleEndian.PutUint64(buf[0x20:0x28], h.partitionOffset)
	binary.LittleEndian.PutUint64(buf[0x28:0x30], h.partitionSize)
	buf[0x30] = h.activeTable
	copy(buf[0x34:0x54], h.tableHash[:])
	binary.LittleEndian.PutUint64(buf[0x54:0x5C], h.uniqueID)
	return buf
}

func (h *diffHeader) unmarshal(buf []byte) error {
	if len(buf) != diffHdrLen {
		return raf.NewError(raf.KindSizeMismatch, "diffHeader.unmarshal")
	}
	copy(h.magic[:], buf[0x00:0x04])
	if string(h.magic[:]) != diffMagic {
		return raf.NewError(raf.KindMagicMismatch, "diffHeader.unmarshal magic")
	}
	h.version = binary.LittleEndian.Uint32(buf[0x04:0x08])
	if h.version != diffVersion {
		return raf.NewError(raf.KindMagicMismatch, "diffHeader.unmarshal version")
	}
	h.secondaryTableOffset = binary.LittleEndian.Uint64(buf[0x08:0x10])
	h.primaryTableOffset = binary.LittleEndian.Uint64(buf[0x10:0x18])
	h.tableSize = binary.LittleEndian.Uint64(buf[0x18:0x20])
	h.partitionOffset = binary.LittleEndian.Uint64(buf[0x20:0x28])
	h.partitionSize = binary.LittleEndian.Uint64(buf[0x28:0x30])
	h.activeTable = buf[0x30]
	copy(h.tableHash[:], buf[0x34:0x54])
	h.uniqueID = binary.LittleEndian.Uint64(buf[0x54:0x5C])
	return nil
}

// DiffContainer is a single-partition container: a signed header framing
// one DifiPartition, dual-copied table included.
type DiffContainer struct {
	file       raf.RandomAccessFile
	header     *raf.SignedFile // signed view of file[0x100:0x200)
	tableLower *raf.IvfcLevel
	partition  *difi.DifiPartition
	uniqueID   uint64
}

func cmacSigner() raf.Signer { return &crypto.CMACSigner{} }

// diffInfo is the container-level layout: the secondary table sits right
// after the reserved header region, the primary table follows 8-aligned,
// and the partition body (if any) follows partition-aligned.
type diffInfo struct {
	secondaryTableOffset int64
	primaryTableOffset   int64
	tableLen             int64
	partitionOffset      int64
	partitionLen         int64
	end                  int64
}

func calculateDiffInfo(p difi.Param) diffInfo {
	descriptorLen, partitionLen := difi.CalculateSize(p)
	secondary := int64(diffReserved)
	primary := alignUp(secondary+descriptorLen, 8)
	partitionOffset := alignUp(primary+descriptorLen, p.Align())
	return diffInfo{
		secondaryTableOffset: secondary,
		primaryTableOffset:   primary,
		tableLen:             descriptorLen,
		partitionOffset:      partitionOffset,
		partitionLen:         partitionLen,
		end:                  partitionOffset + partitionLen,
	}
}

// CalculateDiffSize returns the total file length FormatDiff will need for the
// given partition shape: the reserved header region, two copies of the
// DPFS/IVFC table, and (if p.ExternalIvfcLevel4) the partition body.
func CalculateDiffSize(p difi.Param) int64 {
	return calculateDiffInfo(p).end
}

func alignUp(value, align int64) int64 {
	if align <= 0 {
		return value
	}
	return value + (align-value%align)%align
}

// FormatDiff writes a fresh, all-zero-data DIFF container into file, which
// must already be at least CalculateDiffSize(p) bytes long. key signs the
// header.
func FormatDiff(file raf.RandomAccessFile, key [16]byte, p difi.Param, uniqueID uint64) error {
	info := calculateDiffInfo(p)

	zero := make([]byte, diffReserved)
	if err := file.Write(0, zero); err != nil {
		return err
	}

	h := &diffHeader{
		version:              diffVersion,
		secondaryTableOffset: uint64(info.secondaryTableOffset),
		primaryTableOffset:   uint64(info.primaryTableOffset),
		tableSize:            uint64(info.tableLen),
		partitionOffset:      uint64(info.partitionOffset),
		partitionSize:        uint64(info.partitionLen),
		activeTable:          0,
		uniqueID:             uniqueID,
	}
	copy(h.magic[:], diffMagic)

	headerBody, err := raf.NewSubFile(file, diffHdrOffset, diffBodyLen)
	if err != nil {
		return err
	}
	if err := headerBody.Write(0, h.marshal()); err != nil {
		return err
	}

	tableLower, err := buildContainerTable(file, headerBody, 0x30, 0x34, int64(h.primaryTableOffset), int64(h.secondaryTableOffset), int64(h.tableSize))
	if err != nil {
		return err
	}

	var partitionBody raf.RandomAccessFile
	if p.ExternalIvfcLevel4 {
		partitionBody, err = raf.NewSubFile(file, info.partitionOffset, info.partitionLen)
		if err != nil {
			return err
		}
	}
	// difi.Format's descriptor commit flushes the table hash and flips the
	// active-table selector, leaving the formatted table in the secondary
	// copy with active_table = 1.
	if err := difi.Format(tableLower, partitionBody, p); err != nil {
		return err
	}

	tag, err := raf.NewSubFile(file, diffTagOffset, diffTagLen)
	if err != nil {
		return err
	}
	signedHeader, err := raf.NewSignedFileUnverified(tag, headerBody, cmacSigner(), key)
	if err != nil {
		return err
	}
	// difi.Format wrote the active-table and table_hash fields straight
	// through headerBody, bypassing signedHeader's dirty tracking (it didn't
	// exist yet). Re-write the current bytes through signedHeader so Commit
	// below signs the header as it actually stands now.
	current := make([]byte, diffBodyLen)
	if err := headerBody.Read(0, current); err != nil {
		return err
	}
	if err := signedHeader.Write(0, current); err != nil {
		return err
	}
	if err := signedHeader.Commit(); err != nil {
		return err
	}
	return file.Commit()
}

// buildContainerTable wires the dual-copied, root-hashed descriptor table
// shared by DIFF and DISA: a DualFile over the primary/secondary copies
// selected by the header's active_table byte (at selectorOffset within the
// header body), wrapped in a single-block IvfcLevel keyed by the header's
// table_hash field (at hashOffset). headerView is the region holding the
// header body — the bare SubFile during format, the SignedFile during open
// (so selector and hash writes mark the header dirty for re-signing).
func buildContainerTable(file, headerView raf.RandomAccessFile, selectorOffset, hashOffset, primaryOffset, secondaryOffset, tableLen int64) (*raf.IvfcLevel, error) {
	tableSelector, err := raf.NewSubFile(headerView, selectorOffset, 1)
	if err != nil {
		return nil, err
	}
	tableHashField, err := raf.NewSubFile(headerView, hashOffset, tableHashLen)
	if err != nil {
		return nil, err
	}
	tablePrimary, err := raf.NewSubFile(file, primaryOffset, tableLen)
	if err != nil {
		return nil, err
	}
	tableSecondary, err := raf.NewSubFile(file, secondaryOffset, tableLen)
	if err != nil {
		return nil, err
	}
	tableUpper, err := raf.NewDualFile(tableSelector, [2]raf.RandomAccessFile{tablePrimary, tableSecondary})
	if err != nil {
		return nil, err
	}
	return raf.NewIvfcLevel(tableHashField, tableUpper, tableLen, tableLen)
}

// OpenDiff reads back a DIFF container previously written by FormatDiff. p
// must describe the same shape FormatDiff was called with (block lengths and
// external/internal data placement are not recoverable from the header
// alone). verifySignature controls whether the header's CMAC is checked
// before trusting its fields.
func OpenDiff(file raf.RandomAccessFile, key [16]byte, p difi.Param, verifySignature bool) (*DiffContainer, error) {
	headerBody, err := raf.NewSubFile(file, diffHdrOffset, diffBodyLen)
	if err != nil {
		return nil, err
	}
	tag, err := raf.NewSubFile(file, diffTagOffset, diffTagLen)
	if err != nil {
		return nil, err
	}

	var header *raf.SignedFile
	if verifySignature {
		header, err = raf.NewSignedFile(tag, headerBody, cmacSigner(), key)
	} else {
		header, err = raf.NewSignedFileUnverified(tag, headerBody, cmacSigner(), key)
	}
	if err != nil {
		return nil, err
	}

	raw := make([]byte, diffHdrLen)
	if err := header.Read(0, raw); err != nil {
		return nil, err
	}
	var h diffHeader
	if err := h.unmarshal(raw); err != nil {
		return nil, err
	}

	wantLen, wantPartLen := difi.CalculateSize(p)
	if h.tableSize != uint64(wantLen) || h.partitionSize != uint64(wantPartLen) {
		return nil, raf.NewError(raf.KindBrokenLayout, "container.Open: param disagrees with stored table/partition size")
	}

	tableLower, err := buildContainerTable(file, header, 0x30, 0x34, int64(h.primaryTableOffset), int64(h.secondaryTableOffset), int64(h.tableSize))
	if err != nil {
		return nil, err
	}

	var partitionBody raf.RandomAccessFile
	if p.ExternalIvfcLevel4 {
		partitionBody, err = raf.NewSubFile(file, int64(h.partitionOffset), int64(h.partitionSize))
		if err != nil {
			return nil, err
		}
	}
	partition, err := difi.New(tableLower, partitionBody, p)
	if err != nil {
		return nil, err
	}

	return &DiffContainer{
		file:       file,
		header:     header,
		tableLower: tableLower,
		partition:  partition,
		uniqueID:   h.uniqueID,
	}, nil
}

// Data returns the hash-verified, dual-buffered data region.
func (c *DiffContainer) Data() raf.RandomAccessFile { return c.partition.Data() }

// UniqueID returns the container's unique_id field, used by consumers (e.g.
// the extdata directory layout) to correlate a container with its metadata.
func (c *DiffContainer) UniqueID() uint64 { return c.uniqueID }

// Commit cascades the partition's pending writes, then the table's dual
// swap, then the signed header, then the underlying file.
func (c *DiffContainer) Commit() error {
	if err := c.partition.Commit(); err != nil {
		return err
	}
	if err := c.tableLower.Commit(); err != nil {
		return err
	}
	if err := c.header.Commit(); err != nil {
		return err
	}
	return c.file.Commit()
}
