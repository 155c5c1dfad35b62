package container

import (
	"encoding/binary"
	"fmt"

	"github.com/barnettlynn/save3dscore/pkg/difi"
	"github.com/barnettlynn/save3dscore/pkg/raf"
)

// DISA framing: one dual-copied, single-block-hashed table exactly like
// DIFF's, sized as the container's partition descriptors back to back, plus
// each partition's own optional external body. A partition_count field
// selects whether one or two partitions are present; a single active_table
// selector flips every present partition's table in the same swap,
// publishing them atomically together.
const (
	disaMagic     = "DISA"
	disaVersion   = uint32(0x00040000)
	disaTagOffset = 0x00
	disaTagLen    = 16
	disaHdrOffset = 0x100 // signed body: [0x100, 0x200), header in its first 0x8C bytes
	disaBodyLen   = 0x100
	disaHdrLen    = 0x8C
	disaReserved  = 0x200

	disaMaxPartitions = 2
)

type disaHeader struct {
	magic                [4]byte
	version              uint32
	secondaryTableOffset uint64
	primaryTableOffset   uint64
	tableSize            uint64
	partition0DescOffset uint64
	partition0DescLen    uint64
	partition1DescOffset uint64
	partition1DescLen    uint64
	partition0BodyOffset uint64
	partition0BodyLen    uint64
	partition1BodyOffset uint64
	partition1BodyLen    uint64
	activeTable          uint8
	partitionCount       uint8
	tableHash            [tableHashLen]byte
	uniqueID             uint64
}

func (h *disaHeader) marshal() []byte {
	buf := make([]byte, disaHdrLen)
	copy(buf[0x00:0x04], h.magic[:])
	binary.LittleEndian.PutUint32(buf[0x04:0x08], h.version)
	binary.LittleEndian.PutUint64(buf[0x08:0x10], h.secondaryTableOffset)
	binary.LittleEndian.PutUint64(buf[0x10:0x18], h.primaryTableOffset)
	binary.LittleEndian.PutUint64(buf[0x18:0x20], h.tableSize)
	binary.LittleEndian.PutUint64(buf[0x20:0x28], h.partition0DescOffset)
	binary.LittleEndian.PutUint64(buf[0x28:0x30], h.partition0DescLen)
	binary.LittleEndian.PutUint64(buf[0x30:0x38], h.partition1DescOffset)
	binary.LittleEndian.PutUint64(buf[0x38:0x40], h.partition1DescLen)
	binary.LittleEndian.PutUint64(buf[0x40:0x48], h.partition0BodyOffset)
	binary.LittleEndian.PutUint64(buf[0x48:0x50], h.partition0BodyLen)
	binary.LittleEndian.PutUint64(buf[0x50:0x58], h.partition1BodyOffset)
	binary.LittleEndian.PutUint64(buf[0x58:0x60], h.partition1BodyLen)
	buf[0x60] = h.activeTable
	buf[0x61] = h.partitionCount
	copy(buf[0x64:0x84], h.tableHash[:])
	binary.LittleEndian.PutUint64(buf[0x84:0x8C], h.uniqueID)
	return buf
}

func (h *disaHeader) unmarshal(buf []byte) error {
	if len(buf) != disaHdrLen {
		return raf.NewError(raf.KindSizeMismatch, "disaHeader.unmarshal")
	}
	copy(h.magic[:], buf[0x00:0x04])
	if string(h.magic[:]) != disaMagic {
		return raf.NewError(raf.KindMagicMismatch, "disaHeader.unmarshal magic")
	}
	h.version = binary.LittleEndian.Uint32(buf[0x04:0x08])
	if h.version != disaVersion {
		return raf.NewError(raf.KindMagicMismatch, "disaHeader.unmarshal version")
	}
	h.secondaryTableOffset = binary.LittleEndian.Uint64(buf[0x08:0x10])
	h.primaryTableOffset = binary.LittleEndian.Uint64(buf[0x10:0x18])
	h.tableSize = binary.LittleEndian.Uint64(buf[0x18:0x20])
	h.partition0DescOffset = binary.LittleEndian.Uint64(buf[0x20:0x28])
	h.partition0DescLen = binary.LittleEndian.Uint64(buf[0x28:0x30])
	h.partition1DescOffset = binary.LittleEndian.Uint64(buf[0x30:0x38])
	h.partition1DescLen = binary.LittleEndian.Uint64(buf[0x38:0x40])
	h.partition0BodyOffset = binary.LittleEndian.Uint64(buf[0x40:0x48])
	h.partition0BodyLen = binary.LittleEndian.Uint64(buf[0x48:0x50])
	h.partition1BodyOffset = binary.LittleEndian.Uint64(buf[0x50:0x58])
	h.partition1BodyLen = binary.LittleEndian.Uint64(buf[0x58:0x60])
	h.activeTable = buf[0x60]
	h.partitionCount = buf[0x61]
	if h.partitionCount < 1 || h.partitionCount > disaMaxPartitions {
		return raf.NewError(raf.KindBrokenLayout, "disaHeader.unmarshal partition count")
	}
	copy(h.tableHash[:], buf[0x64:0x84])
	h.uniqueID = binary.LittleEndian.Uint64(buf[0x84:0x8C])
	return nil
}

func (h *disaHeader) descRegion(i int) (offset, length uint64) {
	if i == 0 {
		return h.partition0DescOffset, h.partition0DescLen
	}
	return h.partition1DescOffset, h.partition1DescLen
}

func (h *disaHeader) bodyRegion(i int) (offset, length uint64) {
	if i == 0 {
		return h.partition0BodyOffset, h.partition0BodyLen
	}
	return h.partition1BodyOffset, h.partition1BodyLen
}

// DisaContainer is a one- or two-partition container: each partition is an
// independent DifiPartition (conventionally partition 0 holds a save
// image's data partition, partition 1 its journal, or vice versa depending
// on the consumer), all sharing one dual-copied, hash-verified table and
// one active selector.
type DisaContainer struct {
	file       raf.RandomAccessFile
	header     *raf.SignedFile
	tableLower *raf.IvfcLevel
	partitions []*difi.DifiPartition
	uniqueID   uint64
}

// disaInfo is the container-level layout: the secondary table right after
// the reserved header region, the primary table 8-aligned after it, then
// each partition's external body aligned to its own partition alignment.
// Absent-partition entries are zero.
type disaInfo struct {
	secondaryTableOffset int64
	primaryTableOffset   int64
	tableSize            int64
	descOffset           [disaMaxPartitions]int64
	descLen              [disaMaxPartitions]int64
	bodyOffset           [disaMaxPartitions]int64
	bodyLen              [disaMaxPartitions]int64
	end                  int64
}

func checkDisaPartitionCount(n int) error {
	if n < 1 || n > disaMaxPartitions {
		return raf.WrapError(raf.KindBrokenLayout, "container.Disa",
			fmt.Errorf("partition count must be 1 or %d, got %d", disaMaxPartitions, n))
	}
	return nil
}

func calculateDisaInfo(params []difi.Param) disaInfo {
	var info disaInfo
	tableSize := int64(0)
	for i, p := range params {
		descLen, bodyLen := difi.CalculateSize(p)
		info.descOffset[i] = tableSize
		info.descLen[i] = descLen
		info.bodyLen[i] = bodyLen
		tableSize += descLen
	}
	info.tableSize = tableSize
	info.secondaryTableOffset = disaReserved
	info.primaryTableOffset = alignUp(info.secondaryTableOffset+tableSize, 8)
	off := info.primaryTableOffset + tableSize
	for i, p := range params {
		if !p.ExternalIvfcLevel4 {
			continue
		}
		off = alignUp(off, p.Align())
		info.bodyOffset[i] = off
		off += info.bodyLen[i]
	}
	info.end = off
	return info
}

// CalculateDisaSize returns the total file length FormatDisa needs for the
// given partition shapes (one or two).
func CalculateDisaSize(params []difi.Param) int64 {
	return calculateDisaInfo(params).end
}

// FormatDisa writes a fresh, all-zero-data DISA container into file.
// params holds one or two partition shapes.
func FormatDisa(file raf.RandomAccessFile, key [16]byte, params []difi.Param, uniqueID uint64) error {
	if err := checkDisaPartitionCount(len(params)); err != nil {
		return err
	}
	info := calculateDisaInfo(params)

	zero := make([]byte, disaReserved)
	if err := file.Write(0, zero); err != nil {
		return err
	}

	h := &disaHeader{
		version:              disaVersion,
		secondaryTableOffset: uint64(info.secondaryTableOffset),
		primaryTableOffset:   uint64(info.primaryTableOffset),
		tableSize:            uint64(info.tableSize),
		partition0DescOffset: uint64(info.descOffset[0]),
		partition0DescLen:    uint64(info.descLen[0]),
		partition1DescOffset: uint64(info.descOffset[1]),
		partition1DescLen:    uint64(info.descLen[1]),
		partition0BodyOffset: uint64(info.bodyOffset[0]),
		partition0BodyLen:    uint64(info.bodyLen[0]),
		partition1BodyOffset: uint64(info.bodyOffset[1]),
		partition1BodyLen:    uint64(info.bodyLen[1]),
		activeTable:          0,
		partitionCount:       uint8(len(params)),
		uniqueID:             uniqueID,
	}
	copy(h.magic[:], disaMagic)

	headerBody, err := raf.NewSubFile(file, disaHdrOffset, disaBodyLen)
	if err != nil {
		return err
	}
	if err := headerBody.Write(0, h.marshal()); err != nil {
		return err
	}

	tableLower, err := buildContainerTable(file, headerBody, 0x60, 0x64, info.primaryTableOffset, info.secondaryTableOffset, info.tableSize)
	if err != nil {
		return err
	}

	// Each Format's descriptor commit flushes the table hash and flips the
	// active-table selector; with two partitions the flips cancel out,
	// leaving both formatted tables in the primary copy with
	// active_table = 0. With one partition the table lands in the secondary
	// copy with active_table = 1, same as DIFF.
	for i, p := range params {
		descriptor, err := raf.NewSubFile(tableLower, info.descOffset[i], info.descLen[i])
		if err != nil {
			return err
		}
		var partitionBody raf.RandomAccessFile
		if p.ExternalIvfcLevel4 {
			partitionBody, err = raf.NewSubFile(file, info.bodyOffset[i], info.bodyLen[i])
			if err != nil {
				return err
			}
		}
		if err := difi.Format(descriptor, partitionBody, p); err != nil {
			return err
		}
	}

	tag, err := raf.NewSubFile(file, disaTagOffset, disaTagLen)
	if err != nil {
		return err
	}
	signedHeader, err := raf.NewSignedFileUnverified(tag, headerBody, cmacSigner(), key)
	if err != nil {
		return err
	}
	current := make([]byte, disaBodyLen)
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

// OpenDisa reads back a DISA container previously written by FormatDisa.
// params must hold the same shapes FormatDisa was called with, one per
// stored partition.
func OpenDisa(file raf.RandomAccessFile, key [16]byte, params []difi.Param, verifySignature bool) (*DisaContainer, error) {
	if err := checkDisaPartitionCount(len(params)); err != nil {
		return nil, err
	}
	headerBody, err := raf.NewSubFile(file, disaHdrOffset, disaBodyLen)
	if err != nil {
		return nil, err
	}
	tag, err := raf.NewSubFile(file, disaTagOffset, disaTagLen)
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

	raw := make([]byte, disaHdrLen)
	if err := header.Read(0, raw); err != nil {
		return nil, err
	}
	var h disaHeader
	if err := h.unmarshal(raw); err != nil {
		return nil, err
	}

	if int(h.partitionCount) != len(params) {
		return nil, raf.WrapError(raf.KindBrokenLayout, "container.Open(DISA)",
			fmt.Errorf("container holds %d partition(s), %d param(s) given", h.partitionCount, len(params)))
	}
	for i, p := range params {
		wantDesc, wantBody := difi.CalculateSize(p)
		_, descLen := h.descRegion(i)
		_, bodyLen := h.bodyRegion(i)
		if descLen != uint64(wantDesc) || bodyLen != uint64(wantBody) {
			return nil, raf.NewError(raf.KindBrokenLayout, "container.Open(DISA): param disagrees with stored sizes")
		}
	}

	tableLower, err := buildContainerTable(file, header, 0x60, 0x64, int64(h.primaryTableOffset), int64(h.secondaryTableOffset), int64(h.tableSize))
	if err != nil {
		return nil, err
	}

	partitions := make([]*difi.DifiPartition, len(params))
	for i, p := range params {
		descOff, descLen := h.descRegion(i)
		descriptor, err := raf.NewSubFile(tableLower, int64(descOff), int64(descLen))
		if err != nil {
			return nil, err
		}
		var partitionBody raf.RandomAccessFile
		if p.ExternalIvfcLevel4 {
			bodyOff, bodyLen := h.bodyRegion(i)
			partitionBody, err = raf.NewSubFile(file, int64(bodyOff), int64(bodyLen))
			if err != nil {
				return nil, err
			}
		}
		partitions[i], err = difi.New(descriptor, partitionBody, p)
		if err != nil {
			return nil, err
		}
	}

	return &DisaContainer{
		file:       file,
		header:     header,
		tableLower: tableLower,
		partitions: partitions,
		uniqueID:   h.uniqueID,
	}, nil
}

// PartitionCount returns how many partitions the container holds (1 or 2).
func (c *DisaContainer) PartitionCount() int {
	return len(c.partitions)
}

// Partition returns partition index's hash-verified, dual-buffered data
// region (index must be less than PartitionCount).
func (c *DisaContainer) Partition(index int) raf.RandomAccessFile {
	return c.partitions[index].Data()
}

// UniqueID returns the container's unique_id field.
func (c *DisaContainer) UniqueID() uint64 { return c.uniqueID }

// Commit cascades every partition's pending writes, then the shared table's
// dual swap, then the signed header, then the underlying file.
func (c *DisaContainer) Commit() error {
	for _, p := range c.partitions {
		if err := p.Commit(); err != nil {
			return err
		}
	}
	if err := c.tableLower.Commit(); err != nil {
		return err
	}
	if err := c.header.Commit(); err != nil {
		return err
	}
	return c.file.Commit()
}
