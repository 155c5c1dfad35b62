package raf

import "crypto/sha256"

const sha256Len = 32

// IvfcLevel is one level of a hash tree: data is divided into blockLen-sized
// blocks, each block's SHA-256 is stored in a 32-byte slot of hashStore.
// Reads verify the touched blocks' hashes; writes read-modify-write the
// touched blocks and stage their new hashes in memory, written through to
// hashStore only on Commit (data-before-hash, so a crash between the two
// leaves at worst an unchanged-hash-over-changed-data condition that the
// enclosing DualFile/table swap resolves).
//
// A trailing partial block is hashed over a full blockLen scratch buffer,
// zero-padded past the actual data span, the convention the 3DS save format
// uses for the final short block of a level.
type IvfcLevel struct {
	hashStore RandomAccessFile
	data      RandomAccessFile
	dataLen   int64
	blockLen  int64
	dirty     map[int64][sha256Len]byte
}

// NewIvfcLevel constructs a hash-tree level over data, sized dataLen, with
// hashes for each blockLen-sized block stored in hashStore. hashStore's
// length must equal ceil(dataLen/blockLen)*32.
func NewIvfcLevel(hashStore, data RandomAccessFile, dataLen, blockLen int64) (*IvfcLevel, error) {
	blocks := divideUp(dataLen, blockLen)
	if hashStore.Len() != blocks*sha256Len {
		return nil, newError(KindSizeMismatch, "IvfcLevel.New hash store length")
	}
	return &IvfcLevel{
		hashStore: hashStore,
		data:      data,
		dataLen:   dataLen,
		blockLen:  blockLen,
		dirty:     make(map[int64][sha256Len]byte),
	}, nil
}

func divideUp(value, align int64) int64 {
	if value == 0 {
		return 0
	}
	return 1 + (value-1)/align
}

// blockSpan returns the byte range [start, end) of block b within data
// (end may be < b*blockLen+blockLen for the trailing partial block).
func (f *IvfcLevel) blockSpan(b int64) (start, end int64) {
	start = b * f.blockLen
	end = start + f.blockLen
	if end > f.dataLen {
		end = f.dataLen
	}
	return
}

// hashBlock reads block b from data (or from the in-memory write-through,
// which is already reflected in data since writes flush immediately) and
// returns its SHA-256 over a blockLen scratch buffer zero-padded past the
// block's actual span.
func (f *IvfcLevel) hashBlock(b int64) ([sha256Len]byte, error) {
	start, end := f.blockSpan(b)
	scratch := make([]byte, f.blockLen)
	if err := f.data.Read(start, scratch[:end-start]); err != nil {
		return [sha256Len]byte{}, err
	}
	return sha256.Sum256(scratch), nil
}

func (f *IvfcLevel) storedHash(b int64) ([sha256Len]byte, error) {
	if dirty, ok := f.dirty[b]; ok {
		return dirty, nil
	}
	var stored [sha256Len]byte
	if err := f.hashStore.Read(b*sha256Len, stored[:]); err != nil {
		return [sha256Len]byte{}, err
	}
	return stored, nil
}

func (f *IvfcLevel) Read(pos int64, buf []byte) error {
	if err := checkBounds("IvfcLevel.Read", pos, len(buf), f.dataLen); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	firstBlock := pos / f.blockLen
	lastBlock := (pos + int64(len(buf)) - 1) / f.blockLen
	for b := firstBlock; b <= lastBlock; b++ {
		computed, err := f.hashBlock(b)
		if err != nil {
			return err
		}
		stored, err := f.storedHash(b)
		if err != nil {
			return err
		}
		if computed != stored {
			return newError(KindHashMismatch, "IvfcLevel.Read")
		}
	}
	return f.data.Read(pos, buf)
}

func (f *IvfcLevel) Write(pos int64, buf []byte) error {
	if err := checkBounds("IvfcLevel.Write", pos, len(buf), f.dataLen); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	if err := f.data.Write(pos, buf); err != nil {
		return err
	}
	firstBlock := pos / f.blockLen
	lastBlock := (pos + int64(len(buf)) - 1) / f.blockLen
	for b := firstBlock; b <= lastBlock; b++ {
		hash, err := f.hashBlock(b)
		if err != nil {
			return err
		}
		f.dirty[b] = hash
	}
	return nil
}

func (f *IvfcLevel) Len() int64 {
	return f.dataLen
}

// Dirty reports whether any block's hash is staged but not yet flushed.
func (f *IvfcLevel) Dirty() bool {
	return len(f.dirty) > 0
}

// FlushHashes writes every staged hash into hashStore without committing
// hashStore or data. Callers that need to fold this level's hash store into
// a further hash tree above it (pkg/difi, stacking IvfcLevels) call this to
// make the new hash values readable before deciding the commit order of the
// levels above and below.
func (f *IvfcLevel) FlushHashes() error {
	for b, hash := range f.dirty {
		if err := f.hashStore.Write(b*sha256Len, hash[:]); err != nil {
			return err
		}
		delete(f.dirty, b)
	}
	return nil
}

// Commit flushes staged hashes to hashStore, then commits hashStore and
// data, in that order.
func (f *IvfcLevel) Commit() error {
	if err := f.FlushHashes(); err != nil {
		return err
	}
	if err := f.hashStore.Commit(); err != nil {
		return err
	}
	return f.data.Commit()
}
