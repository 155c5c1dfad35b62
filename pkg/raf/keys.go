package raf

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyFile represents a 16-byte AES key loaded from a .hex file, named after
// the file it came from (e.g. a console key slot's "keyx_sign.hex").
type KeyFile struct {
	Name string
	Key  [16]byte
}

// LoadKeyHexFile loads a 16-byte AES key from a file containing a single
// line of 32 hexadecimal characters.
func LoadKeyHexFile(path string) ([16]byte, error) {
	var key [16]byte
	f, err := os.Open(path)
	if err != nil {
		return key, wrapError(KindIO, "LoadKeyHexFile open", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) != 32 {
			return key, wrapError(KindIO, "LoadKeyHexFile", fmt.Errorf("key must be 32 hex chars, got %d", len(line)))
		}
		decoded, err := hex.DecodeString(line)
		if err != nil {
			return key, wrapError(KindIO, "LoadKeyHexFile", fmt.Errorf("invalid hex key: %w", err))
		}
		copy(key[:], decoded)
		return key, nil
	}
	if err := scanner.Err(); err != nil {
		return key, wrapError(KindIO, "LoadKeyHexFile scan", err)
	}
	return key, wrapError(KindIO, "LoadKeyHexFile", errors.New("key file is empty"))
}

// LoadAllHexKeys loads every *.hex key file from dir, skipping files that do
// not parse as a 16-byte hex key.
func LoadAllHexKeys(dir string) ([]KeyFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapError(KindIO, "LoadAllHexKeys readdir", err)
	}

	var keys []KeyFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) != ".hex" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		key, err := LoadKeyHexFile(path)
		if err != nil {
			continue // skip invalid key files
		}
		keys = append(keys, KeyFile{Name: e.Name(), Key: key})
	}
	return keys, nil
}
