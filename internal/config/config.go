// Package config loads cmd/save3dstool's YAML configuration: which
// container to act on, where its signing/encryption key lives, and (for
// format) the partition shape save3dstool can't otherwise guess.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationMode selects which fields are required for the subcommand being
// run. Both modes currently require the same fields (see
// validateOpenMode); the split stays in place because a container's
// partition shape is not recoverable from its own header, so anything that
// later needs a looser open (e.g. a raw byte dump) has somewhere to relax.
type ValidationMode int

const (
	ValidationFormat ValidationMode = iota
	ValidationOpen
)

// Config is the top-level document. Kind selects which container framing
// Path holds: "diff" (one DifiPartition) or "disa" (one or two).
type Config struct {
	Path string    `yaml:"path"`
	Kind string    `yaml:"kind"`
	Key  KeyConfig `yaml:"key"`

	Format *FormatConfig `yaml:"format"`
}

type KeyConfig struct {
	HexFile string `yaml:"hex_file"`
}

// FormatConfig mirrors difi.Param, plus an optional second data length
// that gives a disa container its second partition. Every block length is required explicitly rather than
// defaulted: a save container's on-disk layout is entirely determined by
// these values (nothing about them is recoverable from the header alone),
// so a wrong value silently produces a different, still-internally-
// consistent container rather than an error — the safest default is none.
type FormatConfig struct {
	UniqueID *uint64 `yaml:"unique_id"`
	DataLen  *int64  `yaml:"data_len"`
	DataLen1 *int64  `yaml:"data_len1"` // disa only; present = a second partition

	DpfsLevel2BlockLen *int64 `yaml:"dpfs_level2_block_len"`
	DpfsLevel3BlockLen *int64 `yaml:"dpfs_level3_block_len"`
	IvfcLevel1BlockLen *int64 `yaml:"ivfc_level1_block_len"`
	IvfcLevel2BlockLen *int64 `yaml:"ivfc_level2_block_len"`
	IvfcLevel3BlockLen *int64 `yaml:"ivfc_level3_block_len"`
	IvfcLevel4BlockLen *int64 `yaml:"ivfc_level4_block_len"`

	ExternalIvfcLevel4 *bool `yaml:"external_ivfc_level4"`
}

func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationOpen)
}

func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationOpen)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	switch mode {
	case ValidationFormat:
		return c.validateFormatMode()
	case ValidationOpen:
		return c.validateOpenMode()
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

func (c *Config) validateCommon() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("config.path is required")
	}
	if c.Kind != "diff" && c.Kind != "disa" {
		return fmt.Errorf("config.kind must be \"diff\" or \"disa\", got %q", c.Kind)
	}
	return nil
}

// validateOpenMode requires the same Format block as format mode: a
// container's DPFS/IVFC block lengths are not self-describing in its
// header (pkg/container's Open functions take a Param for exactly this
// reason), so reopening one needs the same shape description used to
// format it. The key is optional — a caller may open bare, skipping
// signature verification.
func (c *Config) validateOpenMode() error {
	return c.validateFormatMode()
}

func (c *Config) validateFormatMode() error {
	if c.Format == nil {
		return fmt.Errorf("config.format is required")
	}
	f := c.Format
	required := map[string]*int64{
		"config.format.data_len":                f.DataLen,
		"config.format.dpfs_level2_block_len":    f.DpfsLevel2BlockLen,
		"config.format.dpfs_level3_block_len":    f.DpfsLevel3BlockLen,
		"config.format.ivfc_level1_block_len":    f.IvfcLevel1BlockLen,
		"config.format.ivfc_level2_block_len":    f.IvfcLevel2BlockLen,
		"config.format.ivfc_level3_block_len":    f.IvfcLevel3BlockLen,
		"config.format.ivfc_level4_block_len":    f.IvfcLevel4BlockLen,
	}
	for field, v := range required {
		if v == nil {
			return fmt.Errorf("%s is required", field)
		}
		if *v < 0 {
			return fmt.Errorf("%s must be >= 0", field)
		}
	}
	if f.ExternalIvfcLevel4 == nil {
		return fmt.Errorf("config.format.external_ivfc_level4 is required")
	}
	if f.UniqueID == nil {
		return fmt.Errorf("config.format.unique_id is required")
	}
	if c.Kind == "diff" && f.DataLen1 != nil {
		return fmt.Errorf("config.format.data_len1 only applies when config.kind is \"disa\"")
	}
	if f.DataLen1 != nil && *f.DataLen1 < 0 {
		return fmt.Errorf("config.format.data_len1 must be >= 0")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Path = resolvePath(configDir, c.Path)
	c.Key.HexFile = resolvePath(configDir, c.Key.HexFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
