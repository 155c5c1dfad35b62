// Command save3dstool formats, opens, reads, writes, commits, and inspects
// DIFF/DISA save-data containers.
package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/barnettlynn/save3dscore/internal/config"
	"github.com/barnettlynn/save3dscore/pkg/container"
	"github.com/barnettlynn/save3dscore/pkg/difi"
	"github.com/barnettlynn/save3dscore/pkg/raf"
)

const configFileName = "save3ds.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "path to config file (default: next to the executable, or cwd)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	if err := run(*configPath, flag.Args(), os.Stdin, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}

// run drives a single subcommand invocation: args is the subcommand name
// followed by its own flags, exactly as flag.Args() leaves them after the
// global flags in main are parsed off. Kept separate from main so tests can
// drive it directly without touching os.Exit.
func run(configPath string, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: save3dstool [-v] [-log-format text|json] [-config path] <format|open|read|write|commit|info> [args...]")
	}

	resolvedConfig := configPath
	if resolvedConfig == "" {
		var err error
		resolvedConfig, err = defaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolve config path failed: %w", err)
		}
	}
	slog.Debug("using config", "path", resolvedConfig)

	cmdName, rest := args[0], args[1:]
	switch cmdName {
	case "format":
		return runFormat(resolvedConfig, rest, stdout)
	case "open":
		return runOpen(resolvedConfig, rest, stdout)
	case "read":
		return runRead(resolvedConfig, rest, stdout)
	case "write":
		return runWrite(resolvedConfig, rest, stdin, stdout)
	case "commit":
		return runCommit(resolvedConfig, rest, stdout)
	case "info":
		return runInfo(resolvedConfig, rest, stdout)
	default:
		return fmt.Errorf("unknown subcommand %q", cmdName)
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// loadKey resolves the container's signing/encryption key: a hex file if
// configured, otherwise an interactively typed passphrase hashed down to
// 16 bytes, the way an operator would type in a console key slot by hand
// when no extracted key material is available.
func loadKey(cfg *config.Config) ([16]byte, bool, error) {
	if cfg.Key.HexFile != "" {
		key, err := raf.LoadKeyHexFile(cfg.Key.HexFile)
		return key, true, err
	}
	fmt.Fprint(os.Stderr, "No key file configured. Enter passphrase (leave empty for bare/unsigned access): ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return [16]byte{}, false, fmt.Errorf("read passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return [16]byte{}, false, nil
	}
	sum := sha256.Sum256(passphrase)
	var key [16]byte
	copy(key[:], sum[:16])
	return key, true, nil
}

// disaParams assembles a DISA container's partition shapes from the
// config: partition 0 always, partition 1 only when data_len1 is set.
func disaParams(f *config.FormatConfig) []difi.Param {
	params := []difi.Param{buildParam(f, *f.DataLen)}
	if f.DataLen1 != nil {
		params = append(params, buildParam(f, *f.DataLen1))
	}
	return params
}

func buildParam(f *config.FormatConfig, dataLen int64) difi.Param {
	return difi.Param{
		DpfsLevel2BlockLen: *f.DpfsLevel2BlockLen,
		DpfsLevel3BlockLen: *f.DpfsLevel3BlockLen,
		IvfcLevel1BlockLen: *f.IvfcLevel1BlockLen,
		IvfcLevel2BlockLen: *f.IvfcLevel2BlockLen,
		IvfcLevel3BlockLen: *f.IvfcLevel3BlockLen,
		IvfcLevel4BlockLen: *f.IvfcLevel4BlockLen,
		DataLen:            dataLen,
		ExternalIvfcLevel4: *f.ExternalIvfcLevel4,
	}
}

func openDiskFile(path string) (*os.File, *raf.DiskFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	disk, err := raf.NewDiskFile(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, disk, nil
}

func runFormat(configPath string, _ []string, stdout io.Writer) error {
	cfg, err := config.LoadWithMode(configPath, config.ValidationFormat)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	key, _, err := loadKey(cfg)
	if err != nil {
		return fmt.Errorf("key load failed: %w", err)
	}

	var total int64
	switch cfg.Kind {
	case "diff":
		p := buildParam(cfg.Format, *cfg.Format.DataLen)
		total = container.CalculateDiffSize(p)
	case "disa":
		total = container.CalculateDisaSize(disaParams(cfg.Format))
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", cfg.Path, err)
	}
	defer f.Close()
	if err := f.Truncate(total); err != nil {
		return fmt.Errorf("truncate %s to %d: %w", cfg.Path, total, err)
	}
	disk, err := raf.NewDiskFile(f)
	if err != nil {
		return fmt.Errorf("wrap disk file: %w", err)
	}

	switch cfg.Kind {
	case "diff":
		p := buildParam(cfg.Format, *cfg.Format.DataLen)
		if err := container.FormatDiff(disk, key, p, *cfg.Format.UniqueID); err != nil {
			return fmt.Errorf("format failed: %w", err)
		}
	case "disa":
		if err := container.FormatDisa(disk, key, disaParams(cfg.Format), *cfg.Format.UniqueID); err != nil {
			return fmt.Errorf("format failed: %w", err)
		}
	}
	fmt.Fprintf(stdout, "Formatted %s (%d bytes)\n", cfg.Path, total)
	return nil
}

func openConfigured(cfg *config.Config) (*os.File, func() error, raf.RandomAccessFile, uint64, func() error, error) {
	key, haveKey, err := loadKey(cfg)
	if err != nil {
		return nil, nil, nil, 0, nil, fmt.Errorf("key load failed: %w", err)
	}

	f, disk, err := openDiskFile(cfg.Path)
	if err != nil {
		return nil, nil, nil, 0, nil, err
	}

	switch cfg.Kind {
	case "diff":
		p := buildParam(cfg.Format, *cfg.Format.DataLen)
		c, err := container.OpenDiff(disk, key, p, haveKey)
		if err != nil {
			f.Close()
			return nil, nil, nil, 0, nil, fmt.Errorf("open failed: %w", err)
		}
		return f, f.Close, c.Data(), c.UniqueID(), c.Commit, nil
	case "disa":
		c, err := container.OpenDisa(disk, key, disaParams(cfg.Format), haveKey)
		if err != nil {
			f.Close()
			return nil, nil, nil, 0, nil, fmt.Errorf("open failed: %w", err)
		}
		return f, f.Close, c.Partition(0), c.UniqueID(), c.Commit, nil
	default:
		f.Close()
		return nil, nil, nil, 0, nil, fmt.Errorf("unknown config.kind %q", cfg.Kind)
	}
}

func runOpen(configPath string, _ []string, stdout io.Writer) error {
	cfg, err := config.LoadWithMode(configPath, config.ValidationOpen)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	_, closeFn, data, uniqueID, _, err := openConfigured(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	fmt.Fprintf(stdout, "Opened %s: kind=%s data_len=%d unique_id=%d\n", cfg.Path, cfg.Kind, data.Len(), uniqueID)
	return nil
}

func runRead(configPath string, rest []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	offset := fs.Int64("offset", 0, "byte offset to read from")
	length := fs.Int64("length", 0, "number of bytes to read")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := config.LoadWithMode(configPath, config.ValidationOpen)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	_, closeFn, data, _, _, err := openConfigured(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	buf := make([]byte, *length)
	if err := data.Read(*offset, buf); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	_, err = stdout.Write(buf)
	return err
}

func runWrite(configPath string, rest []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	offset := fs.Int64("offset", 0, "byte offset to write at")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := config.LoadWithMode(configPath, config.ValidationOpen)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	_, closeFn, data, _, commit, err := openConfigured(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	buf, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if err := data.Write(*offset, buf); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	// A single CLI invocation cannot span multiple processes' in-memory
	// hash-tree state, so write always commits before exiting — unlike the
	// library API, which lets a caller batch several writes before one
	// Commit.
	if err := commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	fmt.Fprintf(stdout, "Wrote %d bytes at offset %d and committed\n", len(buf), *offset)
	return nil
}

func runCommit(configPath string, _ []string, stdout io.Writer) error {
	cfg, err := config.LoadWithMode(configPath, config.ValidationOpen)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	_, closeFn, _, _, commit, err := openConfigured(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	fmt.Fprintln(stdout, "Committed (no-op unless this process also wrote)")
	return nil
}

func runInfo(configPath string, _ []string, stdout io.Writer) error {
	cfg, err := config.LoadWithMode(configPath, config.ValidationOpen)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	_, closeFn, data, uniqueID, _, err := openConfigured(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	fmt.Fprintf(stdout, "path:       %s\n", cfg.Path)
	fmt.Fprintf(stdout, "kind:       %s\n", cfg.Kind)
	fmt.Fprintf(stdout, "unique_id:  %d\n", uniqueID)
	fmt.Fprintf(stdout, "data_len:   %d\n", data.Len())
	return nil
}
