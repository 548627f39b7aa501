// Package config holds the engine's tunable parameters and the on-disk
// configuration file that carries them between runs.
//
// The configuration lives in a hidden .config directory directly inside the
// sync root, serialized as TOML. Changing any chunking parameter changes the
// cut points the engine produces, so every such change must bump
// ChunkProtocolVersion; a version mismatch at startup forces a full reindex.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// SyncDirName is the default name of the watched directory.
	SyncDirName = "Skie"
	// VaultDirName is the default name of the private vault subtree.
	VaultDirName = "Vault"
	// ConfigDirName is the bookkeeping directory inside the sync root.
	// Paths under it are never indexed.
	ConfigDirName = ".config"
	// ConfigFileName is the serialized configuration inside ConfigDirName.
	ConfigFileName = "config.toml"
	// DBFileName is the content-store database inside ConfigDirName.
	DBFileName = "skie.db"

	defaultServerURL = "https://api.skie.ultrafinite.com"
)

const (
	// DefaultDebounceMS is the watcher debounce window in milliseconds.
	DefaultDebounceMS uint64 = 500

	// DefaultMinChunkSize is the minimum chunk size (2 KiB). The chunker
	// skips cut-point evaluation below this to save CPU.
	DefaultMinChunkSize uint32 = 2 * 1024

	// DefaultAvgChunkSize is the target average chunk size (8 KiB),
	// balancing metadata overhead against dedup ratio.
	DefaultAvgChunkSize uint32 = 8 * 1024

	// DefaultMaxChunkSize is the forced cut size (32 KiB). Bounds chunk
	// growth when the rolling hash finds no natural cut point.
	DefaultMaxChunkSize uint32 = 32 * 1024

	// DefaultNumThreads is the hasher pool size. Lower on handhelds and
	// laptops; on desktops this can be the CPU count.
	DefaultNumThreads = 8

	// DefaultChannelSize is the bounded-queue capacity between pipeline
	// stages.
	DefaultChannelSize = 64

	// ChunkProtocolVersion identifies the chunking parameters and cut-point
	// algorithm. Increment whenever any of the constants above (or the
	// chunker polynomial) change, to trigger a client reindex.
	ChunkProtocolVersion uint32 = 1
)

// Engine configures the chunking/hashing pipeline.
type Engine struct {
	MinChunkSize uint32 `toml:"min_chunk_size"`
	AvgChunkSize uint32 `toml:"avg_chunk_size"`
	MaxChunkSize uint32 `toml:"max_chunk_size"`
	NumThreads   int    `toml:"num_threads"`
	ChannelSize  int    `toml:"channel_size"`
}

// Network configures the remote endpoint. Consumed by the upload layer,
// not by the core engine.
type Network struct {
	ServerURL     string `toml:"server_url"`
	MaxUploadKbps uint32 `toml:"max_upload_kbps"`
}

// Privacy configures the excluded vault subtree.
type Privacy struct {
	Vault       bool   `toml:"vault"`
	VaultFolder string `toml:"vault_folder"`
}

// App is the full serialized configuration.
type App struct {
	SyncDir         string  `toml:"sync_dir"`
	DebounceMS      uint64  `toml:"debounce_ms"`
	ProtocolVersion uint32  `toml:"protocol_version"`
	Engine          Engine  `toml:"engine_config"`
	Network         Network `toml:"network_config"`
	Privacy         Privacy `toml:"privacy_config"`
}

// Default returns the configuration used on first run.
func Default() App {
	syncDir := DefaultSyncDir()
	return App{
		SyncDir:         syncDir,
		DebounceMS:      DefaultDebounceMS,
		ProtocolVersion: ChunkProtocolVersion,
		Engine: Engine{
			MinChunkSize: DefaultMinChunkSize,
			AvgChunkSize: DefaultAvgChunkSize,
			MaxChunkSize: DefaultMaxChunkSize,
			NumThreads:   DefaultNumThreads,
			ChannelSize:  DefaultChannelSize,
		},
		Network: Network{
			ServerURL:     defaultServerURL,
			MaxUploadKbps: 0,
		},
		Privacy: Privacy{
			Vault:       true,
			VaultFolder: filepath.Join(syncDir, VaultDirName),
		},
	}
}

// DefaultSyncDir resolves the default sync root: the user's Documents
// folder when one exists, the home directory otherwise, and the working
// directory as the final fallback.
func DefaultSyncDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return SyncDirName
	}
	docs := filepath.Join(home, "Documents")
	if info, err := os.Stat(docs); err == nil && info.IsDir() {
		return filepath.Join(docs, SyncDirName)
	}
	return filepath.Join(home, SyncDirName)
}

// ConfigPath returns the config file location for a sync root.
func ConfigPath(syncDir string) string {
	return filepath.Join(syncDir, ConfigDirName, ConfigFileName)
}

// DBPath returns the content-store database location for a sync root.
func DBPath(syncDir string) string {
	return filepath.Join(syncDir, ConfigDirName, DBFileName)
}

// DebounceWindow returns the debounce interval as a duration.
func (a App) DebounceWindow() time.Duration {
	return time.Duration(a.DebounceMS) * time.Millisecond
}

// ProtocolMismatch reports whether the persisted chunking protocol differs
// from the one compiled into this binary. A mismatch means every tracked
// file must be treated as dirty and reindexed.
func (a App) ProtocolMismatch() bool {
	return a.ProtocolVersion != ChunkProtocolVersion
}

// Load reads and parses the config file at path.
func Load(path string) (App, error) {
	var app App
	if _, err := toml.DecodeFile(path, &app); err != nil {
		return App{}, fmt.Errorf("read config %q: %w", path, err)
	}
	return app, nil
}

// Save serializes app to path, creating parent directories as needed.
func Save(path string, app App) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config %q: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(app); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// Bootstrap ensures the sync root and its .config directory exist, then
// loads the configuration — writing the defaults first if no config file
// is present. The .config directory is marked hidden on platforms with a
// hidden attribute.
func Bootstrap(syncDir string) (App, error) {
	if syncDir == "" {
		syncDir = DefaultSyncDir()
	}
	configDir := filepath.Join(syncDir, ConfigDirName)
	if _, err := os.Stat(configDir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(configDir, 0o750); err != nil {
			return App{}, fmt.Errorf("create config directory: %w", err)
		}
		markHidden(configDir)
	}

	path := filepath.Join(configDir, ConfigFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		app := Default()
		app.SyncDir = syncDir
		app.Privacy.VaultFolder = filepath.Join(syncDir, VaultDirName)
		if err := Save(path, app); err != nil {
			return App{}, err
		}
		return app, nil
	}

	return Load(path)
}
