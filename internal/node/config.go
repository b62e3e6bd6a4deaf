// Package node wires the store, task queue, materializer, replication
// manager, and ingester into one process-context value (Design Notes
// "process-wide state"): cmd/weftd constructs exactly one Node and holds no
// other global state of its own.
package node

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/weftdb/weft/internal/replication"
	"github.com/weftdb/weft/internal/wid"
)

// Config is the node's static on-disk configuration, loaded from TOML
// (github.com/BurntSushi/toml), the same config-file library the teacher
// uses for its own TOML surfaces.
type Config struct {
	// StoragePath is the SQLite database file path, or ":memory:"/"" for an
	// ephemeral in-memory store.
	StoragePath string `toml:"storage_path"`
	// BlobCacheDir caches assembled blob bytes on disk, keyed by view id.
	// Empty disables the cache.
	BlobCacheDir string `toml:"blob_cache_dir"`
	// IdentityPath is where the node's Ed25519 keypair is persisted. Created
	// on first run if missing.
	IdentityPath string `toml:"identity_path"`
	// TargetSet is the set of schema ids this node replicates by default.
	TargetSet []string `toml:"target_set"`
	// Peers lists addresses this node dials on startup; empty means
	// listen-only.
	Peers []string `toml:"peers"`

	Pools PoolConfig `toml:"pools"`
}

// PoolConfig overrides materializer.DefaultPoolSizes per deployment.
type PoolConfig struct {
	Reduce         int `toml:"reduce"`
	Dependency     int `toml:"dependency"`
	Blob           int `toml:"blob"`
	GarbageCollect int `toml:"garbage_collect"`
}

// LoadConfig reads and parses a TOML config file at path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("node: load config %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultConfig returns a config suitable for a throwaway ephemeral node.
func DefaultConfig() *Config {
	return &Config{StoragePath: ":memory:"}
}

// LoadOrCreateIdentity reads the Ed25519 keypair at path, generating and
// persisting a fresh one if the file does not exist. The identity file holds
// the raw 64-byte private key seed+public key, matching
// crypto/ed25519.PrivateKey's own encoding.
func LoadOrCreateIdentity(path string) (ed25519.PrivateKey, wid.PublicKey, error) {
	if path == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, wid.PublicKey{}, fmt.Errorf("node: generate identity: %w", err)
		}
		var pk wid.PublicKey
		copy(pk[:], pub)
		return priv, pk, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, wid.PublicKey{}, fmt.Errorf("node: identity file %s has %d bytes, want %d", path, len(data), ed25519.PrivateKeySize)
		}
		priv := ed25519.PrivateKey(data)
		var pk wid.PublicKey
		copy(pk[:], priv.Public().(ed25519.PublicKey))
		return priv, pk, nil
	}
	if !os.IsNotExist(err) {
		return nil, wid.PublicKey{}, fmt.Errorf("node: read identity %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, wid.PublicKey{}, fmt.Errorf("node: generate identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wid.PublicKey{}, fmt.Errorf("node: create identity dir: %w", err)
	}
	if err := os.WriteFile(path, priv, 0o600); err != nil {
		return nil, wid.PublicKey{}, fmt.Errorf("node: write identity %s: %w", path, err)
	}
	var pk wid.PublicKey
	copy(pk[:], pub)
	return priv, pk, nil
}

// schemaIDs converts Config.TargetSet's strings into wid.SchemaId values.
// SchemaId has no parse/validate step of its own (Non-goals: schema ids are
// consumed as opaque data, not a type system).
func schemaIDs(raw []string) []wid.SchemaId {
	out := make([]wid.SchemaId, len(raw))
	for i, s := range raw {
		out[i] = wid.SchemaId(s)
	}
	return out
}

// ReplicationMode is always LogHeight; Config has no mode field because
// spec.md §4.8 supports exactly one.
const ReplicationMode = replication.ModeLogHeight
