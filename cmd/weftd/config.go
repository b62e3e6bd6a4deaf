package main

import (
	"os"

	"github.com/spf13/viper"

	"github.com/weftdb/weft/internal/node"
)

// loadConfig reads configPath as TOML, then overlays WEFTD_-prefixed
// environment variables via viper, matching the teacher's own
// flag/env-overlay-on-top-of-a-config-file idiom (internal/labelmutex's
// viper.New()/SetConfigFile()/ReadInConfig() shape).
func loadConfig() (*node.Config, error) {
	var cfg *node.Config
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = node.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = node.DefaultConfig()
	}

	v := viper.New()
	v.SetEnvPrefix("weftd")
	v.AutomaticEnv()

	if v.IsSet("storage_path") {
		cfg.StoragePath = v.GetString("storage_path")
	}
	if v.IsSet("blob_cache_dir") {
		cfg.BlobCacheDir = v.GetString("blob_cache_dir")
	}
	if v.IsSet("identity_path") {
		cfg.IdentityPath = v.GetString("identity_path")
	}

	return cfg, nil
}
