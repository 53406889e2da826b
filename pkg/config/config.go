// Package config loads the engine configuration from an optional YAML file
// with viper, applying defaults and hot-reloading on changes.
package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/xmh1011/go-leveldb/pkg/log"
)

// Conf is the global configuration instance.
var Conf AppConfig

// Configuration key names.
const (
	// Log
	KeyLogFilename   = "log.filename"
	KeyLogLevel      = "log.level"
	KeyLogMaxSize    = "log.max_size"
	KeyLogMaxBackups = "log.max_backups"
	KeyLogMaxAge     = "log.max_age"
	KeyLogCompress   = "log.compress"
	KeyLogConsole    = "log.console"

	// LSM
	KeyLSMRootPath             = "lsm.root_path"
	KeyLSMWALPath              = "lsm.wal_path"
	KeyLSMSSTablePath          = "lsm.sstable_path"
	KeyLSMMaxMemTableSize      = "lsm.max_mem_table_size"
	KeyLSMBlockSize            = "lsm.block_size"
	KeyLSMBlockRestartInterval = "lsm.block_restart_interval"
	KeyLSMBloomBitsPerKey      = "lsm.bloom_bits_per_key"
	KeyLSMCompression          = "lsm.compression"
	KeyLSMBlockCacheSize       = "lsm.block_cache_size"
	KeyLSMParanoidChecks       = "lsm.paranoid_checks"
	KeyLSMVerifyChecksums      = "lsm.verify_checksums"
	KeyLSMSyncWrites           = "lsm.sync_writes"
)

// Default values.
const (
	DefaultDataDir              = "./data"
	DefaultLogFilename          = "go-leveldb.log"
	DefaultLogLevel             = "info"
	DefaultLogMaxSize           = 100 // MB
	DefaultLogMaxBackups        = 5
	DefaultLogMaxAge            = 30 // days
	DefaultMaxMemTableSize      = 4 * 1024 * 1024
	DefaultBlockSize            = 4 * 1024
	DefaultBlockRestartInterval = 16
	DefaultBloomBitsPerKey      = 10
	DefaultCompression          = "snappy"
	DefaultBlockCacheSize       = 8 * 1024 * 1024
)

// AppConfig is the root configuration structure.
type AppConfig struct {
	Log log.Config `mapstructure:"log"`
	LSM LSMConfig  `mapstructure:"lsm"`
}

// LSMConfig tunes the storage engine.
type LSMConfig struct {
	RootPath             string `mapstructure:"root_path"`
	WALPath              string `mapstructure:"wal_path"`
	SSTablePath          string `mapstructure:"sstable_path"`
	MaxMemTableSize      int    `mapstructure:"max_mem_table_size"`
	BlockSize            int    `mapstructure:"block_size"`
	BlockRestartInterval int    `mapstructure:"block_restart_interval"`
	BloomBitsPerKey      int    `mapstructure:"bloom_bits_per_key"`
	Compression          string `mapstructure:"compression"` // none, snappy, zstd
	BlockCacheSize       int    `mapstructure:"block_cache_size"`
	ParanoidChecks       bool   `mapstructure:"paranoid_checks"`
	VerifyChecksums      bool   `mapstructure:"verify_checksums"`
	SyncWrites           bool   `mapstructure:"sync_writes"`
}

// Init loads configuration and initializes logging. An empty path uses
// defaults only.
func Init(configPath string) error {
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		log.Info("No config file provided, using default values.")
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	log.Init(Conf.Log)
	log.Info("Config loaded successfully")

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("Config file changed: %s", e.Name)
		if err := viper.Unmarshal(&Conf); err != nil {
			log.Errorf("Failed to re-unmarshal config: %v", err)
			return
		}
		log.Init(Conf.Log)
		log.Info("Config reloaded and applied")
	})

	return nil
}

func setDefaults() {
	// Log
	viper.SetDefault(KeyLogFilename, DefaultLogFilename)
	viper.SetDefault(KeyLogLevel, DefaultLogLevel)
	viper.SetDefault(KeyLogMaxSize, DefaultLogMaxSize)
	viper.SetDefault(KeyLogMaxBackups, DefaultLogMaxBackups)
	viper.SetDefault(KeyLogMaxAge, DefaultLogMaxAge)
	viper.SetDefault(KeyLogCompress, true)
	viper.SetDefault(KeyLogConsole, true)

	// LSM
	viper.SetDefault(KeyLSMRootPath, DefaultDataDir)
	viper.SetDefault(KeyLSMWALPath, fmt.Sprintf("%s/wal", DefaultDataDir))
	viper.SetDefault(KeyLSMSSTablePath, fmt.Sprintf("%s/sst", DefaultDataDir))
	viper.SetDefault(KeyLSMMaxMemTableSize, DefaultMaxMemTableSize)
	viper.SetDefault(KeyLSMBlockSize, DefaultBlockSize)
	viper.SetDefault(KeyLSMBlockRestartInterval, DefaultBlockRestartInterval)
	viper.SetDefault(KeyLSMBloomBitsPerKey, DefaultBloomBitsPerKey)
	viper.SetDefault(KeyLSMCompression, DefaultCompression)
	viper.SetDefault(KeyLSMBlockCacheSize, DefaultBlockCacheSize)
	viper.SetDefault(KeyLSMParanoidChecks, false)
	viper.SetDefault(KeyLSMVerifyChecksums, true)
	viper.SetDefault(KeyLSMSyncWrites, false)
}

// GetConfig returns a copy of the current configuration.
func GetConfig() AppConfig {
	return Conf
}

// GetWALPath returns the WAL directory.
func GetWALPath() string {
	return Conf.LSM.WALPath
}

// GetSSTablePath returns the sstable directory.
func GetSSTablePath() string {
	return Conf.LSM.SSTablePath
}

// GetRootPath returns the engine's data root.
func GetRootPath() string {
	return Conf.LSM.RootPath
}
