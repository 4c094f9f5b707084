package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/depot/internal/notify"
	"github.com/mesh-intelligence/depot/internal/paths"
	"github.com/mesh-intelligence/depot/internal/query"
	"github.com/mesh-intelligence/depot/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "DEPOT"
)

// Config keys.
const (
	cfgKeyDriver         = "driver"
	cfgKeyDSN            = "dsn"
	cfgKeyDataDir        = "data_dir"
	cfgKeyKeyStrategy    = "key_strategy"
	cfgKeyListen         = "listen"
	cfgKeyMetricsListen  = "metrics_listen"
	cfgKeyPeers          = "peers"
	cfgKeySyncPeers      = "sync_peers"
	cfgKeyWriters        = "writers"
	cfgKeyNotifyWorkers  = "notify.workers"
	cfgKeyNotifyQueue    = "notify.queue"
	cfgKeyQueryBatchSize = "query.batch_size"
	cfgKeyQueryCacheSize = "query.cache_size"
	cfgKeyLogLevel       = "log.level"
	cfgKeyLogFormat      = "log.format"
)

// DefaultListen is the line-protocol address when none is configured.
const DefaultListen = ":8777"

var defaults = map[string]any{
	cfgKeyDriver:         types.DriverSQLite,
	cfgKeyKeyStrategy:    types.KeyStrategyAuto,
	cfgKeyListen:         DefaultListen,
	cfgKeyNotifyWorkers:  notify.DefaultWorkers,
	cfgKeyNotifyQueue:    notify.DefaultQueue,
	cfgKeyQueryBatchSize: query.DefaultBatchSize,
	cfgKeyQueryCacheSize: query.DefaultCacheSize,
	cfgKeyLogLevel:       "info",
	cfgKeyLogFormat:      "text",
}

// configFile holds the structure written to a fresh config.yaml.
type configFile struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn,omitempty"`
	DataDir     string `yaml:"data_dir,omitempty"`
	KeyStrategy string `yaml:"key_strategy"`
	Listen      string `yaml:"listen"`
}

// settings is the resolved configuration of one invocation.
type settings struct {
	store          types.Config
	listen         string
	metricsListen  string
	peers          []string
	syncPeers      []string
	writers        []string
	notifyWorkers  int
	notifyQueue    int
	queryBatchSize int
	queryCacheSize int
}

// loadConfig reads config.yaml from configDir, creating the directory and a
// default file on first run. A missing config.yaml is not an error. Every
// key except data_dir can be overridden by a DEPOT_ variable, dots becoming
// underscores; data_dir follows the directory precedence of package paths.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure config dir")
	}
	if err := writeConfigIfMissing(filepath.Join(configDir, configFileExt)); err != nil {
		return nil, errors.Wrap(err, "ensure default config")
	}

	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{
		cfgKeyDriver, cfgKeyDSN, cfgKeyKeyStrategy, cfgKeyListen, cfgKeyMetricsListen,
		cfgKeyPeers, cfgKeySyncPeers, cfgKeyWriters, cfgKeyNotifyWorkers, cfgKeyNotifyQueue,
		cfgKeyQueryBatchSize, cfgKeyQueryCacheSize, cfgKeyLogLevel, cfgKeyLogFormat,
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	return v, nil
}

// writeConfigIfMissing creates config.yaml with default values if the file
// does not exist.
func writeConfigIfMissing(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return errors.Wrap(err, "stat config file")
	}

	data, err := yaml.Marshal(&configFile{
		Driver:      types.DriverSQLite,
		KeyStrategy: types.KeyStrategyAuto,
		Listen:      DefaultListen,
	})
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return os.WriteFile(path, data, 0o644)
}

// loadSettings resolves the directories, reads the configuration and sets
// up logging.
func loadSettings() (*settings, error) {
	configDir, err := resolveConfigDir()
	if err != nil {
		return nil, err
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(v.GetString(cfgKeyLogLevel), v.GetString(cfgKeyLogFormat)); err != nil {
		return nil, err
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure data dir")
	}

	s := &settings{
		store: types.Config{
			Driver:      v.GetString(cfgKeyDriver),
			DSN:         v.GetString(cfgKeyDSN),
			DataDir:     dataDir,
			KeyStrategy: v.GetString(cfgKeyKeyStrategy),
		},
		listen:         v.GetString(cfgKeyListen),
		metricsListen:  v.GetString(cfgKeyMetricsListen),
		peers:          v.GetStringSlice(cfgKeyPeers),
		syncPeers:      v.GetStringSlice(cfgKeySyncPeers),
		writers:        v.GetStringSlice(cfgKeyWriters),
		notifyWorkers:  v.GetInt(cfgKeyNotifyWorkers),
		notifyQueue:    v.GetInt(cfgKeyNotifyQueue),
		queryBatchSize: v.GetInt(cfgKeyQueryBatchSize),
		queryCacheSize: v.GetInt(cfgKeyQueryCacheSize),
	}
	if err := s.store.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	return nil
}
