package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "XBRIDGE_"

// Route cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

type GlobalFlags struct {
	ConfigPath   string
	EnvFile      string
	JSON         bool
	Plain        bool
	Select       string
	ResultsOnly  bool
	Timeout      string
	Retries      int
	LogLevel     string
	CacheBackend string
	NoCache      bool
	RPC          []string
	Providers    string
}

type Settings struct {
	OutputMode   string
	SelectFields []string
	ResultsOnly  bool
	Timeout      time.Duration
	Retries      int
	LogLevel     string
	LogFormat    string

	CacheBackend  string
	CacheTTL      time.Duration
	CachePath     string
	CacheLockPath string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StorePath     string
	StoreLockPath string

	// RPCOverrides maps a chain slug to endpoints tried before the default.
	RPCOverrides map[string][]string

	// EnabledProviders limits quoting and execution; empty means all.
	EnabledProviders []string

	SocketBaseURL string
	SocketAPIKey  string
	AcrossBaseURL string
	RelayBaseURL  string
	RelayAPIKey   string

	PollInterval    time.Duration
	SearchWindow    uint64
	RPCRate         float64
	ReserveGasUnits uint64
	KafkaBrokers    []string
	KafkaTopic      string

	Prices     map[string]float64
	ListenAddr string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Backend  string `yaml:"backend"`
		TTL      string `yaml:"ttl"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		Redis    struct {
			Addr        string `yaml:"addr"`
			Password    string `yaml:"password"`
			PasswordEnv string `yaml:"password_env"`
			DB          *int   `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	RPC       map[string][]string `yaml:"rpc"`
	Providers struct {
		Enabled []string `yaml:"enabled"`
		Socket  struct {
			BaseURL   string `yaml:"base_url"`
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"socket"`
		Across struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"across"`
	} `yaml:"providers"`
	Relay struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"relay"`
	Execution struct {
		ReserveGasUnits *uint64 `yaml:"reserve_gas_units"`
	} `yaml:"execution"`
	Settlement struct {
		PollInterval string   `yaml:"poll_interval"`
		SearchWindow *uint64  `yaml:"search_window"`
		RPCRate      *float64 `yaml:"rpc_rate"`
		Kafka        struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"settlement"`
	Prices map[string]float64 `yaml:"prices"`
	Serve  struct {
		Listen string `yaml:"listen"`
	} `yaml:"serve"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = 5 * time.Minute
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 15 * time.Second
	}
	if settings.SearchWindow == 0 {
		settings.SearchWindow = 1000
	}
	switch settings.CacheBackend {
	case CacheMemory, CacheSQLite:
	case CacheRedis:
		if strings.TrimSpace(settings.RedisAddr) == "" {
			return Settings{}, fmt.Errorf("cache backend redis requires a redis address")
		}
	default:
		return Settings{}, fmt.Errorf("cache backend must be memory, sqlite or redis")
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	dir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         10 * time.Second,
		Retries:         2,
		LogLevel:        "warn",
		LogFormat:       "console",
		CacheBackend:    CacheSQLite,
		CacheTTL:        5 * time.Minute,
		CachePath:       filepath.Join(dir, "cache.db"),
		CacheLockPath:   filepath.Join(dir, "cache.lock"),
		StorePath:       filepath.Join(dir, "records.db"),
		StoreLockPath:   filepath.Join(dir, "records.lock"),
		RPCOverrides:    map[string][]string{},
		PollInterval:    15 * time.Second,
		SearchWindow:    1000,
		ReserveGasUnits: 300_000,
		KafkaTopic:      "xbridge.settlement",
		Prices:          map[string]float64{},
		ListenAddr:      "127.0.0.1:8645",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "xbridge", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "xbridge"), nil
}

// loadEnvFile reads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing default .env is fine;
// a missing explicit file is not.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}

	if cfg.Cache.Backend != "" {
		settings.CacheBackend = strings.ToLower(cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != "" {
		d, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("config cache.ttl: %w", err)
		}
		settings.CacheTTL = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Cache.Redis.Addr != "" {
		settings.RedisAddr = cfg.Cache.Redis.Addr
	}
	if cfg.Cache.Redis.Password != "" {
		settings.RedisPassword = cfg.Cache.Redis.Password
	}
	if cfg.Cache.Redis.PasswordEnv != "" {
		settings.RedisPassword = os.Getenv(cfg.Cache.Redis.PasswordEnv)
	}
	if cfg.Cache.Redis.DB != nil {
		settings.RedisDB = *cfg.Cache.Redis.DB
	}

	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	for chain, urls := range cfg.RPC {
		settings.RPCOverrides[strings.ToLower(strings.TrimSpace(chain))] = urls
	}

	if len(cfg.Providers.Enabled) > 0 {
		settings.EnabledProviders = cfg.Providers.Enabled
	}
	if cfg.Providers.Socket.BaseURL != "" {
		settings.SocketBaseURL = cfg.Providers.Socket.BaseURL
	}
	if cfg.Providers.Socket.APIKey != "" {
		settings.SocketAPIKey = cfg.Providers.Socket.APIKey
	}
	if cfg.Providers.Socket.APIKeyEnv != "" {
		settings.SocketAPIKey = os.Getenv(cfg.Providers.Socket.APIKeyEnv)
	}
	if cfg.Providers.Across.BaseURL != "" {
		settings.AcrossBaseURL = cfg.Providers.Across.BaseURL
	}
	if cfg.Relay.BaseURL != "" {
		settings.RelayBaseURL = cfg.Relay.BaseURL
	}
	if cfg.Relay.APIKey != "" {
		settings.RelayAPIKey = cfg.Relay.APIKey
	}
	if cfg.Relay.APIKeyEnv != "" {
		settings.RelayAPIKey = os.Getenv(cfg.Relay.APIKeyEnv)
	}

	if cfg.Execution.ReserveGasUnits != nil {
		settings.ReserveGasUnits = *cfg.Execution.ReserveGasUnits
	}
	if cfg.Settlement.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Settlement.PollInterval)
		if err != nil {
			return fmt.Errorf("config settlement.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Settlement.SearchWindow != nil {
		settings.SearchWindow = *cfg.Settlement.SearchWindow
	}
	if cfg.Settlement.RPCRate != nil {
		settings.RPCRate = *cfg.Settlement.RPCRate
	}
	if len(cfg.Settlement.Kafka.Brokers) > 0 {
		settings.KafkaBrokers = cfg.Settlement.Kafka.Brokers
	}
	if cfg.Settlement.Kafka.Topic != "" {
		settings.KafkaTopic = cfg.Settlement.Kafka.Topic
	}
	for symbol, price := range cfg.Prices {
		settings.Prices[strings.ToUpper(symbol)] = price
	}
	if cfg.Serve.Listen != "" {
		settings.ListenAddr = cfg.Serve.Listen
	}

	return nil
}

func applyEnv(settings *Settings) error {
	env := func(name string) string { return os.Getenv(envPrefix + name) }

	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := env("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := env("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := env("LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := env("CACHE_BACKEND"); v != "" {
		settings.CacheBackend = strings.ToLower(v)
	}
	if v := env("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.CacheTTL = d
		}
	}
	if v := env("CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := env("CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := env("REDIS_ADDR"); v != "" {
		settings.RedisAddr = v
	}
	if v := env("REDIS_PASSWORD"); v != "" {
		settings.RedisPassword = v
	}
	if v := env("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.RedisDB = n
		}
	}
	if v := env("STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := env("STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
	if v := env("PROVIDERS"); v != "" {
		settings.EnabledProviders = splitList(v)
	}
	if v := env("SOCKET_BASE_URL"); v != "" {
		settings.SocketBaseURL = v
	}
	if v := env("SOCKET_API_KEY"); v != "" {
		settings.SocketAPIKey = v
	}
	if v := env("ACROSS_BASE_URL"); v != "" {
		settings.AcrossBaseURL = v
	}
	if v := env("RELAY_BASE_URL"); v != "" {
		settings.RelayBaseURL = v
	}
	if v := env("RELAY_API_KEY"); v != "" {
		settings.RelayAPIKey = v
	}
	if v := env("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.PollInterval = d
		}
	}
	if v := env("SEARCH_WINDOW"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			settings.SearchWindow = n
		}
	}
	if v := env("RPC_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.RPCRate = f
		}
	}
	if v := env("RESERVE_GAS_UNITS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			settings.ReserveGasUnits = n
		}
	}
	if v := env("KAFKA_BROKERS"); v != "" {
		settings.KafkaBrokers = splitList(v)
	}
	if v := env("KAFKA_TOPIC"); v != "" {
		settings.KafkaTopic = v
	}
	if v := env("LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := env("PRICES"); v != "" {
		prices, err := parsePrices(splitList(v))
		if err != nil {
			return fmt.Errorf("%sPRICES: %w", envPrefix, err)
		}
		for k, p := range prices {
			settings.Prices[k] = p
		}
	}

	// XBRIDGE_RPC_<CHAIN>=url[,url]
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix+"RPC_") || name == envPrefix+"RPC_RATE" {
			continue
		}
		chain := strings.ToLower(strings.TrimPrefix(name, envPrefix+"RPC_"))
		if urls := splitList(value); chain != "" && len(urls) > 0 {
			settings.RPCOverrides[chain] = urls
		}
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.CacheBackend != "" {
		settings.CacheBackend = strings.ToLower(flags.CacheBackend)
	}
	if flags.NoCache {
		settings.CacheBackend = CacheMemory
	}
	if flags.Providers != "" {
		settings.EnabledProviders = splitList(flags.Providers)
	}
	for _, entry := range flags.RPC {
		chain, url, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(chain) == "" || strings.TrimSpace(url) == "" {
			return fmt.Errorf("--rpc expects chain=url, got %q", entry)
		}
		key := strings.ToLower(strings.TrimSpace(chain))
		settings.RPCOverrides[key] = append(settings.RPCOverrides[key], strings.TrimSpace(url))
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func parsePrices(entries []string) (map[string]float64, error) {
	out := make(map[string]float64, len(entries))
	for _, entry := range entries {
		symbol, raw, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("price entry %q must be SYMBOL=value", entry)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("price for %s must be a positive number", symbol)
		}
		out[strings.ToUpper(strings.TrimSpace(symbol))] = v
	}
	return out, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
