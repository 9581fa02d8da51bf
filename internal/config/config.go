package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting of the relay and the client.
type Config struct {
	Server    ServerConfig
	Relay     RelayConfig
	Store     StoreConfig
	Snapshot  SnapshotConfig
	Backplane BackplaneConfig
	Client    ClientConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	snapshot, err := loadSnapshotConfig()
	if err != nil {
		return nil, err
	}

	backplane, err := loadBackplaneConfig()
	if err != nil {
		return nil, err
	}
	if backplane.Enabled && !store.RedisEnabled() {
		return nil, errors.New("RELAY_BACKPLANE requires REDIS_ADDR")
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Relay:     relay,
		Store:     store,
		Snapshot:  snapshot,
		Backplane: backplane,
		Client:    client,
	}, nil
}

// ServerConfig describes the HTTP server.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	Verbose         bool
}

// loadServerConfig resolves the listen address.
func loadServerConfig() (ServerConfig, error) {
	shutdown, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	verbose, err := parseBoolEnv("LOG_VERBOSE", false)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept either ":8080" or "127.0.0.1:8080".
		return ServerConfig{Addr: port, ShutdownTimeout: shutdown, Verbose: verbose}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, ShutdownTimeout: shutdown, Verbose: verbose}, nil
}

// RelayConfig describes the websocket relay.
type RelayConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func loadRelayConfig() (RelayConfig, error) {
	ping, err := parseDurationEnv("RELAY_PING_INTERVAL", 54*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}
	read, err := parseDurationEnv("RELAY_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}
	if ping >= read {
		return RelayConfig{}, fmt.Errorf("RELAY_PING_INTERVAL (%s) must be shorter than RELAY_READ_TIMEOUT (%s)", ping, read)
	}
	write, err := parseDurationEnv("RELAY_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	buffer := 64
	if override, err := parseOptionalIntEnv("RELAY_SEND_BUFFER"); err != nil {
		return RelayConfig{}, err
	} else if override != nil {
		if *override < 1 {
			buffer = 1
		} else {
			buffer = *override
		}
	}

	return RelayConfig{
		PingInterval:   ping,
		ReadTimeout:    read,
		WriteTimeout:   write,
		SendBuffer:     buffer,
		AllowedOrigins: parseListEnv("RELAY_ALLOWED_ORIGINS", []string{"*"}),
	}, nil
}

// StoreConfig describes the Redis store. Without an address the in-memory
// store is used.
type StoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// RedisEnabled reports whether a Redis address is configured.
func (c StoreConfig) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func loadStoreConfig() (StoreConfig, error) {
	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return StoreConfig{}, fmt.Errorf("invalid REDIS_DB value %d", *override)
		}
		db = *override
	}

	return StoreConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		KeyPrefix:     getEnvOrDefault("STORE_KEY_PREFIX", "cobuild:"),
	}, nil
}

// SnapshotConfig describes the Postgres snapshots.
type SnapshotConfig struct {
	DatabaseURL string
	Interval    time.Duration
}

// Enabled reports whether a database URL is configured.
func (c SnapshotConfig) Enabled() bool {
	return c.DatabaseURL != ""
}

func loadSnapshotConfig() (SnapshotConfig, error) {
	interval, err := parseDurationEnv("SNAPSHOT_INTERVAL", 30*time.Second)
	if err != nil {
		return SnapshotConfig{}, err
	}
	return SnapshotConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Interval:    interval,
	}, nil
}

// BackplaneConfig describes the Redis fan-out between relay instances.
type BackplaneConfig struct {
	Enabled       bool
	ChannelPrefix string
}

func loadBackplaneConfig() (BackplaneConfig, error) {
	enabled, err := parseBoolEnv("RELAY_BACKPLANE", false)
	if err != nil {
		return BackplaneConfig{}, err
	}
	return BackplaneConfig{
		Enabled:       enabled,
		ChannelPrefix: getEnvOrDefault("RELAY_BACKPLANE_PREFIX", "cobuild:relay:"),
	}, nil
}

// ClientConfig describes the collaboration client.
type ClientConfig struct {
	RelayURL       string
	IdentityFile   string
	LocalDir       string
	CursorInterval time.Duration
	DedupWindow    time.Duration
	StaleAfter     time.Duration
	SweepInterval  time.Duration
	StatusTTL      time.Duration
}

func loadClientConfig() (ClientConfig, error) {
	cursor, err := parseDurationEnv("COLLAB_CURSOR_INTERVAL", 30*time.Millisecond)
	if err != nil {
		return ClientConfig{}, err
	}
	window, err := parseDurationEnv("COLLAB_DEDUP_WINDOW", 1500*time.Millisecond)
	if err != nil {
		return ClientConfig{}, err
	}
	stale, err := parseDurationEnv("COLLAB_STALE_AFTER", 12*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	sweep, err := parseDurationEnv("COLLAB_SWEEP_INTERVAL", 4*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	status, err := parseDurationEnv("COLLAB_STATUS_TTL", 4*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	identityFile := strings.TrimSpace(os.Getenv("COLLAB_IDENTITY_FILE"))
	if identityFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			identityFile = dir + string(os.PathSeparator) + "cobuild" + string(os.PathSeparator) + "identity.json"
		}
	}

	return ClientConfig{
		RelayURL:       getEnvOrDefault("COLLAB_RELAY_URL", "ws://localhost:8080/ws"),
		IdentityFile:   identityFile,
		LocalDir:       strings.TrimSpace(os.Getenv("COLLAB_LOCAL_DIR")),
		CursorInterval: cursor,
		DedupWindow:    window,
		StaleAfter:     stale,
		SweepInterval:  sweep,
		StatusTTL:      status,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv parses durations such as "54s" or "1m". Non-positive
// values are invalid.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
