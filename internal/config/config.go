package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when DWH_CONFIG is not set.
const DefaultPath = "dwh.cfg"

var (
	// ErrMissingKey is returned by Validate when required keys are absent.
	ErrMissingKey = errors.New("missing required config key")

	// ErrUnsupportedFormat is returned for config files with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// Dialects understood by the warehouse layer.
const (
	DialectRedshift = "redshift"
	DialectPostgres = "postgres"
)

// Config is loaded once at startup and passed by value to every stage.
type Config struct {
	Cluster   ClusterConfig
	S3        S3Config
	Region    string
	IAMRole   string
	AWS       AWSConfig
	Warehouse WarehouseConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Unload    UnloadConfig
}

type ClusterConfig struct {
	Host     string
	DBName   string
	User     string
	Password string
	Port     int
}

type S3Config struct {
	LogData     string
	LogJSONPath string
	SongData    string
	Endpoint    string
}

// AWSConfig holds the object-store access key pair used in COPY credentials.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type WarehouseConfig struct {
	Dialect string // "redshift" | "postgres"
	SSLMode string
}

type LoggingConfig struct {
	Format string // "json" | "text" | "pretty"
	Level  string
}

type MetricsConfig struct {
	Pushgateway string
	Job         string
	Listen      string
}

type UnloadConfig struct {
	Target string // s3://bucket/prefix, gs://bucket/prefix or file:///dir
}

// Path returns the config file location, honoring DWH_CONFIG.
func Path() string {
	return getenvDefault("DWH_CONFIG", DefaultPath)
}

// MustLoad reads .env, the config file and the environment, and exits on any error.
func MustLoad() Config {
	log.Println("[config] loading")

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := Load(Path())
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Load reads the key-value file at path and applies environment overrides.
func Load(path string) (Config, error) {
	values, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	return fromValues(values, os.Getenv)
}

// fromValues builds a Config from flattened SECTION.KEY values; getenv wins over the file.
func fromValues(values map[string]string, getenv func(string) string) (Config, error) {
	get := func(key string) string { return values[key] }
	override := func(envKey, fileValue string) string {
		if v := getenv(envKey); v != "" {
			return v
		}
		return fileValue
	}

	cfg := Config{
		Cluster: ClusterConfig{
			Host:     override("REDSHIFT_HOST", get("CLUSTER.HOST")),
			DBName:   get("CLUSTER.DB_NAME"),
			User:     get("CLUSTER.DB_USER"),
			Password: override("REDSHIFT_PASSWORD", get("CLUSTER.DB_PASSWORD")),
		},
		S3: S3Config{
			LogData:     get("S3.LOG_DATA"),
			LogJSONPath: get("S3.LOG_JSONPATH"),
			SongData:    get("S3.SONG_DATA"),
			Endpoint:    get("S3.ENDPOINT"),
		},
		Region:  get("REGION.NAME"),
		IAMRole: get("IAM_ROLE.ARN"),
		AWS: AWSConfig{
			AccessKeyID:     getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    getenv("AWS_SESSION_TOKEN"),
		},
		Warehouse: WarehouseConfig{
			Dialect: strings.ToLower(defaultString(get("WAREHOUSE.DIALECT"), DialectRedshift)),
			SSLMode: get("WAREHOUSE.SSLMODE"),
		},
		Logging: LoggingConfig{
			Format: override("LOG_FORMAT", defaultString(get("LOGGING.FORMAT"), "text")),
			Level:  override("LOG_LEVEL", defaultString(get("LOGGING.LEVEL"), "info")),
		},
		Metrics: MetricsConfig{
			Pushgateway: override("PUSHGATEWAY_URL", get("METRICS.PUSHGATEWAY")),
			Job:         defaultString(get("METRICS.JOB"), "sparkify_etl"),
			Listen:      override("METRICS_ADDR", get("METRICS.LISTEN")),
		},
		Unload: UnloadConfig{
			Target: get("UNLOAD.TARGET"),
		},
	}

	if p := get("CLUSTER.DB_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, fmt.Errorf("parse CLUSTER.DB_PORT %q: %w", p, err)
		}
		cfg.Cluster.Port = port
	}

	return cfg, nil
}

// Validate reports every missing required key in a single error.
func (c Config) Validate() error {
	required := map[string]string{
		"CLUSTER.HOST":        c.Cluster.Host,
		"CLUSTER.DB_NAME":     c.Cluster.DBName,
		"CLUSTER.DB_USER":     c.Cluster.User,
		"CLUSTER.DB_PASSWORD": c.Cluster.Password,
		"S3.LOG_DATA":         c.S3.LogData,
		"S3.LOG_JSONPATH":     c.S3.LogJSONPath,
		"S3.SONG_DATA":        c.S3.SongData,
	}
	if c.Warehouse.Dialect == DialectRedshift {
		required["REGION.NAME"] = c.Region
	}

	var missing []string
	for key, val := range required {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if c.Cluster.Port == 0 {
		missing = append(missing, "CLUSTER.DB_PORT")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}

	switch c.Warehouse.Dialect {
	case DialectRedshift, DialectPostgres:
	default:
		return fmt.Errorf("unknown WAREHOUSE.DIALECT %q", c.Warehouse.Dialect)
	}
	return nil
}

// readFile flattens a config file into SECTION.KEY -> value.
func readFile(path string) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cfg", ".ini", ".conf":
		return readINI(path)
	case ".yaml", ".yml":
		return readYAML(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func readINI(path string) (map[string]string, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	values := make(map[string]string)
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		for _, key := range section.Keys() {
			values[flatKey(section.Name(), key.Name())] = unquote(key.String())
		}
	}
	return values, nil
}

func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc map[string]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	values := make(map[string]string)
	for section, keys := range doc {
		for key, val := range keys {
			if val == nil {
				continue
			}
			values[flatKey(section, key)] = fmt.Sprint(val)
		}
	}
	return values, nil
}

func flatKey(section, key string) string {
	return strings.ToUpper(strings.TrimSpace(section)) + "." + strings.ToUpper(strings.TrimSpace(key))
}

// unquote strips one level of matching single or double quotes.
func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '\'' || first == '"') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
