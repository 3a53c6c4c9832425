package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type GRPC struct {
	Addr       string        `yaml:"addr"`
	UnaryGuard time.Duration `yaml:"unaryGuard"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // signaling-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

type Storage struct {
	Driver string `yaml:"driver"` // postgres|memory
}

type JWT struct {
	Alg           string        `yaml:"alg"`           // HS256|RS256
	Secret        string        `yaml:"secret"`        // для HS256
	PublicKeyPath string        `yaml:"publicKeyPath"` // для RS256
	Issuer        string        `yaml:"issuer"`        // по желанию
	Audience      string        `yaml:"audience"`      // по желанию
	ClockSkew     time.Duration `yaml:"clockSkew"`     // напр. 30s
}

func (j JWT) Validate() error {
	switch strings.ToUpper(j.Alg) {
	case "HS256":
		if j.Secret == "" {
			return errors.New("security.jwt.secret is required for HS256")
		}
	case "RS256":
		if j.PublicKeyPath == "" {
			return errors.New("security.jwt.publicKeyPath is required for RS256")
		}
	default:
		return errors.New("security.jwt.alg must be HS256 or RS256")
	}
	if j.ClockSkew < 0 || j.ClockSkew > time.Minute {
		return errors.New("security.jwt.clockSkew must be in [0..1m]")
	}

	return nil
}

type Encryption struct {
	Key string `yaml:"key"`
}

type Security struct {
	JWT        JWT        `yaml:"jwt"`
	Encryption Encryption `yaml:"encryption"`
}

func (s Security) Validate() error {
	if err := s.JWT.Validate(); err != nil {
		return err
	}
	if s.Encryption.Key == "" {
		return errors.New("security.encryption.key is required")
	}

	return nil
}

type WS struct {
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	PingPeriod     time.Duration `yaml:"pingPeriod"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	ReadLimit      int64         `yaml:"readLimit"`
	SendBuffer     int           `yaml:"sendBuffer"`
}

type Deepgram struct {
	APIKey         string        `yaml:"apiKey"`
	URL            string        `yaml:"url"`
	Model          string        `yaml:"model"`
	Language       string        `yaml:"language"`
	UtteranceEndMs int           `yaml:"utteranceEndMs"`
	KeepAlive      time.Duration `yaml:"keepAlive"`
	FlushTimeout   time.Duration `yaml:"flushTimeout"` // ожидание хвоста после CloseStream
}

type Transcription struct {
	Provider      string        `yaml:"provider"` // deepgram|none
	Deepgram      Deepgram      `yaml:"deepgram"`
	MaxIdleAudio  time.Duration `yaml:"maxIdleAudio"`
	StartTimeout  time.Duration `yaml:"startTimeout"`
	CaptionBuffer int           `yaml:"captionBuffer"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Captions struct {
	Driver    string        `yaml:"driver"` // memory|redis
	Keep      int           `yaml:"keep"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"keyPrefix"`
	Redis     Redis         `yaml:"redis"`
}

type Relay struct {
	PersistTimeout time.Duration `yaml:"persistTimeout"`
}

type Config struct {
	HTTP          HTTP          `yaml:"http"`
	GRPC          GRPC          `yaml:"grpc"`
	Logging       Logging       `yaml:"logging"`
	Postgres      Postgres      `yaml:"postgres"`
	Storage       Storage       `yaml:"storage"`
	Security      Security      `yaml:"security"`
	WS            WS            `yaml:"ws"`
	Transcription Transcription `yaml:"transcription"`
	Captions      Captions      `yaml:"captions"`
	Relay         Relay         `yaml:"relay"`
}

// LoadConfig: .env -> YAML -> переменные окружения поверх -> дефолты -> проверка.
func LoadConfig(path ...string) (*Config, error) {
	// godotenv.Load не перетирает уже заданные переменные
	_ = godotenv.Load()

	filename := os.Getenv("CONFIG_PATH")
	if len(path) > 0 && strings.TrimSpace(path[0]) != "" {
		filename = path[0]
	}
	if filename == "" {
		filename = "./config/config.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Postgres.DSN, "DATABASE_URL")
	setFromEnv(&c.Security.JWT.Secret, "JWT_SECRET")
	setFromEnv(&c.Security.Encryption.Key, "ENCRYPTION_KEY")
	setFromEnv(&c.Transcription.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	setFromEnv(&c.Captions.Redis.Addr, "REDIS_ADDR")
	setFromEnv(&c.Logging.Env, "APP_ENV")

	if v := strings.TrimSpace(os.Getenv("FRONTEND_URL")); v != "" {
		c.WS.AllowedOrigins = strings.Split(v, ",")
	}
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.GRPC.UnaryGuard <= 0 {
		c.GRPC.UnaryGuard = 10 * time.Second
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "signaling-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Security.JWT.Alg == "" {
		c.Security.JWT.Alg = "HS256"
	}

	if c.Transcription.Provider == "" {
		c.Transcription.Provider = "deepgram"
	}
	// без ключа распознавание просто выключено
	if c.Transcription.Provider == "deepgram" && c.Transcription.Deepgram.APIKey == "" {
		c.Transcription.Provider = "none"
	}
	if c.Transcription.MaxIdleAudio == 0 {
		c.Transcription.MaxIdleAudio = 2 * time.Minute
	}
	if c.Transcription.StartTimeout <= 0 {
		c.Transcription.StartTimeout = 15 * time.Second
	}

	if c.Captions.Driver == "" {
		c.Captions.Driver = "memory"
	}
	if c.Captions.Keep <= 0 {
		c.Captions.Keep = 50
	}
	if c.Captions.TTL <= 0 {
		c.Captions.TTL = 6 * time.Hour
	}

	if c.Relay.PersistTimeout <= 0 {
		c.Relay.PersistTimeout = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required (or DATABASE_URL)")
		}
	case "memory":
	default:
		return errors.New("storage.driver must be postgres or memory")
	}

	if err := c.Security.Validate(); err != nil {
		return err
	}

	switch c.Transcription.Provider {
	case "deepgram", "none":
	default:
		return errors.New("transcription.provider must be deepgram or none")
	}
	if c.Transcription.MaxIdleAudio < 0 {
		return errors.New("transcription.maxIdleAudio must be >= 0")
	}

	switch c.Captions.Driver {
	case "memory":
	case "redis":
		if c.Captions.Redis.Addr == "" {
			return errors.New("captions.redis.addr is required for the redis driver (or REDIS_ADDR)")
		}
	default:
		return errors.New("captions.driver must be memory or redis")
	}

	return nil
}
