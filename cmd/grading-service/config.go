package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"assessengine/internal/common/cache"
	"assessengine/internal/common/db"
	"assessengine/internal/common/mq"
	"assessengine/internal/common/storage"
	"assessengine/internal/grading/ranking"
	"assessengine/internal/grading/rating"
	"assessengine/internal/grading/repository"
	"assessengine/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultEnvFile         = ".env"
	defaultConsumerGroup   = "grading-service"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
}

// SandboxConfig holds execution service settings.
type SandboxConfig struct {
	BaseURL     string            `yaml:"baseURL"`
	Timeout     time.Duration     `yaml:"timeout"`
	CaseTimeout time.Duration     `yaml:"caseTimeout"`
	Concurrency int               `yaml:"concurrency"`
	Languages   map[string]string `yaml:"languages"`
}

// TimeoutConfig holds per-dependency timeouts.
type TimeoutConfig struct {
	DB time.Duration `yaml:"db"`
	MQ time.Duration `yaml:"mq"`
}

// GradingConfig holds judging settings.
type GradingConfig struct {
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
	ProblemCacheTTL time.Duration `yaml:"problemCacheTTL"`
	CorpusTTL       time.Duration `yaml:"corpusTTL"`
	CorpusBucket    string        `yaml:"corpusBucket"`
	MaxSourceBytes  int           `yaml:"maxSourceBytes"`
	Timeouts        TimeoutConfig `yaml:"timeouts"`
}

// RankingConfig holds rating and tier settings.
type RankingConfig struct {
	RatingMin         int             `yaml:"ratingMin"`
	RatingMax         int             `yaml:"ratingMax"`
	Policy            string          `yaml:"policy"`
	IncrementalWeight float64         `yaml:"incrementalWeight"`
	DefaultCutoffs    []int           `yaml:"defaultCutoffs"`
	DomainCutoffs     map[int64][]int `yaml:"domainCutoffs"`
	LockTTL           time.Duration   `yaml:"lockTTL"`
	LockWait          time.Duration   `yaml:"lockWait"`
	FinalizeTimeout   time.Duration   `yaml:"finalizeTimeout"`
}

// AppConfig holds grading-service config.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Logger        logger.Config       `yaml:"logger"`
	Database      db.PoolConfig       `yaml:"database"`
	JudgeDatabase db.PoolConfig       `yaml:"judgeDatabase"`
	Redis         cache.RedisConfig   `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Topics        repository.Topics   `yaml:"topics"`
	MinIO         storage.MinIOConfig `yaml:"minio"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Grading       GradingConfig       `yaml:"grading"`
	Ranking       RankingConfig       `yaml:"ranking"`
}

// loadYAML reads path, expands ${VAR} references and decodes the result into out.
// Variables from an optional .env file are loaded first; existing environment wins.
func loadYAML(path string, out interface{}) error {
	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.JudgeDatabase.DSN == "" {
		return nil, fmt.Errorf("judge database dsn is required")
	}
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox baseURL is required")
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	cfg.Kafka.Brokers = nonEmpty(cfg.Kafka.Brokers)
	applyTopicDefaults(&cfg.Topics)
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = defaultConsumerGroup
	}
	if cfg.Grading.CorpusBucket == "" {
		cfg.Grading.CorpusBucket = cfg.MinIO.Bucket
	}
	if cfg.Ranking.RatingMin == 0 && cfg.Ranking.RatingMax == 0 {
		def := rating.DefaultScale()
		cfg.Ranking.RatingMin, cfg.Ranking.RatingMax = def.Min, def.Max
	}
	if err := cfg.Ranking.scale().Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Ranking.DefaultCutoffs) == 0 {
		cfg.Ranking.DefaultCutoffs = ranking.DefaultCutoffs()
	}
	return &cfg, nil
}

// nonEmpty drops entries left blank by unset environment variables.
func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func applyTopicDefaults(t *repository.Topics) {
	defaults := repository.DefaultTopics()
	if t.SubmissionGraded == "" {
		t.SubmissionGraded = defaults.SubmissionGraded
	}
	if t.ParticipationUpdated == "" {
		t.ParticipationUpdated = defaults.ParticipationUpdated
	}
	if t.PerformanceUpdated == "" {
		t.PerformanceUpdated = defaults.PerformanceUpdated
	}
	if t.ContestFinalized == "" {
		t.ContestFinalized = defaults.ContestFinalized
	}
	if t.ContestClosed == "" {
		t.ContestClosed = defaults.ContestClosed
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (r RankingConfig) scale() rating.Scale {
	return rating.Scale{Min: r.RatingMin, Max: r.RatingMax}
}

func (r RankingConfig) tierPolicy() (*ranking.TierPolicy, error) {
	domains := make(map[int64]ranking.Cutoffs, len(r.DomainCutoffs))
	for domainID, cutoffs := range r.DomainCutoffs {
		domains[domainID] = ranking.Cutoffs(cutoffs)
	}
	return ranking.NewTierPolicy(ranking.Cutoffs(r.DefaultCutoffs), domains)
}
