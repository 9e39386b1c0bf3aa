package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grading_service.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfig_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_MYSQL_DSN", "u:p@tcp(db:3306)/grading?parseTime=true")
	t.Setenv("TEST_KAFKA_BROKER", "")
	path := writeConfig(t, `
database:
  dsn: "${TEST_MYSQL_DSN}"
judgeDatabase:
  dsn: "postgres://judge@pg:5432/scratch"
kafka:
  brokers: ["${TEST_KAFKA_BROKER}"]
minio:
  bucket: corpora
sandbox:
  baseURL: "http://sandbox:2000"
ranking:
  domainCutoffs:
    7: [3, 6]
`)

	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN != "u:p@tcp(db:3306)/grading?parseTime=true" {
		t.Fatalf("dsn not expanded: %q", cfg.Database.DSN)
	}
	if cfg.Kafka.enabled() {
		t.Fatalf("blank broker should disable kafka, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Fatalf("server defaults not applied: %+v", cfg.Server)
	}
	if cfg.Topics.ContestClosed != "grading.contest.closed" {
		t.Fatalf("topic defaults not applied: %+v", cfg.Topics)
	}
	if cfg.Grading.CorpusBucket != "corpora" {
		t.Fatalf("corpus bucket should fall back to minio bucket, got %q", cfg.Grading.CorpusBucket)
	}
	if s := cfg.Ranking.scale(); s.Min != 1000 || s.Max != 2000 {
		t.Fatalf("unexpected scale %+v", s)
	}

	tp, err := cfg.Ranking.tierPolicy()
	if err != nil {
		t.Fatalf("tier policy: %v", err)
	}
	if got := tp.For(7); len(got) != 2 || got[0] != 3 {
		t.Fatalf("domain cutoffs not applied: %v", got)
	}
	if got := tp.For(8); len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("default cutoffs not applied: %v", got)
	}
}

func TestLoadAppConfig_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "missing database", body: "judgeDatabase: {dsn: x}\nsandbox: {baseURL: http://s}\n"},
		{name: "missing judge database", body: "database: {dsn: x}\nsandbox: {baseURL: http://s}\n"},
		{name: "missing sandbox", body: "database: {dsn: x}\njudgeDatabase: {dsn: y}\n"},
		{name: "inverted scale", body: "database: {dsn: x}\njudgeDatabase: {dsn: y}\nsandbox: {baseURL: http://s}\nranking: {ratingMin: 2000, ratingMax: 1000}\n"},
		{name: "malformed yaml", body: "database: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadAppConfig(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRankingConfig_InvalidDomainCutoffs(t *testing.T) {
	r := RankingConfig{DefaultCutoffs: []int{10, 20}, DomainCutoffs: map[int64][]int{1: {5, 5}}}
	if _, err := r.tierPolicy(); err == nil {
		t.Fatalf("expected invalid cutoffs error")
	}
}

func TestKafkaConfig_ToMQConfig(t *testing.T) {
	k := KafkaConfig{
		Brokers:      []string{"kafka:9092"},
		RequiredAcks: -1,
		Compression:  "ZSTD",
		RetryDelay:   2 * time.Second,
		DeadLetter:   "dlq",
	}
	cfg := k.toMQConfig()
	if cfg.Compression != kafka.Zstd {
		t.Fatalf("unexpected compression %v", cfg.Compression)
	}
	if cfg.RequiredAcks != kafka.RequireAll {
		t.Fatalf("unexpected acks %v", cfg.RequiredAcks)
	}
	opts := k.subscribeOptions()
	if opts.RetryDelay != 2*time.Second || opts.DeadLetterTopic != "dlq" {
		t.Fatalf("unexpected subscribe options %+v", opts)
	}
	if parseCompression("none") != kafka.Compression(0) {
		t.Fatalf("unknown codec should disable compression")
	}
}
