package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(envMap(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DBURL != "" {
		t.Errorf("expected empty DB URL, got %q", cfg.DBURL)
	}
	if cfg.QueueDriver != QueueRabbitMQ {
		t.Errorf("expected rabbitmq driver, got %s", cfg.QueueDriver)
	}
	if cfg.APIPort != DefaultAPIPort || cfg.WorkerPort != DefaultWorkerPort || cfg.SchedPort != DefaultSchedPort {
		t.Errorf("unexpected ports: %d/%d/%d", cfg.APIPort, cfg.WorkerPort, cfg.SchedPort)
	}
	if cfg.Worker.Concurrency != DefaultConcurrency || cfg.Worker.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Worker.StepTimeout() != 60*time.Second {
		t.Errorf("expected 60s timeout, got %s", cfg.Worker.StepTimeout())
	}
	if cfg.Worker.StepLease() != 5*time.Minute {
		t.Errorf("expected 5m lease, got %s", cfg.Worker.StepLease())
	}
}

func TestLoad_Env(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"DB_URL":             "postgres://x",
		"QUEUE_DRIVER":       "Redis",
		"REDIS_ADDR":         "redis:6380",
		"API_PORT":           "9000",
		"WORKER_CONCURRENCY": "16",
		"WORKER_RATE_LIMIT":  "2.5",
		"STEP_MAX_ATTEMPTS":  "5",
		"STEP_TIMEOUT_SEC":   "10",
		"SWEEP_INTERVAL_SEC": "5",
		"STEP_LEASE_SEC":     "120",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DBURL != "postgres://x" || cfg.QueueDriver != QueueRedis || cfg.RedisAddr != "redis:6380" {
		t.Errorf("unexpected connection settings: %+v", cfg)
	}
	if cfg.APIPort != 9000 || Addr(cfg.APIPort) != ":9000" {
		t.Errorf("unexpected api port: %d", cfg.APIPort)
	}

	w := cfg.Worker
	if w.Concurrency != 16 || w.RateLimit != 2.5 || w.MaxAttempts != 5 {
		t.Errorf("unexpected worker config: %+v", w)
	}
	if w.StepTimeout() != 10*time.Second || w.SweepInterval() != 5*time.Second || w.StepLease() != 2*time.Minute {
		t.Errorf("unexpected durations: %+v", w)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	data := []byte(`
queue_driver: memory
api_port: 7000
worker:
  concurrency: 8
  max_attempts: 7
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := load(envMap(map[string]string{
		"CONFIG_FILE": path,
		"API_PORT":    "7001",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.QueueDriver != QueueMemory {
		t.Errorf("expected memory driver from file, got %s", cfg.QueueDriver)
	}
	// Окружение перекрывает файл
	if cfg.APIPort != 7001 {
		t.Errorf("expected env port 7001, got %d", cfg.APIPort)
	}
	if cfg.Worker.Concurrency != 8 || cfg.Worker.MaxAttempts != 7 {
		t.Errorf("unexpected worker config: %+v", cfg.Worker)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"QUEUE_DRIVER": "kafka"}},
		{"bad int", map[string]string{"API_PORT": "http"}},
		{"port range", map[string]string{"WORKER_PORT": "70000"}},
		{"bad float", map[string]string{"WORKER_RATE_LIMIT": "fast"}},
		{"negative rate", map[string]string{"WORKER_RATE_LIMIT": "-1"}},
		{"lease below timeout", map[string]string{"STEP_TIMEOUT_SEC": "600", "STEP_LEASE_SEC": "60"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(envMap(tt.env))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(envMap(map[string]string{"CONFIG_FILE": filepath.Join(t.TempDir(), "none.yaml")}))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}
