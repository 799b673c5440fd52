package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const validConfigYAML = `
server:
  host: "0.0.0.0"
  port: 8443
  mode: "test"
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  max_header_bytes: 1048576

database:
  mysql:
    driver: "mysql"
    host: "localhost"
    port: 3306
    username: "test_user"
    password: "test_password"
    database: "test_db"
    charset: "utf8mb4"
    parse_time: true
    loc: "Local"
    max_idle_conns: 10
    max_open_conns: 100
    conn_max_lifetime: 3600s
    conn_max_idle_time: 1800s
    log_level: "warn"
  redis:
    host: "localhost"
    port: 6379
    database: 0
    pool_size: 10
    min_idle_conns: 5
    dial_timeout: 5s
    read_timeout: 3s
    write_timeout: 3s

log:
  level: "info"
  format: "json"
  output: "stdout"

security:
  admin_auth:
    header_name: "X-API-Key"
    argon_time: 1
    argon_memory: 65536
    argon_threads: 4
    argon_key_len: 32
  agent_auth:
    mode: "bearer_jwt"
    secret: "test_agent_jwt_secret_at_least_32_chars"
    issuer: "controller-test"
    token_expire: 720h
  scanner:
    require_bearer: false
  rate_limit:
    enabled: true
    requests_per_second: 50
    burst_size: 100

controller:
  heartbeat_interval: 30s
  offline_after_misses: 3
  inactive_after: 24h
  liveness_sweep_interval: 15s
  job_visibility_timeout: 5m
  job_reclaim_interval: 20s
  max_job_attempts: 5

app:
  name: "controller"
  version: "0.1.0"
  environment: "test"
  debug: false
`

func TestLoadConfig_Valid(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "config.test.yaml", validConfigYAML)

	cfg, err := LoadConfig(dir, "test")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("expected port 8443, got %d", cfg.Server.Port)
	}
	if cfg.Database.MySQL.Database != "test_db" {
		t.Errorf("expected database test_db, got %s", cfg.Database.MySQL.Database)
	}
	if cfg.Security.AgentAuth.Secret != "test_agent_jwt_secret_at_least_32_chars" {
		t.Errorf("expected agent jwt secret to load, got %q", cfg.Security.AgentAuth.Secret)
	}
	if cfg.Controller.OfflineAfterMisses != 3 {
		t.Errorf("expected offline_after_misses 3, got %d", cfg.Controller.OfflineAfterMisses)
	}
	if cfg.Controller.ResultBatchSize != 500 {
		t.Errorf("expected default result_batch_size 500, got %d", cfg.Controller.ResultBatchSize)
	}
}

func TestLoadConfig_RejectsShortAgentSecret(t *testing.T) {
	dir := t.TempDir()
	bad := replaceOnce(validConfigYAML, "test_agent_jwt_secret_at_least_32_chars", "short")
	writeTestConfig(t, dir, "config.test.yaml", bad)

	if _, err := LoadConfig(dir, "test"); err == nil {
		t.Fatal("expected validation error for short agent jwt secret")
	}
}

func TestLoadConfig_RejectsBadPort(t *testing.T) {
	dir := t.TempDir()
	bad := replaceOnce(validConfigYAML, "port: 8443", "port: 70000")
	writeTestConfig(t, dir, "config.test.yaml", bad)

	if _, err := LoadConfig(dir, "test"); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestLoadConfig_SqliteDriverRequiresPath(t *testing.T) {
	dir := t.TempDir()
	bad := replaceOnce(validConfigYAML, `driver: "mysql"`, `driver: "sqlite"`)
	writeTestConfig(t, dir, "config.test.yaml", bad)

	if _, err := LoadConfig(dir, "test"); err == nil {
		t.Fatal("expected validation error when sqlite driver has no sqlite_path")
	}
}

func TestServerConfig_GetAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := s.GetAddress(); got != "127.0.0.1:9000" {
		t.Errorf("unexpected address: %s", got)
	}
}

func TestMySQLConfig_GetMySQLDSN(t *testing.T) {
	m := MySQLConfig{
		Username: "u", Password: "p", Host: "h", Port: 3306,
		Database: "d", Charset: "utf8mb4", ParseTime: true, Loc: "Local",
	}
	dsn := m.GetMySQLDSN()
	if dsn == "" {
		t.Fatal("expected non-empty DSN")
	}
}

func replaceOnce(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}
