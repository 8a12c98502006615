package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Run("missing files fall back to defaults", func(t *testing.T) {
		loader, err := Load(t.TempDir())
		require.NoError(t, err)
		cfg := loader.Get()

		assert.Equal(t, "memory", cfg.Database.Driver)
		assert.Equal(t, "memory", cfg.Storage.Backend)
		assert.Equal(t, "DateChecksum", cfg.Ticket.NumberGenerator)
		assert.True(t, cfg.Intake.Strict)
		assert.True(t, cfg.Intake.FallbackOnPostFailure)
		assert.True(t, cfg.Pipe.Enabled)
		assert.Equal(t, "10", cfg.App.SystemID)
		assert.Equal(t, 7*24*time.Hour, cfg.Redis.SeenTTL)
	})

	t.Run("config.yaml overrides default.yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "default.yaml", `
app:
  system_id: "42"
ticket:
  number_generator: Increment
intake:
  banned_emails: ["*@spam.example"]
`)
		writeConfig(t, dir, "config.yaml", `
ticket:
  number_generator: Random
`)
		loader, err := Load(dir)
		require.NoError(t, err)
		cfg := loader.Get()
		assert.Equal(t, "42", cfg.App.SystemID)
		assert.Equal(t, "Random", cfg.Ticket.NumberGenerator)
		assert.Equal(t, []string{"*@spam.example"}, cfg.Intake.BannedEmails)
	})

	t.Run("environment overrides files", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "default.yaml", "pipe:\n  enabled: true\n")
		t.Setenv("GOTRS_INTAKE_PIPE_ENABLED", "false")
		loader, err := Load(dir)
		require.NoError(t, err)
		assert.False(t, loader.Get().Pipe.Enabled)
	})
}

func TestLoadFromFile(t *testing.T) {
	t.Run("parses nested sections", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "intake.yaml", `
database:
  driver: postgres
  dsn: postgres://intake@localhost/intake
organizations:
  - id: 7
    name: Example Corp
    domains: [example.com]
priorities:
  - id: 1
    name: urgent
    urgency: 1
api:
  keys:
    - name: mta
      hash: "$2a$10$abcdefghijklmnopqrstuv"
      can_create_tickets: true
      active: true
mailboxes:
  - name: support
    type: imaps
    host: imap.example.com
    username: support
    password: secret
`)
		loader, err := LoadFromFile(path)
		require.NoError(t, err)
		cfg := loader.Get()

		require.Len(t, cfg.Organizations, 1)
		assert.Equal(t, int64(7), cfg.Organizations[0].ID)
		assert.Equal(t, []string{"example.com"}, cfg.Organizations[0].Domains)
		require.Len(t, cfg.PriorityList(), 1)
		assert.Equal(t, "urgent", cfg.PriorityList()[0].Name)
		require.Len(t, cfg.API.Keys, 1)
		assert.True(t, cfg.API.Keys[0].CanCreateTickets)
		require.Len(t, cfg.Mailboxes, 1)
		assert.Equal(t, "imaps", cfg.Mailboxes[0].Type)
	})

	t.Run("invalid yaml fails", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "bad.yaml", "database: [unterminated")
		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: "memory"},
			Storage:  StorageConfig{Backend: "memory"},
			Ticket:   TicketConfig{CounterStore: "memory"},
		}
	}

	t.Run("valid baseline", func(t *testing.T) {
		cfg := base()
		assert.NoError(t, cfg.Validate())
	})

	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"sql driver without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "not supported"},
		{"db storage on memory database", func(c *Config) { c.Storage.Backend = "db" }, "storage.backend db"},
		{"redis counter without redis", func(c *Config) { c.Ticket.CounterStore = "redis" }, "redis.enabled"},
		{"key without hash", func(c *Config) { c.API.Keys = []APIKeyConfig{{Name: "k"}} }, "has no hash"},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{Name: "crm", URL: "crm.local"}} }, "webhooks[0] (crm)"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("reports every problem at once", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "mysql"
		cfg.Storage.Backend = "s3"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.dsn")
		assert.Contains(t, err.Error(), "storage.backend")
	})
}

func TestServerAddr(t *testing.T) {
	for _, port := range []int{80, 8080} {
		t.Run(fmt.Sprintf("port=%d", port), func(t *testing.T) {
			s := &ServerConfig{Host: "127.0.0.1", Port: port}
			assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), s.GetServerAddr())
		})
	}
}

func TestDefaultPriorities(t *testing.T) {
	cfg := &Config{}
	list := cfg.PriorityList()
	require.Len(t, list, 4)
	assert.Equal(t, 1, list[3].Urgency)
}

func TestShippedDefaults(t *testing.T) {
	loader, err := Load(filepath.Join("..", "..", "config"))
	require.NoError(t, err)
	cfg := loader.Get()
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Empty(t, cfg.Mailboxes)
	assert.Empty(t, cfg.Webhooks)
	assert.Equal(t, int64(32<<20), cfg.Pipe.MaxBytes)
}
