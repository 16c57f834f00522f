package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digwatch/internal/watcher/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "MINIO_ROOT_USER", "MINIO_ROOT_PASSWORD", "DIGWATCH_STORE", "DIGWATCH_ADDR", "DIGWATCH_TASK"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load([]string{"--store-base-url=https://storage.googleapis.com/scans"})
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Addr)
	assert.Equal(t, config.LogFormatText, cfg.LogFormat)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.LiveTileInterval)
	assert.Equal(t, 30*time.Minute, cfg.ActivityWindow)
	assert.Equal(t, config.StoreHTTP, cfg.Store.Backend)
	assert.Equal(t, config.RegistryObjectStore, cfg.Registry.Backend)
	assert.InDelta(t, 3000.0, cfg.RampMax, 1e-9)
	assert.True(t, cfg.IsLocal())
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		args   []string
		env    map[string]string
		expErr bool
		check  func(t *testing.T, cfg *config.Config)
	}{
		"port env wins like the gateway": {
			args: []string{"--store=memory", "--addr=:9000"},
			env:  map[string]string{"PORT": "7070"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, ":7070", cfg.Addr)
			},
		},
		"flags come from DIGWATCH envars": {
			env: map[string]string{
				"DIGWATCH_STORE":         "memory",
				"DIGWATCH_POLL_INTERVAL": "2s",
				"DIGWATCH_LOG_FORMAT":    "json",
			},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.StoreMemory, cfg.Store.Backend)
				assert.Equal(t, 2*time.Second, cfg.PollInterval)
				assert.Equal(t, config.LogFormatJSON, cfg.LogFormat)
			},
		},
		"local s3 falls back to minio": {
			args: []string{"--store=s3", "--env=local"},
			env: map[string]string{
				"MINIO_ROOT_USER":     "minio",
				"MINIO_ROOT_PASSWORD": "minio123",
			},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "minio:9000", cfg.Store.S3.Endpoint)
				assert.Equal(t, "minio", cfg.Store.S3.AccessKey)
				assert.Equal(t, "minio123", cfg.Store.S3.SecretKey)
				assert.False(t, cfg.Store.S3.UseSSL)
			},
		},
		"gcs bucket gives the http store a base url": {
			args: []string{"--gcs-bucket=scans"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "https://storage.googleapis.com/scans", cfg.Store.BaseURL)
			},
		},
		"tasks are split and deduplicated": {
			args: []string{"--store=memory", "--task=a,b", "--task=b", "--task= c "},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, []string{"a", "b", "c"}, cfg.Tasks)
			},
		},
		"http store without base url": {
			args:   []string{},
			expErr: true,
		},
		"remote s3 without endpoint": {
			args:   []string{"--store=s3", "--env=production"},
			expErr: true,
		},
		"postgres registry without dsn": {
			args:   []string{"--store=memory", "--registry=postgres"},
			expErr: true,
		},
		"unknown store": {
			args:   []string{"--store=ftp"},
			expErr: true,
		},
		"inverted ramp": {
			args:   []string{"--store=memory", "--ramp-min=100", "--ramp-max=10"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range test.env {
				t.Setenv(k, v)
			}

			cfg, err := config.Load(test.args)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			test.check(t, cfg)
		})
	}
}
