package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nest-server/config"
	"nest-server/database"
)

func TestVAPIDKeysCommand(t *testing.T) {
	var out bytes.Buffer
	vapidKeysCmd.SetOut(&out)
	require.NoError(t, vapidKeysCmd.RunE(vapidKeysCmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "PUSH_VAPID_PUBLIC_KEY="))
	assert.True(t, strings.HasPrefix(lines[1], "PUSH_VAPID_PRIVATE_KEY="))
	assert.Greater(t, len(lines[0]), len("PUSH_VAPID_PUBLIC_KEY="))
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	setupLogging(config.ServerConfig{GinMode: "release", LogLevel: "debug"})
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	setupLogging(config.ServerConfig{GinMode: "debug", LogLevel: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)
}

func TestNewAppWithoutPushKeys(t *testing.T) {
	db, err := database.OpenInMemory()
	require.NoError(t, err)

	cfg := &config.Config{
		Push: config.PushConfig{Enabled: true},
		Jobs: config.JobsConfig{Timezone: "UTC"},
		App:  config.ApplicationConfig{Name: "Nest"},
	}
	a := newApp(cfg, db, nil)
	assert.Nil(t, a.worker)
	assert.NotNil(t, a.triggers)
	assert.NotNil(t, a.writer)

	cfg.Push.VAPIDPublicKey = "public"
	cfg.Push.VAPIDPrivateKey = "private"
	assert.NotNil(t, newPushWorker(cfg, db))

	cfg.Push.Enabled = false
	assert.Nil(t, newPushWorker(cfg, db))
}

func TestWorkerWithoutPushRunsSweepsOnly(t *testing.T) {
	db, err := database.OpenInMemory()
	require.NoError(t, err)

	cfg := &config.Config{
		Push: config.PushConfig{Enabled: false},
		Jobs: config.JobsConfig{Timezone: "UTC", OverdueInterval: time.Hour, ReminderInterval: time.Hour},
		App:  config.ApplicationConfig{Name: "Nest"},
	}
	a := newApp(cfg, db, nil)
	require.Nil(t, a.worker)

	workerOnce = true
	assert.Error(t, runWorker(context.Background(), workerCmd, a))

	workerOnce = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, runWorker(ctx, workerCmd, a))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "sweep", "migrate", "vapid-keys", "token", "hash-secret"} {
		assert.True(t, names[want], want)
	}

	sub := map[string]bool{}
	for _, c := range sweepCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.True(t, sub["overdue"])
	assert.True(t, sub["reminders"])
}

func TestHashSecretCommand(t *testing.T) {
	var out bytes.Buffer
	hashSecretCmd.SetOut(&out)
	require.NoError(t, hashSecretCmd.RunE(hashSecretCmd, []string{"s3cret"}))
	assert.True(t, strings.HasPrefix(out.String(), "CRON_SECRET_HASH=$2"))
}

func TestTokenCommand(t *testing.T) {
	config.AppConfig = &config.Config{JWT: config.JWTConfig{Secret: "secret"}}
	defer func() { config.AppConfig = nil }()

	tokenUserID = ""
	assert.Error(t, tokenCmd.RunE(tokenCmd, nil))

	var out bytes.Buffer
	tokenCmd.SetOut(&out)
	tokenUserID = "user-1"
	tokenTTL = time.Hour
	defer func() { tokenUserID = "" }()
	require.NoError(t, tokenCmd.RunE(tokenCmd, nil))
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "."), 3)
}
