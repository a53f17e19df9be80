package config

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Email    EmailConfig
	Push     PushConfig
	Webhook  WebhookConfig
	Jobs     JobsConfig
	Cron     CronConfig
	App      ApplicationConfig
}

type ServerConfig struct {
	Port           string
	GinMode        string
	AllowedOrigins []string
	LogLevel       string
}

type DatabaseConfig struct {
	URL             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  int
}

type JWTConfig struct {
	Secret string
}

type EmailConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	Timeout     time.Duration
	Concurrency int
}

type PushConfig struct {
	Enabled         bool
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             int
	WorkerURL       string
	PingTimeout     time.Duration
	BatchSize       int
	MaxRetries      int
	PollInterval    time.Duration
	RateLimit       float64
	ListenEnabled   bool
	ListenChannel   string
	StaleAfter      time.Duration
}

type WebhookConfig struct {
	GoogleChatURL string
	Timeout       time.Duration
}

type JobsConfig struct {
	Enabled          bool
	OverdueInterval  time.Duration
	ReminderInterval time.Duration
	ReminderWindow   time.Duration
	Timezone         string
	FanOutLimit      int
}

type CronConfig struct {
	Secret     string
	SecretHash string
}

type ApplicationConfig struct {
	Name    string
	BaseURL string
}

var AppConfig *Config

// defaults are registered with viper so that every key can also come from the environment
var defaults = map[string]interface{}{
	"server.port":            "8080",
	"server.gin_mode":        "debug",
	"server.allowed_origins": "http://localhost:3000",
	"server.log_level":       "info",

	"database.url":               "",
	"database.max_idle_conns":    10,
	"database.max_open_conns":    50,
	"database.conn_max_lifetime": time.Hour,
	"database.connect_retries":   5,

	"jwt.secret": "",

	"email.enabled":     false,
	"email.host":        "",
	"email.port":        587,
	"email.username":    "",
	"email.password":    "",
	"email.from":        "Nest <noreply@localhost>",
	"email.timeout":     10 * time.Second,
	"email.concurrency": 5,

	"push.enabled":           true,
	"push.vapid_public_key":  "",
	"push.vapid_private_key": "",
	"push.subject":           "mailto:admin@localhost",
	"push.ttl":               86400,
	"push.worker_url":        "",
	"push.ping_timeout":      2500 * time.Millisecond,
	"push.batch_size":        10,
	"push.max_retries":       3,
	"push.poll_interval":     time.Minute,
	"push.rate_limit":        20.0,
	"push.listen_enabled":    false,
	"push.listen_channel":    "push_queue",
	"push.stale_after":       10 * time.Minute,

	"webhook.google_chat_url": "",
	"webhook.timeout":         5 * time.Second,

	"jobs.enabled":           true,
	"jobs.overdue_interval":  time.Hour,
	"jobs.reminder_interval": 30 * time.Minute,
	"jobs.reminder_window":   24 * time.Hour,
	"jobs.timezone":          "UTC",
	"jobs.fan_out_limit":     5,

	"cron.secret":      "",
	"cron.secret_hash": "",

	"app.name":     "Nest",
	"app.base_url": "http://localhost:3000",
}

// legacy environment names kept working next to the SECTION_KEY form
var envAliases = map[string][]string{
	"server.port":      {"PORT"},
	"server.gin_mode":  {"GIN_MODE"},
	"server.log_level": {"LOG_LEVEL"},
	"database.url":     {"DB_URL", "DATABASE_URL"},
	"jwt.secret":       {"JWT_SECRET", "SUPABASE_JWT_SECRET"},
	"cron.secret":      {"CRON_SECRET"},
}

// Load reads config/config.yaml (optional) and the environment into AppConfig.
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logrus.WithError(err).Warn("Could not read config file, using environment and defaults")
		}
	}

	AppConfig = FromViper(v)
	return AppConfig
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			GinMode:        v.GetString("server.gin_mode"),
			AllowedOrigins: splitList(v.GetString("server.allowed_origins")),
			LogLevel:       v.GetString("server.log_level"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			ConnectRetries:  v.GetInt("database.connect_retries"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Email: EmailConfig{
			Enabled:     v.GetBool("email.enabled"),
			Host:        v.GetString("email.host"),
			Port:        v.GetInt("email.port"),
			Username:    v.GetString("email.username"),
			Password:    v.GetString("email.password"),
			From:        v.GetString("email.from"),
			Timeout:     v.GetDuration("email.timeout"),
			Concurrency: v.GetInt("email.concurrency"),
		},
		Push: PushConfig{
			Enabled:         v.GetBool("push.enabled"),
			VAPIDPublicKey:  v.GetString("push.vapid_public_key"),
			VAPIDPrivateKey: v.GetString("push.vapid_private_key"),
			Subject:         v.GetString("push.subject"),
			TTL:             v.GetInt("push.ttl"),
			WorkerURL:       v.GetString("push.worker_url"),
			PingTimeout:     v.GetDuration("push.ping_timeout"),
			BatchSize:       v.GetInt("push.batch_size"),
			MaxRetries:      v.GetInt("push.max_retries"),
			PollInterval:    v.GetDuration("push.poll_interval"),
			RateLimit:       v.GetFloat64("push.rate_limit"),
			ListenEnabled:   v.GetBool("push.listen_enabled"),
			ListenChannel:   v.GetString("push.listen_channel"),
			StaleAfter:      v.GetDuration("push.stale_after"),
		},
		Webhook: WebhookConfig{
			GoogleChatURL: v.GetString("webhook.google_chat_url"),
			Timeout:       v.GetDuration("webhook.timeout"),
		},
		Jobs: JobsConfig{
			Enabled:          v.GetBool("jobs.enabled"),
			OverdueInterval:  v.GetDuration("jobs.overdue_interval"),
			ReminderInterval: v.GetDuration("jobs.reminder_interval"),
			ReminderWindow:   v.GetDuration("jobs.reminder_window"),
			Timezone:         v.GetString("jobs.timezone"),
			FanOutLimit:      v.GetInt("jobs.fan_out_limit"),
		},
		Cron: CronConfig{
			Secret:     v.GetString("cron.secret"),
			SecretHash: v.GetString("cron.secret_hash"),
		},
		App: ApplicationConfig{
			Name:    v.GetString("app.name"),
			BaseURL: strings.TrimRight(v.GetString("app.base_url"), "/"),
		},
	}
}

// Location returns the timezone sweeps use to decide what "today" is.
func (c JobsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
