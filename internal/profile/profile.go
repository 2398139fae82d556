package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the routinesense worker.
type Profile struct {
	Mode    string
	Addr    string
	Data    string
	Driver  string
	DSN     string
	Version string
	// Timezone names the IANA location used for calendar-day arithmetic.
	Timezone  string
	LogLevel  string
	LogFormat string
	Port      int

	// Notification sinks
	WebhookURL       string
	TelegramBotToken string
	// TelegramChatIDs maps user IDs to Telegram chat IDs, e.g. "1:12345,2:67890".
	// A bare chat ID ("12345") is used for every user.
	TelegramChatIDs string
	NotifyQueueSize int
	NotifyRatePerS  float64
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads sink credentials that are kept out of flags.
func (p *Profile) FromEnv() {
	p.WebhookURL = getEnvOrDefault("ROUTINESENSE_WEBHOOK_URL", p.WebhookURL)
	p.TelegramBotToken = getEnvOrDefault("ROUTINESENSE_TELEGRAM_BOT_TOKEN", p.TelegramBotToken)
	p.TelegramChatIDs = getEnvOrDefault("ROUTINESENSE_TELEGRAM_CHAT_IDS", p.TelegramChatIDs)
	p.NotifyQueueSize = getEnvOrDefaultInt("ROUTINESENSE_NOTIFY_QUEUE_SIZE", p.NotifyQueueSize)
	if p.NotifyQueueSize <= 0 {
		p.NotifyQueueSize = 256
	}
}

// Location resolves Timezone, falling back to the local zone.
func (p *Profile) Location() *time.Location {
	if p.Timezone == "" || p.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using local", "timezone", p.Timezone, "error", err)
		return time.Local
	}
	return loc
}

// ParseTelegramChatIDs parses TelegramChatIDs into a per-user map and a default chat.
func (p *Profile) ParseTelegramChatIDs() (map[int32]int64, int64, error) {
	chats := map[int32]int64{}
	var fallback int64
	for _, part := range strings.Split(p.TelegramChatIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		user, chat, found := strings.Cut(part, ":")
		if !found {
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "invalid telegram chat id %q", part)
			}
			fallback = id
			continue
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(user), 10, 32)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "invalid user id in %q", part)
		}
		chatID, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "invalid telegram chat id in %q", part)
		}
		chats[int32(userID)] = chatID
	}
	return chats, fallback, nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "routinesense")
		} else {
			p.Data = "/var/opt/routinesense"
		}
		if _, err := os.Stat(p.Data); os.IsNotExist(err) {
			if err := os.MkdirAll(p.Data, 0770); err != nil {
				slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("routinesense_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}
	return nil
}
