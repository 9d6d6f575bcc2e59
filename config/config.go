package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerURL string
	Token     string
	Username  string
	Password  string

	StateDir    string
	InstanceID  string
	GraceWindow time.Duration
	QuietHours  string

	AdminAddr   string
	AdminSecret string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServerURL:   getenv("SMACK_SERVER_URL", ""),
		Token:       getenv("SMACK_TOKEN", ""),
		Username:    getenv("SMACK_USERNAME", ""),
		Password:    getenv("SMACK_PASSWORD", ""),
		StateDir:    getenv("REMIND_STATE_DIR", "./state"),
		InstanceID:  getenv("REMIND_INSTANCE_ID", uuid.New().String()),
		QuietHours:  getenv("REMIND_QUIET_HOURS", ""),
		AdminAddr:   getenv("REMIND_ADMIN_ADDR", ":8090"),
		AdminSecret: getenv("REMIND_ADMIN_SECRET", ""),
	}

	if cfg.ServerURL == "" {
		return cfg, errors.New("SMACK_SERVER_URL is required")
	}
	if cfg.Token == "" && (cfg.Username == "" || cfg.Password == "") {
		return cfg, errors.New("set SMACK_TOKEN or SMACK_USERNAME/SMACK_PASSWORD")
	}

	grace, err := time.ParseDuration(getenv("REMIND_GRACE_WINDOW", "5s"))
	if err != nil {
		return cfg, errors.New("bad REMIND_GRACE_WINDOW: " + err.Error())
	}
	cfg.GraceWindow = grace

	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
