package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/frankdogbe328/signals-sub000/internal/grading"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthHMACSecret string
	AdminUser      string
	AdminPassHash  string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	// Session engine
	DebounceDelay      time.Duration
	CheckpointEvery    int
	ReconcileWallClock bool
	Thresholds         grading.Thresholds

	// Sweeper
	SweepSchedule   string // cron expression; empty disables the sweeper
	SweepStaleAfter time.Duration

	// Result webhook (optional)
	ResultWebhookURL          string
	ResultWebhookTokenURL     string
	ResultWebhookClientID     string
	ResultWebhookClientSecret string
}

// Load reads a .env file when present, then the environment.
func Load(files ...string) Config {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}
	return FromEnv()
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	th, err := grading.ParseThresholds(os.Getenv("GRADE_THRESHOLDS"))
	if err != nil {
		log.Printf("[config] GRADE_THRESHOLDS: %v; using defaults", err)
		th = grading.DefaultThresholds()
	}
	return Config{
		Mode:               mode,
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		DBDriver:           envOr("DB_DRIVER", "sqlite"),
		DBDSN:              envOr("DB_DSN", ""),
		AuthHMACSecret:     envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		AdminUser:          envOr("ADMIN_USER", "admin"),
		AdminPassHash:      envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),
		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://exams.example.edu"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000"),

		DebounceDelay:      time.Duration(envInt("DEBOUNCE_MS", 800)) * time.Millisecond,
		CheckpointEvery:    envInt("CHECKPOINT_EVERY", 30),
		ReconcileWallClock: envBool("RECONCILE_WALL_CLOCK", false),
		Thresholds:         th,

		SweepSchedule:   envOr("SWEEP_SCHEDULE", "@every 1m"),
		SweepStaleAfter: envDuration("SWEEP_STALE_AFTER", 24*time.Hour),

		ResultWebhookURL:          os.Getenv("RESULT_WEBHOOK_URL"),
		ResultWebhookTokenURL:     os.Getenv("RESULT_WEBHOOK_TOKEN_URL"),
		ResultWebhookClientID:     os.Getenv("RESULT_WEBHOOK_CLIENT_ID"),
		ResultWebhookClientSecret: os.Getenv("RESULT_WEBHOOK_CLIENT_SECRET"),
	}
}

// CORSOrigins picks the allow-list for the running mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
func envDuration(k string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
