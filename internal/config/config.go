package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
// Billing policy values (price, bonuses, trial) live here and are passed into
// the ledger and reconciliation constructors; nothing reads them globally.
type Config struct {
	BotToken string
	MySQLDSN string
	Debug    bool

	// Billing policy
	PriceRUB       int
	Packs          []int
	BonusPer10     int
	BonusPerFriend int
	TrialEnabled   bool
	TrialCount     int

	// Payments
	PaymentProvider string // tinkoff | yookassa
	PaymentMode     string // TEST | PROD
	ReturnURL       string

	TinkoffTerminalKey string
	TinkoffSecretKey   string
	TinkoffTestURL     string
	TinkoffProdURL     string

	YooKassaShopID    string
	YooKassaSecretKey string
	YooKassaReturnURL string

	// Generation provider
	FalKey         string
	KlingBaseURL   string
	RequestTimeout time.Duration

	// Admin
	AdminID         int64
	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	// Photo storage
	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	// Analytics
	SheetsEnabled         bool
	SheetsSpreadsheetID   string
	SheetsCredentialsFile string
}

// TinkoffBaseURL picks the API host for the configured payment mode.
func (c Config) TinkoffBaseURL() string {
	if strings.EqualFold(c.PaymentMode, "PROD") {
		return c.TinkoffProdURL
	}
	return c.TinkoffTestURL
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Debug: getBool("DEBUG", false),

		PriceRUB:       getInt("PRICE_RUB", 99),
		Packs:          getIntList("PACKS", []int{5, 15, 30, 50}),
		BonusPer10:     getInt("BONUS_PER_10", 2),
		BonusPerFriend: getInt("BONUS_PER_FRIEND", 1),
		TrialEnabled:   getBool("ENABLE_FREE_TRIAL", false),
		TrialCount:     getInt("FREE_TRIAL_COUNT", 0),

		PaymentProvider: strings.ToLower(getEnv("PAYMENT_PROVIDER", "tinkoff")),
		PaymentMode:     strings.ToUpper(getEnv("PAYMENT_MODE", "TEST")),
		ReturnURL:       getEnv("RETURN_URL", "https://t.me/Photo_AliveBot"),

		TinkoffTestURL: getEnv("TINKOFF_TEST_URL", "https://rest-api-test.tinkoff.ru/v2"),
		TinkoffProdURL: getEnv("TINKOFF_PROD_URL", "https://securepay.tinkoff.ru/v2"),

		YooKassaReturnURL: getEnv("YOOKASSA_RETURN_URL", "https://t.me/Photo_AliveBot"),

		KlingBaseURL:   getEnv("KLING_BASE_URL", "https://queue.fal.run"),
		RequestTimeout: time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),

		AdminID:         getInt64("ADMIN_ID", 0),
		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "change-me"),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "photos"),

		SheetsEnabled:         getBool("GSHEETS_ENABLE", false),
		SheetsSpreadsheetID:   os.Getenv("GSHEETS_SPREADSHEET_ID"),
		SheetsCredentialsFile: getEnv("GSHEETS_CREDENTIALS_FILE", "./gcp_sa.json"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.FalKey = os.Getenv("FAL_KEY")
	cfg.TinkoffTerminalKey = os.Getenv("TINKOFF_TERMINAL_KEY")
	cfg.TinkoffSecretKey = os.Getenv("TINKOFF_SECRET_KEY")
	cfg.YooKassaShopID = os.Getenv("YOOKASSA_SHOP_ID")
	cfg.YooKassaSecretKey = os.Getenv("YOOKASSA_SECRET_KEY")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.FalKey == "" {
		missing = append(missing, "FAL_KEY")
	}
	switch cfg.PaymentProvider {
	case "tinkoff":
		if cfg.TinkoffTerminalKey == "" {
			missing = append(missing, "TINKOFF_TERMINAL_KEY")
		}
		if cfg.TinkoffSecretKey == "" {
			missing = append(missing, "TINKOFF_SECRET_KEY")
		}
	case "yookassa":
		if cfg.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if cfg.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
	default:
		return Config{}, fmt.Errorf("unsupported payment provider: %s", cfg.PaymentProvider)
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if cfg.SheetsEnabled && cfg.SheetsSpreadsheetID == "" {
		missing = append(missing, "GSHEETS_SPREADSHEET_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.PriceRUB <= 0 {
		return Config{}, fmt.Errorf("PRICE_RUB must be positive, got %d", cfg.PriceRUB)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getIntList parses comma-separated integers, e.g. PACKS="5,15,30,50".
func getIntList(key string, fallback []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return fallback
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely on real environment variables is fine.
	return nil
}
