package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type HeaderConfig struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type Config struct {
	Server struct {
		Port       string `toml:"port"`
		EnableAuth bool   `toml:"enable_auth"`
	} `toml:"server"`

	Auth struct {
		RedisURL         string `toml:"redis_url"`
		TokenHeader      string `toml:"token_header"`
		ClientHeader     string `toml:"client_header"`
		TokenKeyTemplate string `toml:"token_key_template"`
	} `toml:"auth"`

	API struct {
		RequiredHeaders []HeaderConfig `toml:"required_headers"`
	} `toml:"api"`

	Database struct {
		DSN           string `toml:"dsn"`
		Host          string `toml:"host"`
		User          string `toml:"user"`
		Password      string `toml:"password"`
		Name          string `toml:"name"`
		SSLMode       string `toml:"sslmode"`
		MigrationsDir string `toml:"migrations_dir"`
		MaxOpenConns  int    `toml:"max_open_conns"`
	} `toml:"database"`

	Ledger struct {
		ReadRetryAttempts uint   `toml:"read_retry_attempts"`
		ReadRetryInitial  string `toml:"read_retry_initial"`
		ReconcileSchedule string `toml:"reconcile_schedule"`
		Timezone          string `toml:"timezone"`
	} `toml:"ledger"`

	Bot struct {
		Token           string  `toml:"token"`
		AdminIDs        []int64 `toml:"admin_ids"`
		ChatIntegration string  `toml:"chat_integration"`
		DefaultCourseID int64   `toml:"default_course_id"`
	} `toml:"bot"`

	Daily struct {
		BasePoints       int            `toml:"base_points"`
		MilestoneBonuses map[string]int `toml:"milestone_bonuses"`
	} `toml:"daily"`
}

// LoadConfig reads the TOML file at path, then applies overrides from the
// environment (and a .env file next to the binary, if any).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}
	config.applyEnv()
	config.applyDefaults()

	if config.Database.DSN == "" {
		return nil, fmt.Errorf("Database is not configured, set database.dsn or database.host")
	}
	if _, err := config.ReadRetryInitial(); err != nil {
		return nil, err
	}
	if _, err := config.Location(); err != nil {
		return nil, fmt.Errorf("invalid ledger.timezone: %w", err)
	}
	if _, err := config.MilestoneBonuses(); err != nil {
		return nil, err
	}

	logger.Debug.Printf("Loaded ledger config: %+v", config.Ledger)

	return &config, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"DB_HOST":     &c.Database.Host,
		"DB_USERNAME": &c.Database.User,
		"DB_PASSWORD": &c.Database.Password,
		"DB_NAME":     &c.Database.Name,
		"BOT_TOKEN":   &c.Bot.Token,
		"REDIS_URL":   &c.Auth.RedisURL,
	}
	for env, field := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":9999"
	}
	if c.Auth.TokenHeader == "" {
		c.Auth.TokenHeader = "Authorization"
	}
	if c.Auth.ClientHeader == "" {
		c.Auth.ClientHeader = "X-Client"
	}
	if c.Auth.TokenKeyTemplate == "" {
		c.Auth.TokenKeyTemplate = "auth:{client}"
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "./migrations"
	}
	if c.Database.DSN == "" && c.Database.Host != "" {
		c.Database.DSN = c.postgresDSN()
	}
	if c.Ledger.ReadRetryAttempts == 0 {
		c.Ledger.ReadRetryAttempts = 3
	}
	if c.Ledger.ReadRetryInitial == "" {
		c.Ledger.ReadRetryInitial = "100ms"
	}
	if c.Ledger.ReconcileSchedule == "" {
		c.Ledger.ReconcileSchedule = "* * * * *"
	}
	if c.Ledger.Timezone == "" {
		c.Ledger.Timezone = "UTC"
	}
	if c.Bot.ChatIntegration == "" {
		c.Bot.ChatIntegration = "TELEGRAM"
	}
	if c.Bot.DefaultCourseID == 0 {
		c.Bot.DefaultCourseID = 1
	}
	if c.Daily.BasePoints == 0 {
		c.Daily.BasePoints = 1
	}
}

func (c *Config) postgresDSN() string {
	sslmode := c.Database.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     c.Database.Host,
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}

func (c *Config) ReadRetryInitial() (time.Duration, error) {
	d, err := time.ParseDuration(c.Ledger.ReadRetryInitial)
	if err != nil {
		return 0, fmt.Errorf("invalid ledger.read_retry_initial: %w", err)
	}
	return d, nil
}

// Location is the timezone in which daily claims roll over.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Ledger.Timezone)
}

// MilestoneBonuses converts the TOML table (string keys) to claim counts.
func (c *Config) MilestoneBonuses() (map[int]int, error) {
	bonuses := make(map[int]int, len(c.Daily.MilestoneBonuses))
	for k, v := range c.Daily.MilestoneBonuses {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid daily milestone %q: %w", k, err)
		}
		bonuses[n] = v
	}
	return bonuses, nil
}
