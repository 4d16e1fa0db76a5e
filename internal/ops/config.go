package ops

import (
	"os"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/internal/schema"
)

// Config mirrors the YAML config layout.
type Config struct {
	Account  AccountConfig  `yaml:"account"`
	Feed     FeedConfig     `yaml:"feed"`
	Broker   BrokerConfig   `yaml:"broker"`
	Risk     RiskConfig     `yaml:"risk"`
	Session  SessionConfig  `yaml:"session"`
	History  HistoryConfig  `yaml:"history"`
	Journal  JournalConfig  `yaml:"journal"`
	Ops      OpsConfig      `yaml:"ops"`
	Strategy StrategyConfig `yaml:"strategy"`
}

// AccountConfig identifies the trading account.
type AccountConfig struct {
	ID           string `yaml:"id"`
	TerminalPath string `yaml:"terminalPath"`
}

// FeedConfig selects the market data source.
type FeedConfig struct {
	Mode string `yaml:"mode"` // "ws" or "sim"
	URL  string `yaml:"url"`
}

// BrokerConfig selects the order gateway and its retry policy.
type BrokerConfig struct {
	Mode          string        `yaml:"mode"` // "sim" only for now
	MaxAttempts   int           `yaml:"maxAttempts"`
	SubmitTimeout time.Duration `yaml:"submitTimeout"`
	BackoffMin    time.Duration `yaml:"backoffMin"`
	BackoffMax    time.Duration `yaml:"backoffMax"`
}

// RiskConfig carries the capital caps in whole currency units.
type RiskConfig struct {
	MaxPortfolioValue   int64 `yaml:"maxPortfolioValue"`
	MaxBuyValuePerDay   int64 `yaml:"maxBuyValuePerDay"`
	MaxBuyValuePerStock int64 `yaml:"maxBuyValuePerStock"`
}

// SessionConfig defines the trading windows as HH:MM pairs.
type SessionConfig struct {
	Windows []WindowConfig `yaml:"windows"`
}

// WindowConfig is a single open/close pair.
type WindowConfig struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// HistoryConfig points at the daily-bar database and the bar download
// endpoint used by the pre-open sync.
type HistoryConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode"`
	BarsURL  string `yaml:"barsUrl"`
}

// JournalConfig points at the order journal file.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// OpsConfig configures the status server and optional profiling.
type OpsConfig struct {
	Addr          string `yaml:"addr"`
	PyroscopeURL  string `yaml:"pyroscopeUrl"`
	PyroscopeName string `yaml:"pyroscopeName"`
}

// StrategyConfig names the strategy and its parameters.
type StrategyConfig struct {
	Name     string            `yaml:"name"`
	Universe []string          `yaml:"universe"`
	Params   map[string]string `yaml:"params"`
}

// Load reads the YAML config, applies environment overrides and
// validates. Missing or invalid risk limits are an error, never a
// default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and account identity from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("TRADER_ACCOUNT_ID"); v != "" {
		c.Account.ID = v
	}
	if v := os.Getenv("TRADER_TERMINAL_PATH"); v != "" {
		c.Account.TerminalPath = v
	}
	if v := os.Getenv("TRADER_DB_PASSWORD"); v != "" {
		c.History.Password = v
	}
	if v := os.Getenv("TRADER_FEED_URL"); v != "" {
		c.Feed.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Feed.Mode == "" {
		c.Feed.Mode = "sim"
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "sim"
	}
	if c.Broker.MaxAttempts == 0 {
		c.Broker.MaxAttempts = 3
	}
	if c.Broker.SubmitTimeout == 0 {
		c.Broker.SubmitTimeout = 3 * time.Second
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "trader.db"
	}
	if c.Ops.Addr == "" {
		c.Ops.Addr = ":8090"
	}
	if c.Strategy.Name == "" {
		c.Strategy.Name = "board-hitting"
	}
	if len(c.Session.Windows) == 0 {
		c.Session.Windows = []WindowConfig{
			{Open: "09:30", Close: "11:30"},
			{Open: "13:00", Close: "14:55"},
		}
	}
}

// Validate rejects configs that would let the engine run without caps.
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return errors.New("account.id is required")
	}
	if c.Risk.MaxPortfolioValue <= 0 {
		return errors.New("risk.maxPortfolioValue must be > 0")
	}
	if c.Risk.MaxBuyValuePerDay <= 0 {
		return errors.New("risk.maxBuyValuePerDay must be > 0")
	}
	if c.Risk.MaxBuyValuePerStock <= 0 {
		return errors.New("risk.maxBuyValuePerStock must be > 0")
	}
	if c.Feed.Mode == "ws" && c.Feed.URL == "" {
		return errors.New("feed.url is required for ws mode")
	}
	if _, err := c.Session.Parse(); err != nil {
		return err
	}
	return nil
}

// Limits converts the configured whole-unit caps to cents.
func (c *Config) Limits() schema.RiskLimits {
	return schema.RiskLimits{
		MaxPortfolioValue:   schema.Notional(c.Risk.MaxPortfolioValue) * 100,
		MaxBuyValuePerDay:   schema.Notional(c.Risk.MaxBuyValuePerDay) * 100,
		MaxBuyValuePerStock: schema.Notional(c.Risk.MaxBuyValuePerStock) * 100,
	}
}

// Window is a resolved trading window in minutes since midnight.
type Window struct {
	OpenMin  int
	CloseMin int
}

// Contains reports whether t falls inside the window, open inclusive
// and close exclusive.
func (w Window) Contains(t time.Time) bool {
	min := t.Hour()*60 + t.Minute()
	return min >= w.OpenMin && min < w.CloseMin
}

// Parse resolves the HH:MM window pairs.
func (s SessionConfig) Parse() ([]Window, error) {
	windows := make([]Window, 0, len(s.Windows))
	for _, w := range s.Windows {
		open, err := parseClock(w.Open)
		if err != nil {
			return nil, errors.Errorf("bad window open %q: %v", w.Open, err)
		}
		cls, err := parseClock(w.Close)
		if err != nil {
			return nil, errors.Errorf("bad window close %q: %v", w.Close, err)
		}
		if cls <= open {
			return nil, errors.Errorf("window %s-%s closes before it opens", w.Open, w.Close)
		}
		windows = append(windows, Window{OpenMin: open, CloseMin: cls})
	}
	return windows, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
