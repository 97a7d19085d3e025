package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/domain"
)

const (
	EnvPassphrase  = "TRACKER_WALLET_PASSPHRASE"
	EnvPrivateKeys = "TRACKER_PRIVATE_KEYS"
	EnvOperator    = "TRACKER_OPERATOR_TOKEN"
)

type Config struct {
	Ledger       Ledger       `yaml:"ledger"`
	Wallet       Wallet       `yaml:"wallet"`
	Course       Course       `yaml:"course"`
	Notification Notification `yaml:"notification"`
	Server       Server       `yaml:"server"`

	// ---
	Schedule        domain.CourseSchedule `yaml:"-"`
	Contract        common.Address        `yaml:"-"`
	ConfirmTimeout  time.Duration         `yaml:"-"`
	NotificationTTL time.Duration         `yaml:"-"`
}

type Ledger struct {
	RPCURL          string `yaml:"rpcURL"`
	ContractAddress string `yaml:"contractAddress"`
	ChainID         int64  `yaml:"chainID"`
	ConfirmTimeout  string `yaml:"confirmTimeout"` // empty or 0 waits forever
	StartBlock      uint64 `yaml:"startBlock"`
}

type Wallet struct {
	KeystoreDir string   `yaml:"keystoreDir"`
	Passphrase  string   `yaml:"passphrase"`
	PrivateKeys []string `yaml:"privateKeys"`
}

type Course struct {
	StartDate   string `yaml:"startDate"`
	TotalWeeks  int    `yaml:"totalWeeks"`
	DaysPerWeek int    `yaml:"daysPerWeek"`
	ValidDays   []int  `yaml:"validDays"` // 0=Sunday
}

type Notification struct {
	TTL string `yaml:"ttl"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	OperatorToken string `yaml:"operatorToken"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

// LoadEnv reads a .env file into the environment. A missing file is not an
// error.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return errors.Wrapf(err, "load %s", path)
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}

	config.applyEnv()
	if err := config.resolve(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPassphrase); v != "" {
		c.Wallet.Passphrase = v
	}
	if v := os.Getenv(EnvPrivateKeys); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		c.Wallet.PrivateKeys = keys
	}
	if v := os.Getenv(EnvOperator); v != "" {
		c.Server.OperatorToken = v
	}
}

func (c *Config) resolve() error {
	if !tracker.IsAddress(c.Ledger.ContractAddress) {
		return domain.ConfigurationError{Reason: "ledger.contractAddress is not a valid address"}
	}
	c.Contract = common.HexToAddress(strings.TrimSpace(c.Ledger.ContractAddress))
	if c.Ledger.RPCURL == "" {
		return domain.ConfigurationError{Reason: "ledger.rpcURL is required"}
	}
	if c.Ledger.ChainID <= 0 {
		return domain.ConfigurationError{Reason: "ledger.chainID is required"}
	}

	timeout, err := parseDuration(c.Ledger.ConfirmTimeout)
	if err != nil {
		return domain.ConfigurationError{Reason: "ledger.confirmTimeout: " + err.Error()}
	}
	c.ConfirmTimeout = timeout

	ttl, err := parseDuration(c.Notification.TTL)
	if err != nil {
		return domain.ConfigurationError{Reason: "notification.ttl: " + err.Error()}
	}
	c.NotificationTTL = ttl

	start, err := time.Parse(domain.DateLayout, strings.TrimSpace(c.Course.StartDate))
	if err != nil {
		return domain.ConfigurationError{Reason: "course.startDate must be YYYY-MM-DD"}
	}
	for _, d := range c.Course.ValidDays {
		if d < 0 || d > 6 {
			return domain.ConfigurationError{Reason: "course.validDays entries must be 0 (Sunday) to 6 (Saturday)"}
		}
	}
	schedule := domain.CourseSchedule{
		StartDate:   domain.CanonicalDay(start),
		TotalWeeks:  c.Course.TotalWeeks,
		DaysPerWeek: c.Course.DaysPerWeek,
		ValidDays:   domain.ParseWeekdays(c.Course.ValidDays),
	}
	if err := schedule.Validate(); err != nil {
		return err
	}
	schedule, err = domain.NewCourseSchedule(schedule.StartDate, schedule.TotalWeeks, schedule.ValidDays)
	if err != nil {
		return err
	}
	c.Schedule = schedule

	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}
