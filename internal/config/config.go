package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogZapMode               string `mapstructure:"LOG_ZAP_MODE"`
	PrintConfigurationToLogs string `mapstructure:"PRINT_CONFIGURATION_TO_LOGS"`

	IssuerAddress  string `mapstructure:"ISSUER_ADDRESS"`
	CollectionName string `mapstructure:"COLLECTION_NAME"`

	BithompApiUrl   string `mapstructure:"BITHOMP_API_URL"`
	BithompApiToken string `mapstructure:"BITHOMP_API_TOKEN" json:"-"`
	XrplRpcUrl      string `mapstructure:"XRPL_RPC_URL"`
	MintPageLimit   int    `mapstructure:"MINT_PAGE_LIMIT"`

	TelegramApiUrl        string `mapstructure:"TELEGRAM_API_URL"`
	TelegramBotToken      string `mapstructure:"TELEGRAM_BOT_TOKEN" json:"-"`
	TelegramChatId        string `mapstructure:"TELEGRAM_CHAT_ID"`
	TelegramRatePerMinute int    `mapstructure:"TELEGRAM_RATE_PER_MINUTE"`

	PollIntervalSeconds   int  `mapstructure:"POLL_INTERVAL"`
	MaxEventAgeMinutes    int  `mapstructure:"MAX_EVENT_AGE_MINUTES"`
	AllowBackfill         bool `mapstructure:"ALLOW_BACKFILL"`
	RequestTimeoutSeconds int  `mapstructure:"REQUEST_TIMEOUT"`
	HttpMaxRetries        int  `mapstructure:"HTTP_MAX_RETRIES"`
	MaxSeen               int  `mapstructure:"MAX_SEEN"`
	ErrorThreshold        int  `mapstructure:"ERROR_THRESHOLD"`
	BackoffMaxSeconds     int  `mapstructure:"BACKOFF_MAX"`
	AnchorMissLimit       int  `mapstructure:"ANCHOR_MISS_LIMIT"`

	IpfsGateway string `mapstructure:"IPFS_GATEWAY"`

	StateBackend string `mapstructure:"STATE_BACKEND"`
	StatePath    string `mapstructure:"STATE_PATH"`

	NatsUrl           string `mapstructure:"NATS_URL"`
	NatsSubjectPrefix string `mapstructure:"NATS_SUBJECT_PREFIX"`

	RPCPort int `mapstructure:"RPC_PORT"`

	SaleTemplatePath string `mapstructure:"SALE_TEMPLATE_PATH"`
	MintTemplatePath string `mapstructure:"MINT_TEMPLATE_PATH"`
}

const (
	StateBackendFile   = "file"
	StateBackendBadger = "badger"
	StateBackendSqlite = "sqlite"
	StateBackendMemory = "memory"
)

// Older deployments of the bot used these variable names.
var envAliases = map[string][]string{
	"ISSUER_ADDRESS":   {"FUZZYBEAR_ISSUER_ADDRESS", "XRPL_NFT_ISSUER"},
	"TELEGRAM_CHAT_ID": {"GROUP_CHAT_ID"},
}

var defaults = map[string]any{
	"LOG_ZAP_MODE":             "production",
	"BITHOMP_API_URL":          "https://bithomp.com",
	"XRPL_RPC_URL":             "https://s1.ripple.com:51234/",
	"MINT_PAGE_LIMIT":          50,
	"TELEGRAM_API_URL":         "https://api.telegram.org",
	"TELEGRAM_RATE_PER_MINUTE": 20,
	"POLL_INTERVAL":            30,
	"MAX_EVENT_AGE_MINUTES":    120,
	"ALLOW_BACKFILL":           false,
	"REQUEST_TIMEOUT":          25,
	"HTTP_MAX_RETRIES":         6,
	"MAX_SEEN":                 2000,
	"ERROR_THRESHOLD":          5,
	"BACKOFF_MAX":              300,
	"ANCHOR_MISS_LIMIT":        3,
	"IPFS_GATEWAY":             "ipfs.io",
	"STATE_BACKEND":            StateBackendFile,
	"STATE_PATH":               "./data/state.json",
	"NATS_SUBJECT_PREFIX":      "nftwatch",
	"RPC_PORT":                 0,
}

var lock = &sync.Mutex{}
var config *Config

var Get = get

func get() Config {
	if config == nil {
		lock.Lock()
		defer lock.Unlock()
		if config == nil {
			c := loadConfig()
			config = &c
		}
	}
	return *config
}

func loadConfig() Config {
	viperAddConfigFile()
	viperAddDefaults()
	viperAddEnv()
	cfg := initializeCfg()
	debugConfig(cfg)
	return cfg
}

func viperAddConfigFile() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
}

func viperAddDefaults() {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

func viperAddEnv() {
	viper.AutomaticEnv()
	// This makes sure that all envs are binded even if they are not represented in config file (https://github.com/spf13/viper/issues/584)
	valueOfConfig := reflect.ValueOf(&Config{}).Elem()
	fieldsOfConfig := reflect.TypeOf(&Config{}).Elem()
	for i := 0; i < valueOfConfig.NumField(); i++ {
		field, _ := fieldsOfConfig.FieldByName(valueOfConfig.Type().Field(i).Name)
		mapStructureVal := field.Tag.Get("mapstructure")
		keys := append([]string{mapStructureVal, mapStructureVal}, envAliases[mapStructureVal]...)
		err := viper.BindEnv(keys...)
		if err != nil {
			panic(fmt.Sprintf("Error binding env val '%v': %v", mapStructureVal, err))
		}
	}
}

func initializeCfg() Config {
	var cfg Config
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		} else {
			panic(fmt.Sprintf("fatal error reading config file: %v", err))
		}
	}

	err = viper.Unmarshal(&cfg)
	if err != nil {
		panic(fmt.Sprintf("error unmarshaling config: %v", err))
	}
	return cfg
}

func debugConfig(cfg Config) {
	if cfg.PrintConfigurationToLogs == "true" {
		b, err := json.Marshal(cfg)
		var result string
		if err != nil {
			result = "[FAILED TO CONVERT CONF TO STRING]"
		} else {
			result = string(b)
		}
		log.Printf("[APP CONFIGURATION]: %v\n", result)
	}
}

// Validate reports every missing required option and every out of range
// value at once, so a misconfigured deployment fails on the first start.
func (c Config) Validate() error {
	var problems []string
	required := map[string]string{
		"ISSUER_ADDRESS":     c.IssuerAddress,
		"BITHOMP_API_TOKEN":  c.BithompApiToken,
		"TELEGRAM_BOT_TOKEN": c.TelegramBotToken,
		"TELEGRAM_CHAT_ID":   c.TelegramChatId,
	}
	for _, key := range []string{"ISSUER_ADDRESS", "BITHOMP_API_TOKEN", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID"} {
		if strings.TrimSpace(required[key]) == "" {
			problems = append(problems, key+" is required")
		}
	}
	positive := []struct {
		key   string
		value int
	}{
		{"POLL_INTERVAL", c.PollIntervalSeconds},
		{"REQUEST_TIMEOUT", c.RequestTimeoutSeconds},
		{"MAX_SEEN", c.MaxSeen},
		{"ERROR_THRESHOLD", c.ErrorThreshold},
		{"BACKOFF_MAX", c.BackoffMaxSeconds},
		{"ANCHOR_MISS_LIMIT", c.AnchorMissLimit},
		{"MINT_PAGE_LIMIT", c.MintPageLimit},
	}
	for _, p := range positive {
		if p.value <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %d", p.key, p.value))
		}
	}
	if c.MaxEventAgeMinutes < 0 {
		problems = append(problems, fmt.Sprintf("MAX_EVENT_AGE_MINUTES must not be negative, got %d", c.MaxEventAgeMinutes))
	}
	if c.HttpMaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("HTTP_MAX_RETRIES must not be negative, got %d", c.HttpMaxRetries))
	}
	switch c.StateBackend {
	case StateBackendFile, StateBackendBadger, StateBackendSqlite:
		if c.StatePath == "" {
			problems = append(problems, "STATE_PATH is required for backend "+c.StateBackend)
		}
	case StateBackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STATE_BACKEND %q", c.StateBackend))
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) MaxEventAge() time.Duration {
	return time.Duration(c.MaxEventAgeMinutes) * time.Minute
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}
