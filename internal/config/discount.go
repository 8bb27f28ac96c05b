package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DiscountRule binds a usage metric to a counter operation. Rules are matched
// per record by the pipeline and handed to the balance engine.
type DiscountRule struct {
	Name           string  `mapstructure:"name"`
	Metric         string  `mapstructure:"metric"`
	BalanceGroup   int64   `mapstructure:"balanceGroup"`
	CounterID      int64   `mapstructure:"counterId"`
	Operation      string  `mapstructure:"operation"`
	InitialBalance float64 `mapstructure:"initialBalance"`
	ValidityDays   int     `mapstructure:"validityDays"`
}

const (
	DiscountOperationConsume   = "consume"
	DiscountOperationRefund    = "refund"
	DiscountOperationAggregate = "aggregate"
)

type DiscountConfig struct {
	Rules []DiscountRule `mapstructure:"rules"`
}

func DefaultDiscountConfig() DiscountConfig {
	return DiscountConfig{Rules: nil}
}

type DiscountConfigHolder struct {
	current atomic.Value // holds DiscountConfig
}

// NewDiscountConfigHolder loads discount rules from discount.yml and keeps
// them hot-reloadable so counters can be re-provisioned without a restart.
func NewDiscountConfigHolder() (*DiscountConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("discount")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/ratecore/config")
	v.AddConfigPath("/etc/ratecore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RATECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultDiscountConfig()
		v.SetDefault("discount.rules", defaults.Rules)
	}

	var cfg DiscountConfig
	if err := v.UnmarshalKey("discount", &cfg); err != nil {
		return nil, err
	}
	if err := validateDiscountConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DiscountConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DiscountConfig
		if err := v.UnmarshalKey("discount", &updated); err != nil {
			log.Printf("[discount-config] reload failed: %v", err)
			return
		}
		if err := validateDiscountConfig(updated); err != nil {
			log.Printf("[discount-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[discount-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticDiscountConfig wraps fixed rules without file watching, mainly
// for tests and embedded use.
func NewStaticDiscountConfig(cfg DiscountConfig) *DiscountConfigHolder {
	holder := &DiscountConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *DiscountConfigHolder) Get() DiscountConfig {
	return h.current.Load().(DiscountConfig)
}

func validateDiscountConfig(cfg DiscountConfig) error {
	seen := map[string]struct{}{}
	for _, rule := range cfg.Rules {
		if strings.TrimSpace(rule.Name) == "" {
			return errors.New("discount.rules entries need a name")
		}
		if _, dup := seen[rule.Name]; dup {
			return errors.New("discount.rules names must be unique")
		}
		seen[rule.Name] = struct{}{}
		if strings.TrimSpace(rule.Metric) == "" {
			return errors.New("discount.rules entries need a metric")
		}
		switch rule.Operation {
		case DiscountOperationConsume, DiscountOperationRefund, DiscountOperationAggregate:
		default:
			return errors.New("discount.rules operation must be consume, refund or aggregate")
		}
		if rule.InitialBalance < 0 {
			return errors.New("discount.rules initialBalance cannot be negative")
		}
	}
	return nil
}
