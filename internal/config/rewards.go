package config

import (
	"errors"
	"log"
	"math"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const tenantPlaceholder = "{tenant}"

// maxGrantablePoints keeps point amounts inside the range a float64 holds exactly.
const maxGrantablePoints = 1 << 53

// RewardsConfig is the points policy applied to every purchase.
type RewardsConfig struct {
	PointsPerUnit       float64 `mapstructure:"pointsPerUnit"`
	MaxPurchaseAmount   float64 `mapstructure:"maxPurchaseAmount"`
	DescriptionTemplate string  `mapstructure:"descriptionTemplate"`
}

func DefaultRewardsConfig() RewardsConfig {
	return RewardsConfig{
		PointsPerUnit:       1,
		MaxPurchaseAmount:   0,
		DescriptionTemplate: "Points earned at " + tenantPlaceholder,
	}
}

// PointsFor converts a purchase amount into whole points, rounding down.
// ok is false when the result does not fit in the grantable range.
func (c RewardsConfig) PointsFor(amount float64) (points int64, ok bool) {
	if amount <= 0 || c.PointsPerUnit <= 0 {
		return 0, true
	}
	raw := math.Floor(amount * c.PointsPerUnit)
	if math.IsInf(raw, 0) || raw >= maxGrantablePoints {
		return 0, false
	}
	return int64(raw), true
}

// ExceedsLimit reports whether amount is above the configured purchase cap.
func (c RewardsConfig) ExceedsLimit(amount float64) bool {
	return c.MaxPurchaseAmount > 0 && amount > c.MaxPurchaseAmount
}

// Describe renders the ledger entry description for a tenant.
func (c RewardsConfig) Describe(tenantName string) string {
	template := c.DescriptionTemplate
	if strings.TrimSpace(template) == "" {
		template = DefaultRewardsConfig().DescriptionTemplate
	}
	return strings.ReplaceAll(template, tenantPlaceholder, strings.TrimSpace(tenantName))
}

type RewardsConfigHolder struct {
	current atomic.Value // holds RewardsConfig
}

func NewRewardsConfigHolder() (*RewardsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("rewards")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/alicia-libros")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOYALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRewardsConfig()
	v.SetDefault("rewards.pointsPerUnit", defaults.PointsPerUnit)
	v.SetDefault("rewards.maxPurchaseAmount", defaults.MaxPurchaseAmount)
	v.SetDefault("rewards.descriptionTemplate", defaults.DescriptionTemplate)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeRewards(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticRewardsConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRewards(v)
		if err != nil {
			log.Printf("[rewards-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[rewards-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRewardsConfigHolder returns a holder that never reloads.
func NewStaticRewardsConfigHolder(cfg RewardsConfig) *RewardsConfigHolder {
	holder := &RewardsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *RewardsConfigHolder) Get() RewardsConfig {
	if h == nil {
		return DefaultRewardsConfig()
	}
	return h.current.Load().(RewardsConfig)
}

func decodeRewards(v *viper.Viper) (RewardsConfig, error) {
	var wrapper struct {
		Rewards RewardsConfig `mapstructure:"rewards"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return RewardsConfig{}, err
	}
	if err := validateRewardsConfig(wrapper.Rewards); err != nil {
		return RewardsConfig{}, err
	}
	return wrapper.Rewards, nil
}

func validateRewardsConfig(cfg RewardsConfig) error {
	if cfg.PointsPerUnit <= 0 || math.IsNaN(cfg.PointsPerUnit) || math.IsInf(cfg.PointsPerUnit, 0) {
		return errors.New("rewards.pointsPerUnit must be a positive number")
	}
	if cfg.MaxPurchaseAmount < 0 || math.IsNaN(cfg.MaxPurchaseAmount) {
		return errors.New("rewards.maxPurchaseAmount cannot be negative")
	}
	if strings.TrimSpace(cfg.DescriptionTemplate) == "" {
		return errors.New("rewards.descriptionTemplate cannot be empty")
	}
	return nil
}
