package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type (
	Config struct {
		PlatformToken string `env:"TOKEN,required"`
		GuildID       string `env:"GUILD_ID,required"`
		LogLevel      int    `env:"LOG_LEVEL,default=2"`
		DotPath       string `env:"DOT_PATH,default=~/.warden"`
		DBName        string `env:"DB_NAME,default=warden.db"`
		MetricsAddr   string `env:"METRICS_ADDR,default=:2112"`

		Roles      Roles
		RateLimits RateLimits
		AntiNuke   AntiNuke
	}

	Roles struct {
		QuarantineRoleID string   `env:"QUARANTINE_ROLE_ID,required"`
		BaseRoleID       string   `env:"BASE_ROLE_ID"`
		ModeratorRoleIDs []string `env:"MODERATOR_ROLE_IDS"`
		DirectorRoleIDs  []string `env:"DIRECTOR_ROLE_IDS"`
		ExemptRoleIDs    []string `env:"EXEMPT_ROLE_IDS"`
		OwnerID          string   `env:"OWNER_ID"`
	}

	RateLimits struct {
		SevereHourly int `env:"SEVERE_HOURLY_LIMIT,default=4"`
		SevereDaily  int `env:"SEVERE_DAILY_LIMIT,default=8"`
		BanHourly    int `env:"BAN_HOURLY_LIMIT,default=2"`
		BanDaily     int `env:"BAN_DAILY_LIMIT,default=4"`
		KickHourly   int `env:"KICK_HOURLY_LIMIT,default=3"`
		KickDaily    int `env:"KICK_DAILY_LIMIT,default=6"`
	}

	AntiNuke struct {
		Enabled      bool   `env:"ANTINUKE_ENABLED,default=true"`
		LogChannelID string `env:"ANTINUKE_LOG_CHANNEL_ID"`
		LimitsFile   string `env:"ANTINUKE_LIMITS_FILE"`
	}

	// ActionLimit is one hourly/daily pair for a structural action type,
	// loadable from the optional YAML limits file.
	ActionLimit struct {
		Hourly int `yaml:"hourly"`
		Daily  int `yaml:"daily"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("WARDEN_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		expanded, err := homedir.Expand(cfg.DotPath)
		if err != nil {
			globalErr = fmt.Errorf("expand dot path: %w", err)
			return
		}
		cfg.DotPath = expanded
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// LoadActionLimits reads per-action-type limit overrides from the YAML file
// configured for anti-nuke. An empty path yields an empty map, letting the
// compiled-in defaults stand.
func LoadActionLimits(path string) (map[string]ActionLimit, error) {
	if path == "" {
		return map[string]ActionLimit{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file: %w", err)
	}
	limits := map[string]ActionLimit{}
	if err := yaml.Unmarshal(raw, &limits); err != nil {
		return nil, fmt.Errorf("parse limits file: %w", err)
	}
	return limits, nil
}
