package main

import (
	"fmt"
	"os"
	"time"

	offlinecache "github.com/offline-cache/offline-cache"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port    int    `yaml:"port"`
	Origin  string `yaml:"origin"`
	Db      string `yaml:"db"`
	QueueDb string `yaml:"queueDb"`
	// OfflineUrl is served to navigations when both network and cache miss.
	// It must also appear in the precache manifest.
	OfflineUrl string `yaml:"offlineUrl"`
	// Precache lists the bootstrap resources, relative to the origin.
	Precache            []string      `yaml:"precache"`
	MaintenanceInterval time.Duration `yaml:"maintenanceInterval"`
	Rules               []ConfigRule  `yaml:"rules"`
}

type ConfigRule struct {
	Name string `yaml:"name"`
	// Exactly one matcher should be set per rule.
	Extensions []string      `yaml:"extensions"`
	Prefix     string        `yaml:"prefix"`
	Navigation bool          `yaml:"navigation"`
	Strategy   string        `yaml:"strategy"`
	Partition  string        `yaml:"partition"`
	MaxAge     time.Duration `yaml:"maxAge"`
	MaxEntries int           `yaml:"maxEntries"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// rules compiles the configured rules, falling back to the built-in rule
// set when none are configured.
func (c Config) rules() (offlinecache.Rules, error) {
	if len(c.Rules) == 0 {
		return offlinecache.DefaultRules(), nil
	}
	rules := make(offlinecache.Rules, 0, len(c.Rules))
	for _, cr := range c.Rules {
		rule := offlinecache.Rule{
			Name:       cr.Name,
			Strategy:   offlinecache.Strategy(cr.Strategy),
			Partition:  cr.Partition,
			MaxAge:     cr.MaxAge,
			MaxEntries: cr.MaxEntries,
		}
		switch {
		case len(cr.Extensions) > 0:
			rule.Match = offlinecache.MatchExtensions(cr.Extensions...)
		case cr.Prefix != "":
			rule.Match = offlinecache.MatchPathPrefix(cr.Prefix)
		case cr.Navigation:
			rule.Match = offlinecache.MatchNavigation()
		default:
			return nil, fmt.Errorf("rule %q has no matcher", cr.Name)
		}
		switch rule.Strategy {
		case offlinecache.StrategyCacheFirst,
			offlinecache.StrategyNetworkFirst,
			offlinecache.StrategyStaleWhileRevalidate,
			offlinecache.StrategyNetworkOnly,
			offlinecache.StrategyCacheOnly:
		default:
			return nil, fmt.Errorf("rule %q has unknown strategy %q", cr.Name, cr.Strategy)
		}
		if rule.Partition == "" {
			return nil, fmt.Errorf("rule %q has no partition", cr.Name)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
