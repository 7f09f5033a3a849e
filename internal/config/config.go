package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	Name               string = "mdfence-ls"
	Version            string = "0.1.0"
	ConfigFileName     string = ".mdfence-ls.json"
	TomlConfigFileName string = ".mdfence-ls.toml"

	ConfigItemFormatOnSave       string = "formatOnSave"
	ConfigItemFormatInterval     string = "formatInterval"
	ConfigItemSupportedLanguages string = "supportedLanguages"
	ConfigItemSQLDialect         string = "sqlDialect"
	ConfigItemFormatters         string = "formatters"
	ConfigItemCacheTTL           string = "cacheTTL"

	DefaultFormatInterval = 30
	MinFormatInterval     = 5
	MaxFormatInterval     = 60
	DefaultSQLDialect     = "sql"
	DefaultCacheTTL       = 600
)

// SQLDialects lists the dialect identifiers accepted by sqlDialect.
var SQLDialects = []string{
	"sql",
	"bigquery",
	"db2",
	"db2i",
	"hive",
	"mariadb",
	"mysql",
	"tidb",
	"n1ql",
	"plsql",
	"postgresql",
	"redshift",
	"singlestoredb",
	"snowflake",
	"spark",
	"sqlite",
	"transactsql",
	"trino",
}

// ErrConfigNotFound is returned by LoadConfig when the project has no settings file.
var ErrConfigNotFound = errors.New("config file not found")

// ConfigError reports a settings key that could not be used. The key keeps its default.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid setting %q: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// FormatterCommand describes how to reach an external pretty-printer.
type FormatterCommand struct {
	Container string   `json:"container"`
	Path      string   `json:"path"`
	Plugins   []string `json:"plugins"`
}

// Settings is the state a formatting pass reads. Passes take a Clone so later
// updates never change a pass that is already running.
type Settings struct {
	FormatOnSave       bool
	FormatInterval     int
	SupportedLanguages []string
	SQLDialect         string
	Formatters         map[string]FormatterCommand
	CacheTTL           int
}

func Defaults() Settings {
	return Settings{
		FormatOnSave:       false,
		FormatInterval:     DefaultFormatInterval,
		SupportedLanguages: []string{"java", "sql", "javascript"},
		SQLDialect:         DefaultSQLDialect,
		Formatters: map[string]FormatterCommand{
			"java":       {Path: "prettier", Plugins: []string{"prettier-plugin-java"}},
			"javascript": {Path: "prettier"},
		},
		CacheTTL: DefaultCacheTTL,
	}
}

func (s Settings) Supports(language string) bool {
	return slices.Contains(s.SupportedLanguages, strings.ToLower(language))
}

func (s Settings) Interval() time.Duration {
	return time.Duration(s.FormatInterval) * time.Second
}

func (s Settings) Clone() Settings {
	clone := s
	clone.SupportedLanguages = slices.Clone(s.SupportedLanguages)
	clone.Formatters = make(map[string]FormatterCommand, len(s.Formatters))
	for lang, cmd := range s.Formatters {
		cmd.Plugins = slices.Clone(cmd.Plugins)
		clone.Formatters[lang] = cmd
	}
	return clone
}

func IsKnownDialect(dialect string) bool {
	return slices.Contains(SQLDialects, dialect)
}

type Config struct {
	RawData  json.RawMessage
	Path     string
	Settings Settings
	// Warnings holds one *ConfigError per key that fell back to its default.
	Warnings    []error
	initialized bool
}

func (config *Config) IsInitialized() bool {
	return config.initialized
}

// LoadConfig reads the settings file from projectRoot, JSON first, then TOML.
// Whatever happens, config.Settings ends up usable: errors leave the defaults.
func (config *Config) LoadConfig(projectRoot string) (*Config, error) {
	config.Settings = Defaults()
	config.Warnings = nil
	config.initialized = true

	for _, name := range []string{ConfigFileName, TomlConfigFileName} {
		configPath := filepath.Join(projectRoot, name)
		if _, err := os.Stat(configPath); err == nil {
			return config.LoadFile(configPath)
		}
	}

	return config, fmt.Errorf("%w in %s", ErrConfigNotFound, projectRoot)
}

// LoadFile reads one settings file. The format follows the file extension.
func (config *Config) LoadFile(configPath string) (*Config, error) {
	config.Settings = Defaults()
	config.Warnings = nil
	config.initialized = true

	rawData, err := os.ReadFile(configPath)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	rawMap, err := decodeRawMap(configPath, rawData)
	if err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.Path = configPath
	config.RawData = rawData
	config.Settings, config.Warnings = Merge(config.Settings, rawMap)

	return config, nil
}

func decodeRawMap(configPath string, rawData []byte) (map[string]json.RawMessage, error) {
	rawMap := make(map[string]json.RawMessage)

	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		var tomlMap map[string]interface{}
		if _, err := toml.Decode(string(rawData), &tomlMap); err != nil {
			return nil, err
		}
		for key, value := range tomlMap {
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			rawMap[key] = encoded
		}
		return rawMap, nil
	}

	if err := json.Unmarshal(rawData, &rawMap); err != nil {
		return nil, err
	}
	return rawMap, nil
}

// ParseSettings merges a JSON settings object over base.
func ParseSettings(base Settings, data []byte) (Settings, []error) {
	if len(data) == 0 || string(data) == "null" {
		return base.Clone(), nil
	}

	rawMap := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return base.Clone(), []error{&ConfigError{Key: "", Err: err}}
	}

	return Merge(base, rawMap)
}

// Merge applies known keys of rawMap over base. Unknown keys are ignored, a
// key that cannot be decoded keeps the base value and is reported.
func Merge(base Settings, rawMap map[string]json.RawMessage) (Settings, []error) {
	settings := base.Clone()
	var warnings []error

	warn := func(key string, err error) {
		warnings = append(warnings, &ConfigError{Key: key, Err: err})
	}

	if raw, ok := rawMap[ConfigItemFormatOnSave]; ok {
		var value bool
		if err := json.Unmarshal(raw, &value); err != nil {
			warn(ConfigItemFormatOnSave, err)
		} else {
			settings.FormatOnSave = value
		}
	}

	if raw, ok := rawMap[ConfigItemFormatInterval]; ok {
		if value, err := parseInterval(raw); err != nil {
			warn(ConfigItemFormatInterval, err)
		} else {
			settings.FormatInterval = value
		}
	}

	if raw, ok := rawMap[ConfigItemSupportedLanguages]; ok {
		if value, err := parseLanguages(raw); err != nil {
			warn(ConfigItemSupportedLanguages, err)
		} else {
			settings.SupportedLanguages = value
		}
	}

	if raw, ok := rawMap[ConfigItemSQLDialect]; ok {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			warn(ConfigItemSQLDialect, err)
		} else if value = strings.ToLower(strings.TrimSpace(value)); !IsKnownDialect(value) {
			warn(ConfigItemSQLDialect, fmt.Errorf("unknown SQL dialect %q", value))
		} else {
			settings.SQLDialect = value
		}
	}

	if raw, ok := rawMap[ConfigItemFormatters]; ok {
		var value map[string]FormatterCommand
		if err := json.Unmarshal(raw, &value); err != nil {
			warn(ConfigItemFormatters, err)
		} else {
			for lang, cmd := range value {
				lang = strings.ToLower(lang)
				if cmd.Path == "" {
					cmd.Path = settings.Formatters[lang].Path
				}
				if cmd.Plugins == nil {
					cmd.Plugins = slices.Clone(settings.Formatters[lang].Plugins)
				}
				settings.Formatters[lang] = cmd
			}
		}
	}

	if raw, ok := rawMap[ConfigItemCacheTTL]; ok {
		var value int
		if err := json.Unmarshal(raw, &value); err != nil {
			warn(ConfigItemCacheTTL, err)
		} else if value < 0 {
			warn(ConfigItemCacheTTL, fmt.Errorf("negative TTL %d", value))
		} else {
			settings.CacheTTL = value
		}
	}

	return settings, warnings
}

func parseInterval(raw json.RawMessage) (int, error) {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, err
	}
	if value <= 0 || math.IsNaN(value) {
		return 0, fmt.Errorf("interval must be positive, got %v", value)
	}

	value = math.Min(math.Max(value, MinFormatInterval), MaxFormatInterval)
	return int(math.Round(value)), nil
}

// parseLanguages accepts a JSON array or a comma separated string ("java,sql").
func parseLanguages(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if errString := json.Unmarshal(raw, &joined); errString != nil {
			return nil, err
		}
		list = strings.Split(joined, ",")
	}

	languages := make([]string, 0, len(list))
	for _, lang := range list {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" || slices.Contains(languages, lang) {
			continue
		}
		languages = append(languages, lang)
	}

	return languages, nil
}
