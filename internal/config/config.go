// Package config loads application configuration via viper and the source
// list from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"newsbrief/internal/core"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	Fetch     Fetch     `mapstructure:"fetch"`
	Extract   Extract   `mapstructure:"extract"`
	Cluster   Cluster   `mapstructure:"cluster"`
	Rank      Rank      `mapstructure:"rank"`
	Summarize Summarize `mapstructure:"summarize"`
	AI        AI        `mapstructure:"ai"`
	Output    Output    `mapstructure:"output"`
}

// App holds general application configuration.
type App struct {
	DataDir     string `mapstructure:"data_dir"`
	SourcesFile string `mapstructure:"sources_file"`
	LogLevel    string `mapstructure:"log_level"`
	LogConsole  bool   `mapstructure:"log_console"`
}

// Fetch holds HTTP client configuration.
type Fetch struct {
	UserAgent      string  `mapstructure:"user_agent"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	TimeoutSec     int     `mapstructure:"timeout_sec"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
}

// Extract holds article extraction configuration.
type Extract struct {
	Parallel int `mapstructure:"parallel"`
	Limit    int `mapstructure:"limit"`
}

// Cluster holds near-duplicate clustering configuration.
type Cluster struct {
	JaccardThreshold float64 `mapstructure:"jaccard_threshold"`
	ShingleSize      int     `mapstructure:"shingle_size"`
	NumHashes        int     `mapstructure:"num_hashes"`
	Bands            int     `mapstructure:"bands"`
}

// Rank holds scoring configuration.
type Rank struct {
	HalfLifeHours float64 `mapstructure:"half_life_hours"`
}

// Summarize holds summarization configuration.
type Summarize struct {
	Strategy string `mapstructure:"strategy"` // "heuristic" or "llm"
}

// AI holds LLM provider configuration.
type AI struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Temperature    float32 `mapstructure:"temperature"`
	TopP           float32 `mapstructure:"top_p"`
	Offline        bool    `mapstructure:"offline"`
}

// Output holds publisher configuration.
type Output struct {
	Directory string `mapstructure:"directory"`
}

func setDefaults() {
	viper.SetDefault("app.data_dir", ".newsbrief")
	viper.SetDefault("app.sources_file", "config/sources.yml")
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.log_console", false)

	viper.SetDefault("fetch.user_agent", "newsbrief/1.0 (+https://github.com/newsbrief)")
	viper.SetDefault("fetch.requests_per_sec", 2.0)
	viper.SetDefault("fetch.timeout_sec", 20)
	viper.SetDefault("fetch.max_attempts", 3)

	viper.SetDefault("extract.parallel", 4)
	viper.SetDefault("extract.limit", 0)

	viper.SetDefault("cluster.jaccard_threshold", 0.85)
	viper.SetDefault("cluster.shingle_size", 5)
	viper.SetDefault("cluster.num_hashes", 128)
	viper.SetDefault("cluster.bands", 32)

	viper.SetDefault("rank.half_life_hours", 24.0)

	viper.SetDefault("summarize.strategy", "heuristic")

	viper.SetDefault("ai.model", "gemini-1.5-flash")
	viper.SetDefault("ai.embedding_model", "text-embedding-004")
	viper.SetDefault("ai.temperature", 0.2)
	viper.SetDefault("ai.top_p", 0.9)
	viper.SetDefault("ai.offline", false)

	viper.SetDefault("output.directory", "runs")
}

// Load reads configuration from the optional config file, environment
// variables (NEWSBRIEF_ prefix), and defaults, in that order of precedence.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	setDefaults()

	viper.SetEnvPrefix("NEWSBRIEF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		viper.SetConfigName("newsbrief")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	// Gemini key commonly lives in an unprefixed env var.
	if viper.GetString("ai.api_key") == "" {
		viper.Set("ai.api_key", os.Getenv("GEMINI_API_KEY"))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

type sourcesFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

type sourceEntry struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Weight *float64 `yaml:"weight"`
}

// LoadSources reads the configured source list. Sources without a weight
// default to 1.
func LoadSources(path string) ([]core.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sources file %s: %w", path, err)
	}
	defer f.Close()

	var sf sourcesFile
	if err := yaml.NewDecoder(f).Decode(&sf); err != nil {
		return nil, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}
	if len(sf.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no sources", path)
	}

	out := make([]core.Source, 0, len(sf.Sources))
	for _, s := range sf.Sources {
		if s.ID == "" || s.URL == "" {
			return nil, fmt.Errorf("sources file %s: every source needs an id and a url", path)
		}
		w := 1.0
		if s.Weight != nil {
			w = *s.Weight
		}
		out = append(out, core.Source{ID: s.ID, FeedURL: s.URL, Weight: w})
	}
	return out, nil
}

// SourceWeights returns the id -> weight map used by the ranking engine.
func SourceWeights(sources []core.Source) map[string]float64 {
	weights := make(map[string]float64, len(sources))
	for _, s := range sources {
		weights[s.ID] = s.Weight
	}
	return weights
}
