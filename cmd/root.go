package cmd

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/job-agents/internal/filtering"
	"github.com/spigell/job-agents/internal/jobboard"
	"github.com/spigell/job-agents/internal/logger"
	"go.uber.org/zap"
)

const (
	app = "job-agents"

	defaultUserID    = "local"
	defaultStorePath = "job-agents.db"
	defaultAddr      = "127.0.0.1:8080"
)

type Config struct {
	UserID   string            `mapstructure:"user-id"`
	Store    *StoreConfig      `mapstructure:"store"`
	AI       *AIConfig         `mapstructure:"ai"`
	Intent   *IntentConfig     `mapstructure:"intent"`
	Filters  *filtering.Config `mapstructure:"filters"`
	JobBoard *JobBoardConfig   `mapstructure:"job-board"`
	Serve    *ServeConfig      `mapstructure:"serve"`
}

type StoreConfig struct {
	// Driver is sqlite or memory.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	MaxSteps int           `mapstructure:"max-steps"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
	OpenAI   *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
	Thinking     bool   `mapstructure:"thinking"`
}

type OpenAIConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	BaseURL    string `mapstructure:"base-url"`
	Model      string `mapstructure:"model"`
}

type IntentConfig struct {
	ExtraKeywords []string `mapstructure:"extra-keywords"`
}

type JobBoardConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	TokenFile string `mapstructure:"token-file"`
	UserAgent string `mapstructure:"user-agent"`

	jobboard.SearchParams `mapstructure:",squash"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-agents is a chat cli where a discovery agent finds and saves jobs and a matching agent scores them",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envBindings := map[string]string{
		"ai.gemini.api-key-file": "JOB_AGENTS_GEMINI_API_KEY_FILE",
		"ai.openai.api-key-file": "JOB_AGENTS_OPENAI_API_KEY_FILE",
		"user-id":                "JOB_AGENTS_USER_ID",
		"job-board.token-file":   "JOB_AGENTS_JOB_BOARD_TOKEN_FILE",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	viper.SetDefault("user-id", defaultUserID)
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.path", defaultStorePath)
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("serve.addr", defaultAddr)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-agents.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// A missing .env is fine; secrets may come from the config or the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Only an explicit --config must exist.
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}
	if config == nil {
		config = &Config{}
	}

	return config, nil
}

func newLogger() *zap.Logger {
	l, err := logger.New(logger.Options{
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		Service: app,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}
