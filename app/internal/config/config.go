package config

import (
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	IsDev   bool `env:"IS_DEV" env-default:"false"`
	IsDebug bool `env:"IS_DEBUG" env-default:"false"`

	OpenAI struct {
		APIKey          string `env:"OPENAI_API_KEY" env-required:"true" env-description:"API key for the completion provider"`
		BaseURL         string `env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
		ChatModel       string `env:"OPENAI_CHAT_MODEL" env-default:"gpt-4o-mini"`
		RateLimitPerMin int    `env:"RATE_LIMIT_PER_MIN" env-default:"60"`
	}
	Chat struct {
		GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" env-default:"2m"`
		TitleTimeout      time.Duration `env:"TITLE_TIMEOUT" env-default:"30s"`
		TitleMaxAttempts  int           `env:"TITLE_MAX_ATTEMPTS" env-default:"2"`
		StreamBuffer      int           `env:"STREAM_BUFFER" env-default:"16"`
	}
	HTTP struct {
		Port int `env:"PORT" env-default:"8080"`
	}
	Auth struct {
		JWTSecret string `env:"JWT_SECRET" env-required:"true" env-description:"HS256 secret used to verify bearer tokens"`
	}
	Repository struct {
		Type        string `env:"REPOSITORY_TYPE" env-default:"memory" env-description:"memory, sqlite or postgres"`
		SQLiteDSN   string `env:"SQLITE_DSN" env-default:"workbench.db"`
		PostgresDSN string `env:"POSTGRES_DSN"`
	}
	Pricing struct {
		Encoding   string `env:"TOKENIZER_ENCODING" env-default:"o200k_base"`
		ModelsFile string `env:"MODELS_FILE" env-description:"TOML pricing catalog; built-in catalog when empty"`
	}
}

// Singleton: Config should only ever be created once.
var instance *Config

var once sync.Once

// GetConfig returns pointer to Config.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func GetConfig() *Config {
	once.Do(func() {
		log.Print("collecting config...")

		if err := godotenv.Load(); err == nil {
			log.Print("loaded .env file")
		}

		instance = &Config{}

		if err := cleanenv.ReadEnv(instance); err != nil {
			helpText := "Environment variables error:"
			help, err := cleanenv.GetDescription(instance, &helpText)
			if err != nil {
				log.Fatal(err)
			}
			log.Print(help)

			log.Fatal(err)
		}
	})
	return instance
}
