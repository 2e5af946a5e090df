package config

import (
	"fmt"
	"os"
	"time"

	"live-quiz-service/internal/domain"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`
	Log struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"log"`
	Auth struct {
		Secret string `yaml:"secret"`
		TTL    string `yaml:"ttl"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL      string `yaml:"ttl"`
		SeedFile string `yaml:"seed_file"`
	} `yaml:"quiz"`
	Game struct {
		ChoiceRevealDelay    string `yaml:"choice_reveal_delay"`
		AnswerWindow         string `yaml:"answer_window"`
		ReadAloudDelay       string `yaml:"read_aloud_delay"`
		QuestionRetries      *int   `yaml:"question_retries"`
		QuestionRetryBackoff string `yaml:"question_retry_backoff"`
		ReactionWindow       string `yaml:"reaction_window"`
		RevealOnTimeout      *bool  `yaml:"reveal_on_timeout"`
	} `yaml:"game"`
}

// Load reads YAML config from path. AUTH_SECRET in the environment
// overrides auth.secret.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr dereferences v, or returns fallback when it is unset.
func IntOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// BoolOr dereferences v, or returns fallback when it is unset.
func BoolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// LoadQuizSet reads a quiz set from a YAML file. Questions are ordered as
// they appear in the file.
func LoadQuizSet(path string) (domain.QuizSet, error) {
	var qs domain.QuizSet
	data, err := os.ReadFile(path)
	if err != nil {
		return qs, err
	}
	if err := yaml.Unmarshal(data, &qs); err != nil {
		return qs, fmt.Errorf("parse quiz set %s: %w", path, err)
	}
	for i := range qs.Questions {
		qs.Questions[i].Order = i
	}
	if err := qs.Validate(); err != nil {
		return qs, fmt.Errorf("quiz set %s: %w", path, err)
	}
	return qs, nil
}
