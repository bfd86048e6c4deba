package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Registry backend selectors.
const (
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	// Registry.
	RegistryBackend    string
	SupabaseURL        string
	SupabaseServiceKey string
	SQLiteDSN          string

	// Tier backends.
	OllamaBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	AnthropicAPIKey   string

	// Observability.
	OTelEnabled  bool
	OTelEndpoint string
	CORSOrigins  []string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: ":" + getEnv("ROUTER_PORT", "8100"),
		LogLevel:   getEnv("LOG_LEVEL", "INFO"),

		RegistryBackend:    getEnv("REGISTRY_BACKEND", BackendSupabase),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SQLiteDSN:          getEnv("REGISTRY_SQLITE_DSN", "file:router.sqlite"),

		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://host.docker.internal:11434"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),

		OTelEnabled:  getEnvBool("ROUTER_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("ROUTER_OTEL_ENDPOINT", "localhost:4318"),
		CORSOrigins:  getEnvStringSlice("ROUTER_CORS_ORIGINS", nil),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	port, err := strconv.Atoi(strings.TrimPrefix(c.ListenAddr, ":"))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("ROUTER_PORT must be a port number, got %q", strings.TrimPrefix(c.ListenAddr, ":"))
	}
	switch c.RegistryBackend {
	case BackendSupabase, BackendSQLite:
	default:
		return fmt.Errorf("REGISTRY_BACKEND must be %q or %q, got %q", BackendSupabase, BackendSQLite, c.RegistryBackend)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
