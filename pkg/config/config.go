// Package config loads the runtime's environment-variable surface
// (spec §6), optionally from a ".env" file via godotenv, and builds the
// provider.Router, policy.Engine, and cost table every entrypoint needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/provider"
	"github.com/northfield-labs/agentloop/pkg/provider/anthropic"
	"github.com/northfield-labs/agentloop/pkg/provider/grok"
)

// MissingEnvError reports that a required environment variable is
// absent.
type MissingEnvError struct {
	Var string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("config: missing required environment variable %s", e.Var)
}

// Telegram holds the chat-bot surface's configuration, all optional:
// when BotToken is empty the chat-bot surface should not be started.
type Telegram struct {
	BotToken            string
	AllowedChatIDs      map[int64]bool
	AdminChatIDs        map[int64]bool
	RateLimitSeconds     int
	ApprovalTTLSeconds   int
	ShowUsage           bool
}

// CostRate is the USD-per-million-token rate for one provider,
// reported for telemetry only (spec §9 — not a core invariant).
type CostRate struct {
	InPerMillion  float64
	OutPerMillion float64
}

// Config is the fully-resolved runtime configuration shared by both
// entrypoints.
type Config struct {
	Router *provider.Router
	Policy *policy.Engine

	DataDir string
	LogPath string

	Telegram Telegram

	CostRates map[string]CostRate
}

// Load reads a ".env" file if present (never an error when absent),
// then resolves every environment variable named in spec §6. root is
// the sandbox root passed to the policy engine.
func Load(root string) (*Config, error) {
	_ = godotenv.Load()

	grokKey, ok := os.LookupEnv("GROK_API_KEY")
	if !ok || grokKey == "" {
		return nil, &MissingEnvError{Var: "GROK_API_KEY"}
	}

	router := provider.NewRouter()

	grokModel := getenvDefault("GROK_MODEL", "grok-4")
	grokClient, err := grok.New(grok.Config{
		APIKey:  grokKey,
		BaseURL: os.Getenv("GROK_BASE_URL"),
	})
	if err != nil {
		return nil, err
	}
	router.Register("grok", grokClient, grokModel)

	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		anthropicModel := getenvDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5")
		anthropicClient, err := anthropic.New(anthropic.Config{APIKey: anthropicKey})
		if err != nil {
			return nil, err
		}
		router.Register("anthropic", anthropicClient, anthropicModel)
	}

	return &Config{
		Router:    router,
		Policy:    policy.New(root, nil),
		DataDir:   "data",
		LogPath:   "logs/app.log",
		Telegram:  loadTelegram(),
		CostRates: loadCostRates(),
	}, nil
}

func loadTelegram() Telegram {
	return Telegram{
		BotToken:           os.Getenv("TELEGRAM_BOT_TOKEN"),
		AllowedChatIDs:     parseChatIDSet(os.Getenv("TELEGRAM_ALLOWED_CHAT_IDS")),
		AdminChatIDs:       parseChatIDSet(os.Getenv("TELEGRAM_ADMIN_CHAT_IDS")),
		RateLimitSeconds:   getenvInt("TELEGRAM_RATE_LIMIT_SECONDS", 5),
		ApprovalTTLSeconds: getenvInt("TELEGRAM_APPROVAL_TTL_SECONDS", 600),
		ShowUsage:          getenvBool("TELEGRAM_SHOW_USAGE", false),
	}
}

// loadCostRates reads every COST_<PROVIDER>_USD_PER_1M_IN/OUT pair
// present in the environment.
func loadCostRates() map[string]CostRate {
	rates := map[string]CostRate{}

	for _, env := range os.Environ() {
		key, value, found := strings.Cut(env, "=")
		if !found {
			continue
		}

		providerName, direction, ok := parseCostKey(key)
		if !ok {
			continue
		}

		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}

		entry := rates[providerName]
		switch direction {
		case "IN":
			entry.InPerMillion = rate
		case "OUT":
			entry.OutPerMillion = rate
		}
		rates[providerName] = entry
	}

	return rates
}

// parseCostKey matches COST_<PROVIDER>_USD_PER_1M_IN or
// COST_<PROVIDER>_USD_PER_1M_OUT, returning the lowercased provider
// name and "IN"/"OUT".
func parseCostKey(key string) (providerName, direction string, ok bool) {
	const prefix = "COST_"
	const inSuffix = "_USD_PER_1M_IN"
	const outSuffix = "_USD_PER_1M_OUT"

	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, prefix)

	switch {
	case strings.HasSuffix(rest, inSuffix):
		return strings.ToLower(strings.TrimSuffix(rest, inSuffix)), "IN", true
	case strings.HasSuffix(rest, outSuffix):
		return strings.ToLower(strings.TrimSuffix(rest, outSuffix)), "OUT", true
	default:
		return "", "", false
	}
}

func parseChatIDSet(raw string) map[int64]bool {
	if raw == "" {
		return nil
	}

	set := map[int64]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		set[id] = true
	}
	return set
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
