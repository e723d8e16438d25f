// Package config is the ambient configuration layer (§10): a single
// .context-pilot/config.yaml loaded through viper, with a CP_-prefixed
// environment overlay, unmarshaled into the nested mapstructure tree
// every other package is handed pieces of at startup. Structured the
// way internal/infrastructure/config/config.go nests AgentConfig,
// RuntimeConfig, SecurityConfig — renamed here to PilotConfig,
// LoopConfig, ToolPolicyConfig to match this module's own vocabulary.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/contextpilot/pilot/internal/ctxassembler"
	"github.com/contextpilot/pilot/internal/infrastructure/llm"
	"github.com/contextpilot/pilot/internal/loop"
)

// PilotConfig is the full process-start configuration tree, loaded
// once in cmd/pilot/main.go and threaded down by constructor
// injection. It never holds session state (§3) — only the constants
// §4's algorithms treat as given.
type PilotConfig struct {
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Loop      LoopConfig      `mapstructure:"loop"`
	ToolPolicy ToolPolicyConfig `mapstructure:"tool_policy"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Callbacks []CallbackConfig `mapstructure:"callbacks"`
	Workspace string          `mapstructure:"workspace"`
}

// LogConfig configures the zap core cmd/pilot/main.go builds.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// AgentConfig is the model/provider side of configuration: which
// model talks to the LLM layer, its fallback chain, and the Go-native
// provider definitions internal/infrastructure/llm.Router dispatches
// across.
type AgentConfig struct {
	DefaultModel    string                   `mapstructure:"default_model"`
	DefaultProvider string                   `mapstructure:"default_provider"`
	FallbackModels  []string                 `mapstructure:"fallback_models"`
	Providers       []llm.ProviderConfig     `mapstructure:"providers"`
	ModelPolicies   map[string]ModelPolicy   `mapstructure:"model_policies"`
}

// ModelPolicy holds per-model-family overrides, matched by substring
// against the model id (e.g. "claude", "qwen3") the way
// resolveModelPolicy in the teacher's model_policy.go does. Pointer
// fields mean nil = "use the auto-detected default".
type ModelPolicy struct {
	RepairToolPairing   *bool   `mapstructure:"repair_tool_pairing"`
	EnforceTurnOrdering *bool   `mapstructure:"enforce_turn_ordering"`
	ReasoningFormat     *string `mapstructure:"reasoning_format"`
	SystemRoleSupport   *bool   `mapstructure:"system_role_support"`
}

// LoopConfig configures the event loop's own constants: tool
// execution timeout/retries and the background worker limits referred
// to throughout §4 as MAX_API_RETRIES and friends.
type LoopConfig struct {
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`
	MaxAPIRetries   int           `mapstructure:"max_api_retries"`
	RetryBaseWait   time.Duration `mapstructure:"retry_base_wait"`
	ConcurrentTools bool          `mapstructure:"concurrent_tools"`
}

// ToolPolicyConfig becomes a tool.Policy at startup.
type ToolPolicyConfig struct {
	Profile   string   `mapstructure:"profile"`
	AllowList []string `mapstructure:"allow_list"`
	DenyList  []string `mapstructure:"deny_list"`
	AskMode   bool      `mapstructure:"ask_mode"`
}

// PricingConfig becomes a ctxassembler.PricingTable at startup.
type PricingConfig struct {
	HitPricePerMillion  float64 `mapstructure:"hit_price_per_million"`
	MissPricePerMillion float64 `mapstructure:"miss_price_per_million"`
}

// ToTable converts the loaded pricing section into the PricingTable
// ctxassembler.Assemble consumes.
func (p PricingConfig) ToTable() ctxassembler.PricingTable {
	return ctxassembler.PricingTable{HitPricePerMillion: p.HitPricePerMillion, MissPricePerMillion: p.MissPricePerMillion}
}

// MemoryConfig configures C8's durable store and vector index.
type MemoryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OllamaURL  string `mapstructure:"ollama_url"`
	EmbedModel string `mapstructure:"embed_model"`
	StorePath  string `mapstructure:"store_path"`
	DBDriver   string `mapstructure:"db_driver"` // sqlite | postgres
	DBDSN      string `mapstructure:"db_dsn"`
	TopK       int    `mapstructure:"top_k"`
}

// CallbackConfig is one edit-triggered script rule (§4.6 step 4);
// ToLoopRule adapts it into the shape internal/loop actually consumes.
type CallbackConfig struct {
	Pattern  string `mapstructure:"pattern"`
	Script   string `mapstructure:"script"`
	Blocking bool   `mapstructure:"blocking"`
}

func (c CallbackConfig) ToLoopRule() loop.CallbackRule {
	return loop.CallbackRule{Pattern: c.Pattern, Script: c.Script, Blocking: c.Blocking}
}

// CallbackRules adapts the whole configured list.
func (cfg PilotConfig) CallbackRules() []loop.CallbackRule {
	rules := make([]loop.CallbackRule, 0, len(cfg.Callbacks))
	for _, c := range cfg.Callbacks {
		rules = append(rules, c.ToLoopRule())
	}
	return rules
}

// Load reads .context-pilot/config.yaml rooted at workdir, applying
// defaults first and a CP_-prefixed environment overlay last, mirroring
// the teacher's NGOCLAW_-prefixed viper setup in
// internal/infrastructure/config/config.go's Load.
func Load(workdir string) (*PilotConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(workdir, ".context-pilot"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg PilotConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Workspace == "" {
		cfg.Workspace = workdir
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "error.log")

	v.SetDefault("agent.default_model", "claude-sonnet-4-5")
	v.SetDefault("agent.default_provider", "anthropic")

	v.SetDefault("loop.tool_timeout", "30s")
	v.SetDefault("loop.max_api_retries", 4)
	v.SetDefault("loop.retry_base_wait", "2s")
	v.SetDefault("loop.concurrent_tools", true)

	v.SetDefault("tool_policy.profile", "default")
	v.SetDefault("tool_policy.ask_mode", false)

	v.SetDefault("pricing.hit_price_per_million", 0.3)
	v.SetDefault("pricing.miss_price_per_million", 3.0)

	v.SetDefault("memory.enabled", false)
	v.SetDefault("memory.ollama_url", "http://localhost:11434")
	v.SetDefault("memory.embed_model", "qwen3-embedding")
	v.SetDefault("memory.store_path", ".context-pilot/memory")
	v.SetDefault("memory.db_driver", "sqlite")
	v.SetDefault("memory.db_dsn", ".context-pilot/memory.db")
	v.SetDefault("memory.top_k", 5)
}

// DebugEnabled reports whether PILOT_DEBUG=1. It is kept here (rather
// than read directly in cmd/pilot) so debug-mode detection has one home.
func DebugEnabled() bool {
	return os.Getenv("PILOT_DEBUG") == "1"
}
