package config

import "time"

// Config is the root configuration for Fintellix.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Providers ProvidersConfig `json:"providers"`
	Events    EventsConfig    `json:"events"`
	Tools     ToolsConfig     `json:"tools"`
	Refresh   RefreshConfig   `json:"refresh"`
}

// GatewayConfig holds the HTTP control surface settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SchedulerConfig sizes the background worker pool.
type SchedulerConfig struct {
	Workers int `json:"workers"`
}

// StorageConfig selects the conversation storage backend.
type StorageConfig struct {
	Driver string `json:"driver"` // "file" | "sqlite"
	Dir    string `json:"dir"`    // default: $FINTELLIX_PATH/data
}

// ProvidersConfig configures each reasoning backend.
type ProvidersConfig struct {
	LMStudio ProviderConfig `json:"lm_studio"`
	Ollama   ProviderConfig `json:"ollama"`
	OpenAI   ProviderConfig `json:"openai"`
}

// ProviderConfig configures a single reasoning backend.
type ProviderConfig struct {
	BaseURL      string   `json:"base_url,omitempty"`
	APIKey       string   `json:"api_key,omitempty"` // direct key or ${{ .Env.VAR }} template
	DefaultModel string   `json:"default_model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// ToolsConfig configures the auxiliary tools handed to the agent.
type ToolsConfig struct {
	WebSearch WebSearchConfig `json:"web_search"`
}

// Search engines backing the web_search tool.
const (
	EngineDuckDuckGo = "duckduckgo"
	EngineBing       = "bing"
	EngineGoogle     = "google"
)

// WebSearchConfig configures the web_search tool.
type WebSearchConfig struct {
	Enabled    *bool    `json:"enabled,omitempty"`
	Engine     string   `json:"engine,omitempty"` // duckduckgo (default) | bing | google
	MaxResults int      `json:"max_results,omitempty"`
	Timeout    Duration `json:"timeout,omitempty"`

	BingAPIKey   string `json:"bing_api_key,omitempty"`   // or BING_API_KEY
	GoogleAPIKey string `json:"google_api_key,omitempty"` // or GOOGLE_API_KEY
	GoogleCX     string `json:"google_cx,omitempty"`      // or GOOGLE_CX
}

// IsEnabled reports whether web search is on. Unset means on.
func (c WebSearchConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RefreshConfig configures the supplementary price series refresh.
type RefreshConfig struct {
	Cron      string `json:"cron,omitempty"`       // 5-field cron, empty = manual only
	SourceURL string `json:"source_url,omitempty"` // {symbol} and {limit} are substituted
	Limit     int    `json:"limit,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
