package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/tools"
)

type (
	// Config is the demo configuration file.
	Config struct {
		Agent AgentConfig  `yaml:"agent"`
		Tools []ToolConfig `yaml:"tools"`
	}

	// AgentConfig scripts the demo agent.
	AgentConfig struct {
		// Greeting is streamed word by word when a run starts.
		Greeting string `yaml:"greeting"`
		// ToolCalls are requested after the greeting.
		ToolCalls []ToolCallConfig `yaml:"toolCalls"`
		// Approval, when set, pauses the run for a human decision once the
		// tool results are in.
		Approval *ApprovalConfig `yaml:"approval"`
		// Closing is streamed when the run completes.
		Closing string `yaml:"closing"`
		// Delay is the pause between streamed words.
		Delay time.Duration `yaml:"delay"`
	}

	// ToolCallConfig is one scripted tool call.
	ToolCallConfig struct {
		Name      string         `yaml:"name"`
		Arguments map[string]any `yaml:"arguments"`
	}

	// ApprovalConfig describes the human approval interrupt.
	ApprovalConfig struct {
		Title   string `yaml:"title"`
		Message string `yaml:"message"`
	}

	// ToolConfig declares a frontend tool and its canned result.
	ToolConfig struct {
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Parameters  map[string]any `yaml:"parameters"`
		Scope       string         `yaml:"scope"`
		Destructive bool           `yaml:"destructive"`
		RequireOK   bool           `yaml:"requireApproval"`
		Result      any            `yaml:"result"`
	}
)

// defaultConfig is used when no configuration file is given.
const defaultConfig = `
agent:
  greeting: Let me look up flights for you.
  delay: 50ms
  toolCalls:
    - name: search_flights
      arguments:
        from: AMS
        to: JFK
  approval:
    title: Book flight KL641?
    message: Departs 10:25, arrives 12:40.
  closing: Your flight is booked.
tools:
  - name: search_flights
    description: Searches available flights.
    scope: travel
    parameters:
      type: object
      required: [from, to]
      properties:
        from: {type: string}
        to: {type: string}
    result:
      flights:
        - number: KL641
          departs: "10:25"
`

// LoadConfig reads the configuration at path, or the default configuration
// when path is empty.
func LoadConfig(path string) (*Config, error) {
	data := []byte(defaultConfig)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = b
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every scripted tool call names a declared tool.
func (c *Config) Validate() error {
	declared := make(map[string]struct{}, len(c.Tools))
	for i, t := range c.Tools {
		if t.Name == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
		declared[t.Name] = struct{}{}
	}
	for i, call := range c.Agent.ToolCalls {
		if call.Name == "" {
			return fmt.Errorf("agent.toolCalls[%d]: name is required", i)
		}
		if _, ok := declared[call.Name]; !ok {
			return fmt.Errorf("agent.toolCalls[%d]: unknown tool %q", i, call.Name)
		}
	}
	if c.Agent.Greeting == "" && c.Agent.Closing == "" && len(c.Agent.ToolCalls) == 0 {
		return errors.New("agent: nothing to say")
	}
	return nil
}

// Registry builds the frontend tool registry of the client.
func (c *Config) Registry() (*tools.Registry, error) {
	reg := tools.NewRegistry()
	for _, tc := range c.Tools {
		var params json.RawMessage
		if tc.Parameters != nil {
			b, err := json.Marshal(tc.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %q parameters: %w", tc.Name, err)
			}
			params = b
		}
		tool := tools.Tool{
			Name:        tc.Name,
			Description: tc.Description,
			Parameters:  params,
			Scope:       tc.Scope,
			Destructive: tc.Destructive,
		}
		if tc.RequireOK {
			tool.Approval = &tools.ApprovalConfig{}
		}
		result := tc.Result
		impl := tools.ImplementationFunc(func(_ context.Context, _ map[string]any) (any, error) {
			return result, nil
		})
		if err := reg.Register(tool, impl); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
