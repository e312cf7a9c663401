// Package convoke provides a high-level façade over the streaming
// conversation core: backend normalizers (Anthropic, OpenAI), the tool
// registry and executor, the agent loop, and the branching session store.
// Most applications interact with this package by:
//  1. Loading (or building) a config.Config
//  2. Creating a Convoke via New(), registering tools
//  3. Calling Run() per user prompt; Steer()/FollowUp() while a run is live
//
// The façade delegates orchestration to agent.Loop while keeping setup
// ergonomics concise. Defaults are safe for local use; production callers
// typically supply a structured logger and a sessions directory.
package convoke

import (
	"context"
	"fmt"

	"github.com/convoke-ai/convoke/agent"
	"github.com/convoke-ai/convoke/backend"
	anthropicbackend "github.com/convoke-ai/convoke/backend/anthropic"
	openaibackend "github.com/convoke-ai/convoke/backend/openai"
	"github.com/convoke-ai/convoke/config"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/session"
	"github.com/convoke-ai/convoke/tool"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
)

// Version of the convoke module.
const Version = "0.1.0"

// Options configures the Convoke façade beyond what the settings file covers.
type Options struct {
	// Normalizer overrides provider construction from the config, e.g. to
	// supply a backend.Scripted in tests.
	Normalizer backend.Normalizer
	// Persist enables the session store under cfg.Sessions.Dir.
	Persist bool
	// Tools are registered before the first run.
	Tools  []tool.Tool
	Logger logging.Logger
}

// Convoke couples one agent loop with its registry, normalizer and optional
// session store.
type Convoke struct {
	loop     *agent.Loop
	registry *tool.Registry
	store    *session.Store
	info     backend.Info
}

// New builds a ready-to-run conversation from a config. A nil config uses
// config.Default().
func New(cfg *config.Config, optFns ...func(*Options)) (*Convoke, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := Options{Logger: logging.NewLogger(cfg.LoggerConfig())}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	normalizer := opts.Normalizer
	if normalizer == nil {
		var err error
		normalizer, err = normalizerFor(cfg, opts.Logger)
		if err != nil {
			return nil, err
		}
	}

	var store *session.Store
	if opts.Persist {
		info := normalizer.Info()
		var err error
		store, err = session.NewStore(cfg.Sessions.Dir, func(so *session.StoreOptions) {
			so.Provider = info.Provider
			so.Model = info.Model
			so.Logger = opts.Logger
		})
		if err != nil {
			return nil, err
		}
	}

	registry := tool.NewRegistry(opts.Tools...)
	loop := agent.New(normalizer, registry, func(o *agent.Options) {
		o.MaxTurns = cfg.Agent.MaxTurns
		o.System = cfg.Agent.System
		o.Stream = cfg.StreamOptions()
		o.Store = store
		o.Logger = opts.Logger
	})

	return &Convoke{
		loop:     loop,
		registry: registry,
		store:    store,
		info:     normalizer.Info(),
	}, nil
}

func normalizerFor(cfg *config.Config, logger logging.Logger) (backend.Normalizer, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropicbackend.New(func(o *anthropicbackend.Options) {
			if cfg.LLM.Model != "" {
				o.Model = anthropicsdk.Model(cfg.LLM.Model)
			}
			if cfg.LLM.MaxTokens > 0 {
				o.MaxTokens = cfg.LLM.MaxTokens
			}
			o.APIKey = cfg.LLM.APIKey
			o.Logger = logger
		}), nil
	case "openai":
		return openaibackend.New(func(o *openaibackend.Options) {
			if cfg.LLM.Model != "" {
				o.Model = cfg.LLM.Model
			}
			if cfg.LLM.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.LLM.MaxTokens
			}
			o.APIKey = cfg.LLM.APIKey
			o.Logger = logger
		}), nil
	default:
		return nil, fmt.Errorf("convoke: unknown provider %q", cfg.LLM.Provider)
	}
}

// RegisterTool adds a tool to the loop's registry.
func (c *Convoke) RegisterTool(t tool.Tool) { c.registry.Register(t) }

// Run drives one conversation run to completion.
func (c *Convoke) Run(ctx context.Context, prompt string) (*agent.Result, error) {
	return c.loop.Run(ctx, prompt)
}

// Steer queues a priority steering message for the running loop.
func (c *Convoke) Steer(text string, priority int) { c.loop.Steer(text, priority) }

// FollowUp queues a message injected once the current run completes.
func (c *Convoke) FollowUp(text string) { c.loop.FollowUp(text) }

// On registers a loop progress hook.
func (c *Convoke) On(t agent.HookType, h agent.Hook) { c.loop.On(t, h) }

// Loop exposes the underlying agent loop.
func (c *Convoke) Loop() *agent.Loop { return c.loop }

// Store exposes the session store, nil unless persistence was enabled.
func (c *Convoke) Store() *session.Store { return c.store }

// Backend reports the active normalizer's provider metadata.
func (c *Convoke) Backend() backend.Info { return c.info }

// Close releases the session store, if any.
func (c *Convoke) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
