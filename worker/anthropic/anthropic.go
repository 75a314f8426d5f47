// Package anthropic provides a worker launcher backed by the Anthropic
// Messages API. Each launched process holds one conversation: every Send
// appends to the history and performs a single Messages call.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/taskmesh/taskmesh/core"
)

// ErrStopped is returned by Send after the process has been stopped.
var ErrStopped = errors.New("worker process stopped")

// Options configures the Anthropic worker launcher (model id, temperature,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string

	// SystemPrompt is prepended to the per-project system message.
	SystemPrompt string
}

// Launcher creates Anthropic-backed worker processes.
type Launcher struct {
	client *anthropic.Client
	opts   Options
}

// NewLauncher creates a launcher using the official client.
func NewLauncher(optFns ...func(o *Options)) *Launcher {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Launcher{client: &client, opts: opts}
}

// NewLauncherFromClient creates a launcher from an existing client.
func NewLauncherFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Launcher {
	return &Launcher{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Launch creates a new conversation bound to the given project. The first
// API call happens on the first Send.
func (l *Launcher) Launch(_ context.Context, project string) (core.WorkerProcess, error) {
	return &process{client: l.client, opts: l.opts, project: project}, nil
}

// process is one live conversation against the Messages API.
type process struct {
	client *anthropic.Client
	opts   Options

	mu      sync.Mutex
	project string
	history []anthropic.MessageParam
	lastID  string
	stopped bool
}

var (
	_ core.WorkerProcess = (*process)(nil)
	_ core.ProjectBinder = (*process)(nil)
)

// BindProject attaches a pre-warmed, unbound process to a project.
func (p *process) BindProject(project string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.project = project
}

// Send performs one exchange against the Messages API.
func (p *process) Send(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return "", ErrStopped
	}

	messages := append(p.history, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
		Messages:    messages,
	}
	if system := p.systemBlocks(); len(system) > 0 {
		params.System = system
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	out := sb.String()
	p.history = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(out)))
	p.lastID = resp.ID
	return out, nil
}

// Alive reports whether the process can still accept exchanges. An
// API-backed process only dies by being stopped.
func (p *process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped
}

// Token returns the id of the last API message, which external callers can
// use to correlate the conversation.
func (p *process) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastID
}

// Stop ends the conversation. No API call is needed; the history is simply
// dropped.
func (p *process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.history = nil
	return nil
}

// systemBlocks assembles the system message from the configured prompt and
// the bound project.
func (p *process) systemBlocks() []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if p.opts.SystemPrompt != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: p.opts.SystemPrompt})
	}
	if p.project != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: "You are working on the project " + p.project + "."})
	}
	return blocks
}
