// Package openai provides a worker launcher backed by the OpenAI Chat
// Completions API. Each launched process holds one conversation: every Send
// appends to the history and performs a single completion call.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/taskmesh/taskmesh/core"
)

// ErrStopped is returned by Send after the process has been stopped.
var ErrStopped = errors.New("worker process stopped")

// Options configures the OpenAI worker launcher.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string

	// SystemPrompt is prepended to the per-project system message.
	SystemPrompt string
}

// Launcher creates OpenAI-backed worker processes.
type Launcher struct {
	client *openai.Client
	opts   Options
}

// NewLauncher creates a launcher using the official client.
func NewLauncher(optFns ...func(o *Options)) *Launcher {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Launcher{client: &client, opts: opts}
}

// NewLauncherFromClient creates a launcher from an existing client.
func NewLauncherFromClient(client *openai.Client, optFns ...func(o *Options)) *Launcher {
	return &Launcher{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4o,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Launch creates a new conversation bound to the given project.
func (l *Launcher) Launch(_ context.Context, project string) (core.WorkerProcess, error) {
	return &process{client: l.client, opts: l.opts, project: project}, nil
}

// process is one live conversation against the Chat Completions API.
type process struct {
	client *openai.Client
	opts   Options

	mu      sync.Mutex
	project string
	history []openai.ChatCompletionMessageParamUnion
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

// Send performs one exchange against the Chat Completions API.
func (p *process) Send(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return "", ErrStopped
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.history)+2)
	if system := p.systemText(); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, p.history...)
	messages = append(messages, openai.UserMessage(text))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               p.opts.Model,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned no choices")
	}

	out := resp.Choices[0].Message.Content
	p.history = append(p.history, openai.UserMessage(text), openai.AssistantMessage(out))
	p.lastID = resp.ID
	return out, nil
}

// Alive reports whether the process can still accept exchanges.
func (p *process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped
}

// Token returns the id of the last completion.
func (p *process) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastID
}

// Stop ends the conversation and drops its history.
func (p *process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.history = nil
	return nil
}

// systemText assembles the system message from the configured prompt and
// the bound project.
func (p *process) systemText() string {
	switch {
	case p.opts.SystemPrompt != "" && p.project != "":
		return p.opts.SystemPrompt + "\n\nYou are working on the project " + p.project + "."
	case p.project != "":
		return "You are working on the project " + p.project + "."
	default:
		return p.opts.SystemPrompt
	}
}
