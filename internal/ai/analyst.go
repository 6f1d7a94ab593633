package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/findoc/pkg/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

const (
	defaultTemperature  = 0.3
	defaultContextChars = 48000
	chunkOverlap        = 200
)

// Analyst is a single-agent analysis crew: it reads the document through its tool,
// optionally condenses long documents into notes, and asks the model for the report.
type Analyst struct {
	provider     string
	model        llms.Model
	reader       models.DocumentReader
	agent        AgentConfig
	task         TaskConfig
	temperature  float64
	contextChars int
	throttle     Throttle
	logger       *zap.Logger
}

type Option func(*Analyst)

func WithAgent(cfg AgentConfig) Option {
	return func(a *Analyst) {
		cfg.Tools = append([]string(nil), cfg.Tools...)
		a.agent = cfg
	}
}

func WithTask(cfg TaskConfig) Option {
	return func(a *Analyst) { a.task = cfg }
}

func WithTemperature(t float64) Option {
	return func(a *Analyst) { a.temperature = t }
}

// WithContextChars sets how much document text is sent in one call before chunking kicks in.
func WithContextChars(n int) Option {
	return func(a *Analyst) { a.contextChars = n }
}

func WithThrottle(t Throttle) Option {
	return func(a *Analyst) { a.throttle = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Analyst) { a.logger = l }
}

// NewAnalyst builds an Analyst. Without WithThrottle it limits itself in-process to the agent's MaxRPM.
func NewAnalyst(provider string, model llms.Model, reader models.DocumentReader, opts ...Option) *Analyst {
	a := &Analyst{
		provider:     provider,
		model:        model,
		reader:       reader,
		agent:        DefaultAgent(),
		task:         DefaultTask(),
		temperature:  defaultTemperature,
		contextChars: defaultContextChars,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.agent.MaxIter < 1 {
		a.agent.MaxIter = 1
	}
	if a.throttle == nil {
		a.throttle = NewLocalThrottle(a.agent.MaxRPM, time.Minute)
	}
	return a
}

func (a *Analyst) Name() string { return a.provider }

// Analyze runs the analysis task against the document at fileRef and returns the report text.
func (a *Analyst) Analyze(ctx context.Context, fileRef, query string) (string, error) {
	text, err := a.reader.Read(ctx, fileRef)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}

	p, err := renderPrompts(a.agent, a.task, PromptVars{Query: query, FilePath: fileRef})
	if err != nil {
		return "", err
	}

	if len(text) <= a.contextChars || a.agent.MaxIter == 1 {
		if len(text) > a.contextChars {
			a.logger.Warn("document truncated to fit a single call",
				zap.String("file_ref", fileRef), zap.Int("chars", len(text)))
			text = strings.ToValidUTF8(text[:a.contextChars], "")
		}
		prompt, err := p.report(text, nil)
		if err != nil {
			return "", err
		}
		return a.call(ctx, p.System, prompt)
	}

	notes, err := a.condense(ctx, p, fileRef, text)
	if err != nil {
		return "", err
	}
	prompt, err := p.report("", notes)
	if err != nil {
		return "", err
	}
	return a.call(ctx, p.System, prompt)
}

// condense turns a long document into at most MaxIter-1 sets of evidence notes.
func (a *Analyst) condense(ctx context.Context, p prompts, fileRef, text string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(a.contextChars),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split document: %w", err)
	}

	budget := a.agent.MaxIter - 1
	if len(chunks) > budget {
		a.logger.Warn("document exceeds iteration budget, trailing parts skipped",
			zap.String("file_ref", fileRef), zap.Int("parts", len(chunks)), zap.Int("budget", budget))
		chunks = chunks[:budget]
	}

	notes := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt, err := p.notes(chunk, i+1, len(chunks))
		if err != nil {
			return nil, err
		}
		n, err := a.call(ctx, p.System, prompt)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, nil
}

func (a *Analyst) call(ctx context.Context, system, prompt string) (string, error) {
	if err := a.throttle.Wait(ctx); err != nil {
		return "", a.wrapErr(ctx, err)
	}

	resp, err := a.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithTemperature(a.temperature))
	if err != nil {
		return "", a.wrapErr(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrInvalidResponse
	}
	out := strings.TrimSpace(resp.Choices[0].Content)
	if out == "" {
		return "", ErrInvalidResponse
	}
	return out, nil
}

func (a *Analyst) wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

var _ models.AnalysisEngine = (*Analyst)(nil)
