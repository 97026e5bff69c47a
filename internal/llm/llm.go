// Package llm classifies and summarizes articles with the Anthropic Messages API.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"news_bot/internal/model"
	"news_bot/internal/telemetry"
)

const (
	// maxContentRunes bounds the article text sent to the model.
	maxContentRunes  = 12000
	classifyTokens   = 10
	summarizeTokens  = 400
	summaryTemp      = 0.7
	formattingTemp   = 0.0
	classifyTemp     = 0.0
	meterName        = "news_bot/internal/llm"
	operationAttrKey = "operation"
)

var classifyTemplate = template.Must(template.New("classify").Parse(
	`You are a filter bot. Decide whether the article below is about {{.Topic}}. ` +
		`Answer with a single word: True if it is related, False if it is not. ` +
		`Be strict and filter out everything that is not clearly about {{.Topic}}.`))

const personaPrompt = `You are Richard Rex, an AI engineer known for wit and humour. ` +
	`You turn news into short Telegram posts that blend humour, sarcasm and insight. ` +
	`Pick a mood that fits the story (cheerful, sarcastic, contemplative, humorous or serious, ` +
	`or a mix of them) but never name the mood. ` +
	`Keep the post between 100 and 150 words and output only the post text.`

const formattingPrompt = `Make the post below better structured for a Telegram channel so it reads well. ` +
	`Do not change its content. Wrap essential keywords in HTML bold tags, like <b>keyword</b>. ` +
	`Use no other markup and do not add emojis. Output only the post text.`

// Client talks to the Anthropic Messages API.
type Client struct {
	api    anthropic.Client
	model  anthropic.Model
	topic  string
	tokens metric.Int64Counter
	calls  metric.Float64Histogram
}

// New creates a Client for the given model. topic is the subject the
// classifier accepts. Extra options are passed to the SDK client.
func New(apiKey, modelName, topic string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	m := telemetry.Meter(meterName)
	tokens, _ := m.Int64Counter("newsbot.llm.tokens",
		metric.WithDescription("Anthropic API tokens consumed"),
		metric.WithUnit("{token}"),
	)
	calls, _ := m.Float64Histogram("newsbot.llm.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Client{
		api:    anthropic.NewClient(opts...),
		model:  anthropic.Model(modelName),
		topic:  topic,
		tokens: tokens,
		calls:  calls,
	}
}

// IsRelevant reports whether the article is about the configured topic.
// An answer other than true/false is an error, never a silent "no".
func (c *Client) IsRelevant(ctx context.Context, title, content string) (bool, error) {
	var system bytes.Buffer
	if err := classifyTemplate.Execute(&system, struct{ Topic string }{c.topic}); err != nil {
		return false, fmt.Errorf("%w: render prompt: %w", model.ErrClassify, err)
	}

	answer, err := c.complete(ctx, "classify", system.String(), articlePrompt(title, content), classifyTokens, classifyTemp)
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrClassify, err)
	}

	relevant, ok := parseAnswer(answer)
	if !ok {
		return false, fmt.Errorf("%w: unexpected answer %q", model.ErrClassify, answer)
	}
	return relevant, nil
}

// Summarize writes a channel post about the article in two calls: the first
// condenses the article, the second only restructures the first's output.
func (c *Client) Summarize(ctx context.Context, title, content string) (string, error) {
	draft, err := c.complete(ctx, "summarize", personaPrompt, articlePrompt(title, content), summarizeTokens, summaryTemp)
	if err != nil {
		return "", fmt.Errorf("%w: summarize: %w", model.ErrGenerate, err)
	}
	if strings.TrimSpace(draft) == "" {
		return "", fmt.Errorf("%w: empty summary", model.ErrGenerate)
	}

	post, err := c.complete(ctx, "format", formattingPrompt, "New post: "+draft, summarizeTokens, formattingTemp)
	if err != nil {
		return "", fmt.Errorf("%w: format: %w", model.ErrGenerate, err)
	}
	post = strings.TrimSpace(post)
	if post == "" {
		return "", fmt.Errorf("%w: empty formatted post", model.ErrGenerate)
	}
	return post, nil
}

func (c *Client) complete(ctx context.Context, op, system, prompt string, maxTokens int64, temperature float64) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	t0 := time.Now()
	message, err := c.api.Messages.New(ctx, params)
	opAttr := attribute.String(operationAttrKey, op)
	c.calls.Record(ctx, float64(time.Since(t0).Milliseconds()), metric.WithAttributes(opAttr))
	if err != nil {
		return "", fmt.Errorf("messages api: %w", err)
	}

	c.tokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(opAttr, attribute.String("direction", "input")))
	c.tokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(opAttr, attribute.String("direction", "output")))

	if len(message.Content) == 0 {
		return "", fmt.Errorf("unexpected response format: no content blocks")
	}
	block := message.Content[0]
	if block.Type != "text" {
		return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", block.Type)
	}
	return block.Text, nil
}

func articlePrompt(title, content string) string {
	return fmt.Sprintf("Article title: %s\nArticle content: %s", title, truncate(content, maxContentRunes))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// parseAnswer accepts True/False and yes/no in any case, ignoring
// surrounding quotes and trailing punctuation.
func parseAnswer(answer string) (relevant, ok bool) {
	a := strings.ToLower(strings.Trim(strings.TrimSpace(answer), `"'.!`))
	switch a {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}
