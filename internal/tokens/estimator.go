// Package tokens counts the tokens a chat-completion request will consume,
// replicating the upstream provider's tokenization closely enough for cost
// estimation before the call is made.
package tokens

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// Per-message framing overhead: <|start|>{role}\n{content}<|end|>\n
	tokensPerMessage = 3
	tokensPerName    = 1
	// Every reply is primed with <|start|>assistant<|message|>
	replyPrimingTokens = 3

	// fallbackEncoding is used for models tiktoken does not recognize.
	// Counts for such models are approximate, not byte-exact.
	fallbackEncoding = "cl100k_base"
)

// Message is one chat turn. Content is either a string or, for vision-style
// payloads, a list whose string items are counted.
type Message struct {
	Role    string
	Content interface{}
	Name    string
}

// Estimator counts tokens deterministically: identical input always yields
// identical counts. Encoders are cached per model.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewEstimator creates a token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// encoderFor returns the cached encoder for a model, loading it on first
// use. Unknown models fall back to the general-purpose encoding rather
// than failing the request.
func (e *Estimator) encoderFor(model string) (*tiktoken.Tiktoken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[model]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}

	e.encoders[model] = enc
	return enc, nil
}

// CountText counts the tokens in a plain string for the given model.
func (e *Estimator) CountText(text, model string) (int, error) {
	enc, err := e.encoderFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages counts the tokens a chat message list will consume,
// including the per-message framing overhead and the reply priming tokens.
func (e *Estimator) CountMessages(messages []Message, model string) (int, error) {
	enc, err := e.encoderFor(model)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, msg := range messages {
		count += tokensPerMessage
		count += len(enc.Encode(msg.Role, nil, nil))

		switch content := msg.Content.(type) {
		case string:
			count += len(enc.Encode(content, nil, nil))
		case []interface{}:
			// Vision-style content arrays: count string items; image
			// parts are billed separately by the provider.
			for _, item := range content {
				if s, ok := item.(string); ok {
					count += len(enc.Encode(s, nil, nil))
				}
			}
		}

		if msg.Name != "" {
			count += tokensPerName
			count += len(enc.Encode(msg.Name, nil, nil))
		}
	}

	count += replyPrimingTokens
	return count, nil
}

// EstimateOutput estimates how many output tokens a request will actually
// use given its max_tokens budget, biased upward with temperature.
func EstimateOutput(maxTokens int, temperature float64) int {
	return int(math.Ceil(float64(maxTokens) * (0.7 + temperature*0.3)))
}

// MessagesFromPayload converts the decoded "messages" field of a request
// body into Messages for counting. Unknown shapes are skipped.
func MessagesFromPayload(raw interface{}) []Message {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	messages := make([]Message, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		msg := Message{Content: m["content"]}
		if role, ok := m["role"].(string); ok {
			msg.Role = role
		}
		if name, ok := m["name"].(string); ok {
			msg.Name = name
		}
		messages = append(messages, msg)
	}
	return messages
}
