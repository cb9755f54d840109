// Package chat turns a bot's processed training data into a system prompt and
// answers visitor messages through an LLM.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/botsmith/internal/llm"
	"github.com/kalambet/botsmith/internal/storage"
)

// Fixed replies returned in place of a model answer.
const (
	NotConfiguredReply = "I'm sorry, but the OpenAI API key is not configured. Please contact the administrator to set up the API key."
	EmptyReply         = "I apologize, but I'm having trouble generating a response right now. Please try again."
	FailureReply       = "I'm sorry, but I'm experiencing technical difficulties. Please try again later or contact support if the problem persists."
)

const (
	maxTokens   = 500
	temperature = 0.7
)

var (
	ErrBotNotFound          = errors.New("bot not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationEnded    = errors.New("conversation has ended")
)

// Completer produces a single model reply.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Store is the subset of storage.Repository the responder reads and writes.
type Store interface {
	GetBot(id string) (storage.Bot, error)
	ListTrainingDataByBot(botID string) ([]storage.TrainingData, error)
	GetConversation(id string) (storage.Conversation, error)
	AppendMessages(id string, msgs ...storage.Message) (storage.Conversation, error)
}

// Responder answers chat messages on behalf of bots.
type Responder struct {
	store     Store
	completer Completer
	observe   func(time.Duration)

	mu      sync.Mutex
	total   time.Duration
	samples int
}

// NewResponder creates a Responder. observe, if non-nil, is called with the
// duration of every provider call.
func NewResponder(store Store, completer Completer, observe func(time.Duration)) *Responder {
	return &Responder{store: store, completer: completer, observe: observe}
}

// Respond answers a single message without any conversation history.
func (r *Responder) Respond(ctx context.Context, botID, message string) (string, error) {
	system, err := r.systemPrompt(botID)
	if err != nil {
		return "", err
	}
	return r.complete(ctx, system, []llm.Message{{Role: llm.RoleUser, Content: message}}), nil
}

// Converse answers a message within a stored conversation. The full history
// is sent to the model and both the message and the reply are appended.
func (r *Responder) Converse(ctx context.Context, conversationID, message string) (string, error) {
	conv, err := r.store.GetConversation(conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrConversationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading conversation: %w", err)
	}
	if conv.EndedAt != nil {
		return "", ErrConversationEnded
	}

	system, err := r.systemPrompt(conv.BotID)
	if err != nil {
		return "", err
	}

	history := make([]llm.Message, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	history = append(history, llm.Message{Role: llm.RoleUser, Content: message})

	reply := r.complete(ctx, system, history)

	_, err = r.store.AppendMessages(conversationID,
		storage.Message{Role: llm.RoleUser, Content: message},
		storage.Message{Role: llm.RoleAssistant, Content: reply},
	)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrConversationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("saving messages: %w", err)
	}
	return reply, nil
}

// MeanLatency returns the average provider call duration so far, or zero
// when no call has been made.
func (r *Responder) MeanLatency() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples == 0 {
		return 0
	}
	return r.total / time.Duration(r.samples)
}

func (r *Responder) systemPrompt(botID string) (string, error) {
	bot, err := r.store.GetBot(botID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrBotNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading bot: %w", err)
	}
	records, err := r.store.ListTrainingDataByBot(botID)
	if err != nil {
		return "", fmt.Errorf("loading training data: %w", err)
	}
	return BuildSystemPrompt(bot, KnowledgeBase(records)), nil
}

// complete never fails: provider problems are logged and mapped to one of
// the fixed replies.
func (r *Responder) complete(ctx context.Context, system string, msgs []llm.Message) string {
	if !r.completer.Configured() {
		return NotConfiguredReply
	}

	start := time.Now()
	reply, err := r.completer.Complete(ctx, llm.Request{
		System:      system,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	r.record(time.Since(start))

	if err != nil {
		slog.Error("chat completion failed", "error", err)
		return FailureReply
	}
	if reply == "" {
		return EmptyReply
	}
	return reply
}

func (r *Responder) record(d time.Duration) {
	r.mu.Lock()
	r.total += d
	r.samples++
	r.mu.Unlock()
	if r.observe != nil {
		r.observe(d)
	}
}
