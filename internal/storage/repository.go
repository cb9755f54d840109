package storage

import (
	"encoding/json"
	"time"
)

// Repository is the contract shared by every storage backend.
//
// Get and Update methods return ErrNotFound for unknown ids. Delete methods
// report whether a record existed. List methods return records in insertion
// order and never return nil. Returned records are copies; callers may
// mutate them freely.
type Repository interface {
	CreateUser(username string) (User, error)
	GetUser(id string) (User, error)
	GetUserByUsername(username string) (User, error)

	CreateBot(in BotInput) (Bot, error)
	GetBot(id string) (Bot, error)
	ListBots() ([]Bot, error)
	ListBotsByOwner(ownerID string) ([]Bot, error)
	UpdateBot(id string, p BotPatch) (Bot, error)
	DeleteBot(id string) (bool, error)

	CreateTrainingData(in TrainingDataInput) (TrainingData, error)
	GetTrainingData(id string) (TrainingData, error)
	ListTrainingData() ([]TrainingData, error)
	ListTrainingDataByBot(botID string) ([]TrainingData, error)
	// CompleteTrainingData stores extracted content and marks the record
	// processed in one step, so processed never appears without content.
	CompleteTrainingData(id, content string) (TrainingData, error)
	// FailTrainingData leaves the record unprocessed with no content and
	// records why extraction failed.
	FailTrainingData(id, reason string) (TrainingData, error)
	// ResetTrainingData returns a record to its freshly uploaded state.
	ResetTrainingData(id string) (TrainingData, error)
	DeleteTrainingData(id string) (bool, error)

	CreateConversation(botID string, msgs []Message) (Conversation, error)
	GetConversation(id string) (Conversation, error)
	ListConversationsByBot(botID string) ([]Conversation, error)
	AppendMessages(id string, msgs ...Message) (Conversation, error)
	EndConversation(id string) (Conversation, error)
	DeleteConversation(id string) (bool, error)

	CreateIntegration(in IntegrationInput) (Integration, error)
	GetIntegration(id string) (Integration, error)
	ListIntegrationsByBot(botID string) ([]Integration, error)
	UpdateIntegration(id string, p IntegrationPatch) (Integration, error)
	DeleteIntegration(id string) (bool, error)

	Close() error
}

const defaultFileType = "application/octet-stream"

func now() time.Time {
	return time.Now().UTC()
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (b Bot) clone() Bot {
	b.Description = copyString(b.Description)
	return b
}

func (td TrainingData) clone() TrainingData {
	td.Content = copyString(td.Content)
	return td
}

func (c Conversation) clone() Conversation {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	c.Messages = msgs
	c.EndedAt = copyTime(c.EndedAt)
	return c
}

func (i Integration) clone() Integration {
	i.Config = copyConfig(i.Config)
	i.ConnectedAt = copyTime(i.ConnectedAt)
	return i
}

// copyConfig deep-copies a free-form config map through JSON so nested
// maps and slices are not shared with the caller.
func copyConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	if len(m) == 0 {
		return out
	}
	b, err := json.Marshal(m)
	if err != nil {
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
