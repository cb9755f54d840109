package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultUserID is the single implicit owner until authentication exists.
const DefaultUserID = "default-user"

type BotStatus string

const (
	BotDraft    BotStatus = "draft"
	BotTraining BotStatus = "training"
	BotActive   BotStatus = "active"
	BotPaused   BotStatus = "paused"
)

// ParseBotStatus validates s. An empty string yields BotDraft.
func ParseBotStatus(s string) (BotStatus, error) {
	switch BotStatus(s) {
	case "":
		return BotDraft, nil
	case BotDraft, BotTraining, BotActive, BotPaused:
		return BotStatus(s), nil
	}
	return "", fmt.Errorf("invalid bot status %q", s)
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Bot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Status      BotStatus `json:"status"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BotInput holds the caller-supplied fields of a new bot.
type BotInput struct {
	Name        string
	Description *string
	Status      BotStatus
	OwnerID     string
}

// BotPatch is a partial update; nil fields are left unchanged.
// ClearDescription removes the description and wins over Description.
type BotPatch struct {
	Name             *string
	Description      *string
	ClearDescription bool
	Status           *BotStatus
}

type TrainingData struct {
	ID              string    `json:"id"`
	BotID           string    `json:"botId"`
	FileName        string    `json:"fileName"`
	FileURL         string    `json:"fileUrl"`
	FileSize        int64     `json:"fileSize"`
	FileType        string    `json:"fileType"`
	Content         *string   `json:"content"`
	Processed       bool      `json:"processed"`
	ProcessingError string    `json:"processingError,omitempty"`
	UploadedAt      time.Time `json:"uploadedAt"`
}

type TrainingDataInput struct {
	BotID    string
	FileName string
	FileURL  string
	FileSize int64
	FileType string
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Conversation struct {
	ID        string     `json:"id"`
	BotID     string     `json:"botId"`
	Messages  []Message  `json:"messages"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
}

type Integration struct {
	ID          string         `json:"id"`
	BotID       string         `json:"botId"`
	Platform    string         `json:"platform"`
	Config      map[string]any `json:"config"`
	Enabled     bool           `json:"enabled"`
	ConnectedAt *time.Time     `json:"connectedAt"`
}

type IntegrationInput struct {
	BotID    string
	Platform string
	Config   map[string]any
	Enabled  bool
}

type IntegrationPatch struct {
	Platform *string
	Config   map[string]any
	Enabled  *bool
}
