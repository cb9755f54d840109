package storage

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps every entity in process memory. It is the default
// backend; its contents are lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[string]User
	bots          map[string]Bot
	trainingData  map[string]TrainingData
	conversations map[string]Conversation
	integrations  map[string]Integration

	// Insertion order per entity type; maps alone do not keep it.
	userOrder         []string
	botOrder          []string
	trainingDataOrder []string
	conversationOrder []string
	integrationOrder  []string
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]User),
		bots:          make(map[string]Bot),
		trainingData:  make(map[string]TrainingData),
		conversations: make(map[string]Conversation),
		integrations:  make(map[string]Integration),
	}
}

func (s *MemoryStore) Close() error { return nil }

func removeID(order []string, id string) []string {
	if i := slices.Index(order, id); i >= 0 {
		return slices.Delete(order, i, i+1)
	}
	return order
}

// --- Users ---

func (s *MemoryStore) CreateUser(username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return User{}, fmt.Errorf("username %q already exists", username)
		}
	}
	u := User{ID: uuid.New().String(), Username: username}
	if username == DefaultUserID {
		u.ID = DefaultUserID
	}
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	return u, nil
}

func (s *MemoryStore) GetUser(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUserByUsername(username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.userOrder {
		if u := s.users[id]; u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

// --- Bots ---

func (s *MemoryStore) CreateBot(in BotInput) (Bot, error) {
	status := in.Status
	if status == "" {
		status = BotDraft
	}
	t := now()
	b := Bot{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: copyString(in.Description),
		Status:      status,
		OwnerID:     in.OwnerID,
		CreatedAt:   t,
		UpdatedAt:   t,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[b.ID] = b
	s.botOrder = append(s.botOrder, b.ID)
	return b.clone(), nil
}

func (s *MemoryStore) GetBot(id string) (Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return Bot{}, ErrNotFound
	}
	return b.clone(), nil
}

func (s *MemoryStore) ListBots() ([]Bot, error) {
	return s.listBots(func(Bot) bool { return true }), nil
}

func (s *MemoryStore) ListBotsByOwner(ownerID string) ([]Bot, error) {
	return s.listBots(func(b Bot) bool { return b.OwnerID == ownerID }), nil
}

func (s *MemoryStore) listBots(keep func(Bot) bool) []Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Bot{}
	for _, id := range s.botOrder {
		if b := s.bots[id]; keep(b) {
			out = append(out, b.clone())
		}
	}
	return out
}

func (s *MemoryStore) UpdateBot(id string, p BotPatch) (Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return Bot{}, ErrNotFound
	}
	if p.Name != nil {
		b.Name = *p.Name
	}
	switch {
	case p.ClearDescription:
		b.Description = nil
	case p.Description != nil:
		b.Description = copyString(p.Description)
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	b.UpdatedAt = now()
	s.bots[id] = b
	return b.clone(), nil
}

func (s *MemoryStore) DeleteBot(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[id]; !ok {
		return false, nil
	}
	delete(s.bots, id)
	s.botOrder = removeID(s.botOrder, id)
	return true, nil
}

// --- Training data ---

func (s *MemoryStore) CreateTrainingData(in TrainingDataInput) (TrainingData, error) {
	fileType := in.FileType
	if fileType == "" {
		fileType = defaultFileType
	}
	td := TrainingData{
		ID:         uuid.New().String(),
		BotID:      in.BotID,
		FileName:   in.FileName,
		FileURL:    in.FileURL,
		FileSize:   in.FileSize,
		FileType:   fileType,
		UploadedAt: now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trainingData[td.ID] = td
	s.trainingDataOrder = append(s.trainingDataOrder, td.ID)
	return td.clone(), nil
}

func (s *MemoryStore) GetTrainingData(id string) (TrainingData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td, ok := s.trainingData[id]
	if !ok {
		return TrainingData{}, ErrNotFound
	}
	return td.clone(), nil
}

func (s *MemoryStore) ListTrainingData() ([]TrainingData, error) {
	return s.listTrainingData(func(TrainingData) bool { return true }), nil
}

func (s *MemoryStore) ListTrainingDataByBot(botID string) ([]TrainingData, error) {
	return s.listTrainingData(func(td TrainingData) bool { return td.BotID == botID }), nil
}

func (s *MemoryStore) listTrainingData(keep func(TrainingData) bool) []TrainingData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []TrainingData{}
	for _, id := range s.trainingDataOrder {
		if td := s.trainingData[id]; keep(td) {
			out = append(out, td.clone())
		}
	}
	return out
}

func (s *MemoryStore) CompleteTrainingData(id, content string) (TrainingData, error) {
	return s.updateTrainingData(id, func(td *TrainingData) {
		td.Content = &content
		td.Processed = true
		td.ProcessingError = ""
	})
}

func (s *MemoryStore) FailTrainingData(id, reason string) (TrainingData, error) {
	return s.updateTrainingData(id, func(td *TrainingData) {
		td.Content = nil
		td.Processed = false
		td.ProcessingError = reason
	})
}

func (s *MemoryStore) ResetTrainingData(id string) (TrainingData, error) {
	return s.updateTrainingData(id, func(td *TrainingData) {
		td.Content = nil
		td.Processed = false
		td.ProcessingError = ""
	})
}

func (s *MemoryStore) updateTrainingData(id string, fn func(*TrainingData)) (TrainingData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.trainingData[id]
	if !ok {
		return TrainingData{}, ErrNotFound
	}
	fn(&td)
	s.trainingData[id] = td
	return td.clone(), nil
}

func (s *MemoryStore) DeleteTrainingData(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trainingData[id]; !ok {
		return false, nil
	}
	delete(s.trainingData, id)
	s.trainingDataOrder = removeID(s.trainingDataOrder, id)
	return true, nil
}

// --- Conversations ---

func (s *MemoryStore) CreateConversation(botID string, msgs []Message) (Conversation, error) {
	c := Conversation{
		ID:        uuid.New().String(),
		BotID:     botID,
		Messages:  append([]Message{}, msgs...),
		StartedAt: now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	s.conversationOrder = append(s.conversationOrder, c.ID)
	return c.clone(), nil
}

func (s *MemoryStore) GetConversation(id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c.clone(), nil
}

func (s *MemoryStore) ListConversationsByBot(botID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Conversation{}
	for _, id := range s.conversationOrder {
		if c := s.conversations[id]; c.BotID == botID {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendMessages(id string, msgs ...Message) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	c = c.clone()
	c.Messages = append(c.Messages, msgs...)
	s.conversations[id] = c
	return c.clone(), nil
}

func (s *MemoryStore) EndConversation(id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if c.EndedAt == nil {
		t := now()
		c.EndedAt = &t
		s.conversations[id] = c
	}
	return c.clone(), nil
}

func (s *MemoryStore) DeleteConversation(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return false, nil
	}
	delete(s.conversations, id)
	s.conversationOrder = removeID(s.conversationOrder, id)
	return true, nil
}

// --- Integrations ---

func (s *MemoryStore) CreateIntegration(in IntegrationInput) (Integration, error) {
	i := Integration{
		ID:       uuid.New().String(),
		BotID:    in.BotID,
		Platform: in.Platform,
		Config:   copyConfig(in.Config),
		Enabled:  in.Enabled,
	}
	if in.Enabled {
		t := now()
		i.ConnectedAt = &t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[i.ID] = i
	s.integrationOrder = append(s.integrationOrder, i.ID)
	return i.clone(), nil
}

func (s *MemoryStore) GetIntegration(id string) (Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.integrations[id]
	if !ok {
		return Integration{}, ErrNotFound
	}
	return i.clone(), nil
}

func (s *MemoryStore) ListIntegrationsByBot(botID string) ([]Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Integration{}
	for _, id := range s.integrationOrder {
		if i := s.integrations[id]; i.BotID == botID {
			out = append(out, i.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateIntegration(id string, p IntegrationPatch) (Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.integrations[id]
	if !ok {
		return Integration{}, ErrNotFound
	}
	applyIntegrationPatch(&i, p)
	s.integrations[id] = i
	return i.clone(), nil
}

// applyIntegrationPatch merges p into i. Enabling stamps ConnectedAt;
// any other update keeps the previous value.
func applyIntegrationPatch(i *Integration, p IntegrationPatch) {
	if p.Platform != nil {
		i.Platform = *p.Platform
	}
	if p.Config != nil {
		i.Config = copyConfig(p.Config)
	}
	if p.Enabled != nil {
		i.Enabled = *p.Enabled
		if *p.Enabled {
			t := now()
			i.ConnectedAt = &t
		}
	}
}

func (s *MemoryStore) DeleteIntegration(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[id]; !ok {
		return false, nil
	}
	delete(s.integrations, id)
	s.integrationOrder = removeID(s.integrationOrder, id)
	return true, nil
}
