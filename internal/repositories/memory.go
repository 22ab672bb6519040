package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"convo-service/internal/models"
)

// MemoryStore implements ConversationRepository and MessageRepository in process memory.
// It backs STORE_DRIVER=memory and the tests; all state is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	nextConvID    int64
	nextMessageID int64
	conversations map[int64]models.Conversation
	participants  map[int64]map[int64]*models.Participant
	directIndex   map[[2]int64]int64
	messages      map[int64]*models.Message
	byConv        map[int64][]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           func() time.Time { return time.Now().UTC() },
		conversations: make(map[int64]models.Conversation),
		participants:  make(map[int64]map[int64]*models.Participant),
		directIndex:   make(map[[2]int64]int64),
		messages:      make(map[int64]*models.Message),
		byConv:        make(map[int64][]int64),
	}
}

var (
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
)

func (s *MemoryStore) CreateDirect(_ context.Context, userID, peerID int64) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, ErrSelfConversation
	}
	low, high := models.DirectPair(userID, peerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.directIndex[[2]int64{low, high}]; ok {
		s.participants[id][userID].Hidden = false
		return s.conversations[id], nil
	}
	conv := s.insertConversationLocked(models.KindDirect, "", "", []int64{low, high})
	s.directIndex[[2]int64{low, high}] = conv.ID
	return conv, nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, ownerID int64, name, avatarURL string, memberIDs []int64) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertConversationLocked(models.KindGroup, name, avatarURL, groupMembers(ownerID, memberIDs)), nil
}

func (s *MemoryStore) insertConversationLocked(kind models.ConversationKind, name, avatarURL string, members []int64) models.Conversation {
	s.nextConvID++
	now := s.now()
	conv := models.Conversation{
		ID:             s.nextConvID,
		Kind:           kind,
		Name:           name,
		AvatarURL:      avatarURL,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.conversations[conv.ID] = conv
	s.participants[conv.ID] = make(map[int64]*models.Participant, len(members))
	for _, id := range members {
		s.participants[conv.ID][id] = &models.Participant{ConversationID: conv.ID, UserID: id}
	}
	return conv
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID int64) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, conversationID int64) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Participant, 0, len(s.participants[conversationID]))
	for _, p := range s.participants[conversationID] {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, conversationID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participants[conversationID][userID]
	return ok, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID int64) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.ConversationSummary
	for convID, members := range s.participants {
		p, ok := members[userID]
		if !ok || p.Hidden {
			continue
		}
		ids := make([]int64, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		result = append(result, models.ConversationSummary{Conversation: s.conversations[convID], ParticipantIDs: ids})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LastActivityAt.Equal(result[j].LastActivityAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	return result, nil
}

func (s *MemoryStore) HideForUser(_ context.Context, conversationID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[conversationID][userID]
	if !ok {
		return ErrConversationNotFound
	}
	p.Hidden = true
	return nil
}

func (s *MemoryStore) UpdateLastRead(_ context.Context, conversationID, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[conversationID][userID]
	if !ok {
		return nil
	}
	if p.LastReadAt == nil || at.After(*p.LastReadAt) {
		t := at
		p.LastReadAt = &t
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}

	s.nextMessageID++
	stored := cloneMessage(msg)
	stored.ID = s.nextMessageID
	stored.CreatedAt = s.now()
	stored.Delivered, stored.Read, stored.Edited, stored.EditedAt = false, false, false, nil
	s.messages[stored.ID] = &stored
	s.byConv[stored.ConversationID] = append(s.byConv[stored.ConversationID], stored.ID)

	conv.LastActivityAt = stored.CreatedAt
	conv.LastMessagePreview = stored.Preview()
	s.conversations[conv.ID] = conv
	for _, p := range s.participants[conv.ID] {
		p.Hidden = false
	}
	return cloneMessage(stored), nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID int64) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return cloneMessage(*msg), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[conversationID]
	end := len(ids)
	if beforeID > 0 {
		end = sort.Search(len(ids), func(i int) bool { return ids[i] >= beforeID })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	result := make([]models.Message, 0, end-start)
	for _, id := range ids[start:end] {
		result = append(result, cloneMessage(*s.messages[id]))
	}
	return result, nil
}

func (s *MemoryStore) UpdateMessageFlags(_ context.Context, messageID int64, update FlagUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return false, nil
	}
	switch {
	case update.Read:
		if msg.Read {
			return false, nil
		}
		msg.Read, msg.Delivered = true, true
		return true, nil
	case update.Delivered:
		if msg.Delivered {
			return false, nil
		}
		msg.Delivered = true
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) MarkReadUpTo(_ context.Context, conversationID, readerID int64, upTo time.Time) ([]models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changes []models.StatusChange
	for _, id := range s.byConv[conversationID] {
		msg := s.messages[id]
		if msg.SenderID == readerID || msg.Read || msg.CreatedAt.After(upTo) {
			continue
		}
		msg.Read, msg.Delivered = true, true
		changes = append(changes, models.StatusChange{MessageID: msg.ID, ConversationID: msg.ConversationID, SenderID: msg.SenderID})
	}
	return changes, nil
}

func (s *MemoryStore) FindUndeliveredFor(_ context.Context, userID int64, afterID int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var candidates []int64
	for convID, members := range s.participants {
		if _, ok := members[userID]; !ok {
			continue
		}
		for _, id := range s.byConv[convID] {
			msg := s.messages[id]
			if id > afterID && msg.SenderID != userID && !msg.Delivered {
				candidates = append(candidates, id)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	result := make([]models.Message, 0, len(candidates))
	for _, id := range candidates {
		result = append(result, cloneMessage(*s.messages[id]))
	}
	return result, nil
}

func (s *MemoryStore) MarkDeliveredBatch(_ context.Context, messageIDs []int64) ([]models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changes []models.StatusChange
	for _, id := range messageIDs {
		msg, ok := s.messages[id]
		if !ok || msg.Delivered {
			continue
		}
		msg.Delivered = true
		changes = append(changes, models.StatusChange{MessageID: msg.ID, ConversationID: msg.ConversationID, SenderID: msg.SenderID})
	}
	return changes, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, conversationID, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byConv[conversationID] {
		msg := s.messages[id]
		if msg.SenderID != userID && !msg.Read {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) EditMessage(_ context.Context, messageID int64, content string, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	c, t := content, at
	msg.Content, msg.Edited, msg.EditedAt = &c, true, &t
	return cloneMessage(*msg), nil
}

func cloneMessage(msg models.Message) models.Message {
	out := msg
	if msg.Content != nil {
		c := *msg.Content
		out.Content = &c
	}
	out.Attachments = append([]string{}, msg.Attachments...)
	if msg.EditedAt != nil {
		t := *msg.EditedAt
		out.EditedAt = &t
	}
	return out
}
