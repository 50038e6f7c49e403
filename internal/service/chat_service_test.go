package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sharecare/internal/lock"
	"sharecare/internal/model"
	"sharecare/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// -----------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------

type stubChatRepo struct {
	mu           sync.Mutex
	chats        map[string]*model.Chat
	existing     *model.Chat
	lastMessages map[string]model.LastMessage
	insertErr    error
}

func newStubChatRepo(chats ...*model.Chat) *stubChatRepo {
	s := &stubChatRepo{
		chats:        make(map[string]*model.Chat),
		lastMessages: make(map[string]model.LastMessage),
	}
	for _, c := range chats {
		s.chats[c.ID.Hex()] = c
	}
	return s
}

func copyChat(c *model.Chat) *model.Chat {
	copied := *c
	copied.Participants = append([]model.Participant(nil), c.Participants...)
	return &copied
}

func (s *stubChatRepo) FindByID(_ context.Context, id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, repo.ErrChatNotFound
	}
	return copyChat(chat), nil
}

func (s *stubChatRepo) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[id]
	return ok, nil
}

func (s *stubChatRepo) FindForUser(_ context.Context, userID string, _ int64) ([]model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Chat
	for _, c := range s.chats {
		if c.IsParticipant(userID) {
			out = append(out, *copyChat(c))
		}
	}
	return out, nil
}

func (s *stubChatRepo) FindExisting(context.Context, []string, string, string) (*model.Chat, error) {
	if s.existing == nil {
		return nil, nil
	}
	return copyChat(s.existing), nil
}

func (s *stubChatRepo) Insert(_ context.Context, chat *model.Chat) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	chat.ID = primitive.NewObjectID()
	s.chats[chat.ID.Hex()] = copyChat(chat)
	return chat, nil
}

func (s *stubChatRepo) UpdateLastMessage(_ context.Context, chatID string, lm model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMessages[chatID] = lm
	return nil
}

// SetIdentityRequested mirrors the conditional document update: it only
// matches a participant whose identity is still hidden.
func (s *stubChatRepo) SetIdentityRequested(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return repo.ErrChatNotFound
	}
	idx := chat.ParticipantIndex(userID)
	if idx == -1 || chat.Participants[idx].IdentityRevealed {
		return repo.ErrAlreadyRevealed
	}
	chat.Participants[idx].IdentityRequested = true
	return nil
}

func (s *stubChatRepo) RevealAll(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return repo.ErrChatNotFound
	}
	for i := range chat.Participants {
		chat.Participants[i].IdentityRevealed = true
	}
	return nil
}

type stubMessageRepo struct {
	mu        sync.Mutex
	inserted  []model.Message
	insertErr error
}

func (s *stubMessageRepo) Insert(_ context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	msg.ID = primitive.NewObjectID()
	s.inserted = append(s.inserted, *msg)
	return msg, nil
}

func (s *stubMessageRepo) ListByChat(context.Context, string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.inserted...), nil
}

func (s *stubMessageRepo) MarkRead(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (s *stubMessageRepo) countByText(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.inserted {
		if m.Text == text {
			n++
		}
	}
	return n
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (r *recordingBroadcaster) BroadcastMessage(msg *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, *msg)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestService(chats repo.ChatRepository, messages repo.MessageRepository, b Broadcaster) ChatService {
	return NewChatService(chats, messages, b, lock.NewKeyedMutex(), zap.NewNop())
}

func anonymousChat(users ...string) *model.Chat {
	chat := &model.Chat{
		ID:          primitive.NewObjectID(),
		Status:      model.ChatStatusActive,
		IsAnonymous: true,
	}
	roles := []string{model.RoleRequester, model.RoleDonor}
	for i, u := range users {
		chat.Participants = append(chat.Participants, model.Participant{
			UserID: u,
			Role:   roles[i%len(roles)],
		})
	}
	return chat
}

// -----------------------------------------------------------------
// Chat creation
// -----------------------------------------------------------------

func TestChatService_CreateChat(t *testing.T) {
	ctx := context.Background()
	participants := []model.Participant{
		{UserID: "alice", Role: model.RoleRequester},
		{UserID: "bob", Role: model.RoleDonor},
	}
	chatCtx := model.ChatContext{ItemID: "item-1", Kind: model.ContextPostRequest}

	t.Run("creates new chat", func(t *testing.T) {
		chats := newStubChatRepo()
		svc := newTestService(chats, &stubMessageRepo{}, &recordingBroadcaster{})

		chat, created, err := svc.CreateChat(ctx, participants, chatCtx)
		require.NoError(t, err)
		assert.True(t, created)
		assert.False(t, chat.ID.IsZero())
		assert.Equal(t, model.ChatStatusActive, chat.Status)
		assert.True(t, chat.IsAnonymous)
		require.NotNil(t, chat.ExpiresAt)
	})

	t.Run("returns existing chat for the same pair and context", func(t *testing.T) {
		existing := anonymousChat("alice", "bob")
		chats := newStubChatRepo(existing)
		chats.existing = existing
		svc := newTestService(chats, &stubMessageRepo{}, &recordingBroadcaster{})

		chat, created, err := svc.CreateChat(ctx, participants, chatCtx)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, chat.ID)
	})

	t.Run("rejects invalid participant sets", func(t *testing.T) {
		svc := newTestService(newStubChatRepo(), &stubMessageRepo{}, &recordingBroadcaster{})

		_, _, err := svc.CreateChat(ctx, participants[:1], chatCtx)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, _, err = svc.CreateChat(ctx, []model.Participant{
			{UserID: "alice"}, {UserID: "alice"},
		}, chatCtx)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, _, err = svc.CreateChat(ctx, []model.Participant{
			{UserID: "alice"}, {UserID: ""},
		}, chatCtx)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestChatService_GetMessages_UnknownChat(t *testing.T) {
	svc := newTestService(newStubChatRepo(), &stubMessageRepo{}, &recordingBroadcaster{})

	_, err := svc.GetMessages(context.Background(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, repo.ErrChatNotFound)
}

// -----------------------------------------------------------------
// HTTP message path
// -----------------------------------------------------------------

func TestChatService_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("persists, updates summary and broadcasts", func(t *testing.T) {
		chat := anonymousChat("alice", "bob")
		chats := newStubChatRepo(chat)
		messages := &stubMessageRepo{}
		b := &recordingBroadcaster{}
		svc := newTestService(chats, messages, b)

		msg, err := svc.SendMessage(ctx, chat.ID.Hex(), "alice", "hello", "", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, msg.ReadBy)
		assert.Equal(t, model.KindText, msg.Kind)
		assert.False(t, msg.ID.IsZero())
		assert.Equal(t, "hello", chats.lastMessages[chat.ID.Hex()].Text)
		assert.Equal(t, 1, b.count())
	})

	t.Run("image without text gets the placeholder", func(t *testing.T) {
		chat := anonymousChat("alice", "bob")
		svc := newTestService(newStubChatRepo(chat), &stubMessageRepo{}, &recordingBroadcaster{})

		msg, err := svc.SendMessage(ctx, chat.ID.Hex(), "alice", "", model.KindImage, "https://cdn.example/i.png")
		require.NoError(t, err)
		assert.Equal(t, model.ImagePlaceholder, msg.Text)
		assert.Equal(t, "https://cdn.example/i.png", msg.MediaURL)
	})

	t.Run("blocks contact info with the violation list", func(t *testing.T) {
		chat := anonymousChat("alice", "bob")
		messages := &stubMessageRepo{}
		b := &recordingBroadcaster{}
		svc := newTestService(newStubChatRepo(chat), messages, b)

		_, err := svc.SendMessage(ctx, chat.ID.Hex(), "alice", "call me at 555-123-4567", "", "")

		var blocked *BlockedError
		require.ErrorAs(t, err, &blocked)
		assert.NotEmpty(t, blocked.Reason)
		assert.NotEmpty(t, blocked.Violations)
		assert.Empty(t, messages.inserted)
		assert.Zero(t, b.count())
	})

	t.Run("rejects expired chats", func(t *testing.T) {
		chat := anonymousChat("alice", "bob")
		chat.Status = model.ChatStatusExpired
		svc := newTestService(newStubChatRepo(chat), &stubMessageRepo{}, &recordingBroadcaster{})

		_, err := svc.SendMessage(ctx, chat.ID.Hex(), "alice", "hello", "", "")
		assert.ErrorIs(t, err, ErrChatExpired)
	})

	t.Run("rejects non-participants", func(t *testing.T) {
		chat := anonymousChat("alice", "bob")
		svc := newTestService(newStubChatRepo(chat), &stubMessageRepo{}, &recordingBroadcaster{})

		_, err := svc.SendMessage(ctx, chat.ID.Hex(), "charlie", "hello", "", "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("does not broadcast when persistence fails", func(t *testing.T) {
		chat := anonymousChat("alice", "bob")
		messages := &stubMessageRepo{insertErr: errors.New("mongo down")}
		b := &recordingBroadcaster{}
		svc := newTestService(newStubChatRepo(chat), messages, b)

		_, err := svc.SendMessage(ctx, chat.ID.Hex(), "alice", "hello", "", "")
		require.Error(t, err)
		assert.Zero(t, b.count())
	})
}

// -----------------------------------------------------------------
// Identity reveal
// -----------------------------------------------------------------

func TestChatService_RequestReveal_TwoStep(t *testing.T) {
	ctx := context.Background()
	chat := anonymousChat("alice", "bob")
	chats := newStubChatRepo(chat)
	messages := &stubMessageRepo{}
	b := &recordingBroadcaster{}
	svc := newTestService(chats, messages, b)

	// First consent: pending, nothing revealed yet.
	updated, err := svc.RequestReveal(ctx, chat.ID.Hex(), "alice", "request")
	require.NoError(t, err)
	assert.True(t, updated.Participants[updated.ParticipantIndex("alice")].IdentityRequested)
	assert.False(t, updated.Participants[updated.ParticipantIndex("alice")].IdentityRevealed)
	assert.False(t, updated.Participants[updated.ParticipantIndex("bob")].IdentityRevealed)
	assert.Equal(t, 1, messages.countByText("User has requested to share identities. Waiting for mutual consent."))

	// Second consent completes the reveal for both.
	updated, err = svc.RequestReveal(ctx, chat.ID.Hex(), "bob", "request")
	require.NoError(t, err)
	for _, p := range updated.Participants {
		assert.True(t, p.IdentityRevealed, "participant %s", p.UserID)
	}
	assert.Equal(t, 1, messages.countByText("Identity revealed by mutual consent. You can now see each other's names."))

	// Both system messages reached the live room.
	assert.Equal(t, 2, b.count())
	for _, m := range messages.inserted {
		assert.Equal(t, model.SystemSender, m.SenderID)
		assert.Equal(t, model.KindSystem, m.Kind)
	}
}

func TestChatService_RequestReveal_Validation(t *testing.T) {
	ctx := context.Background()
	chat := anonymousChat("alice", "bob")
	svc := newTestService(newStubChatRepo(chat), &stubMessageRepo{}, &recordingBroadcaster{})

	_, err := svc.RequestReveal(ctx, chat.ID.Hex(), "alice", "revoke")
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = svc.RequestReveal(ctx, chat.ID.Hex(), "charlie", "request")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.RequestReveal(ctx, primitive.NewObjectID().Hex(), "alice", "request")
	assert.ErrorIs(t, err, repo.ErrChatNotFound)
}

func TestChatService_RequestReveal_AlreadyRevealed(t *testing.T) {
	ctx := context.Background()
	chat := anonymousChat("alice", "bob")
	chats := newStubChatRepo(chat)
	svc := newTestService(chats, &stubMessageRepo{}, &recordingBroadcaster{})

	_, err := svc.RequestReveal(ctx, chat.ID.Hex(), "alice", "request")
	require.NoError(t, err)
	_, err = svc.RequestReveal(ctx, chat.ID.Hex(), "bob", "request")
	require.NoError(t, err)

	// A third request against a revealed chat is a conflict.
	_, err = svc.RequestReveal(ctx, chat.ID.Hex(), "alice", "request")
	assert.ErrorIs(t, err, repo.ErrAlreadyRevealed)
}

func TestChatService_RequestReveal_ConcurrentMutualConsent(t *testing.T) {
	ctx := context.Background()
	chat := anonymousChat("alice", "bob")
	chats := newStubChatRepo(chat)
	messages := &stubMessageRepo{}
	svc := newTestService(chats, messages, &recordingBroadcaster{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = svc.RequestReveal(ctx, chat.ID.Hex(), user, "request")
		}(i, user)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	final, err := svc.RequestReveal(ctx, chat.ID.Hex(), "alice", "request")
	assert.ErrorIs(t, err, repo.ErrAlreadyRevealed)
	assert.Nil(t, final)

	stored, err := chats.FindByID(ctx, chat.ID.Hex())
	require.NoError(t, err)
	for _, p := range stored.Participants {
		assert.True(t, p.IdentityRevealed, "participant %s", p.UserID)
	}

	// Exactly one reveal announcement no matter the interleaving.
	assert.Equal(t, 1, messages.countByText("Identity revealed by mutual consent. You can now see each other's names."))
	assert.Equal(t, 1, messages.countByText("User has requested to share identities. Waiting for mutual consent."))
}
