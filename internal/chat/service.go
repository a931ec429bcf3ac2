package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomchat/loomchat/internal/ai"
	"github.com/loomchat/loomchat/internal/entitlements"
	"github.com/loomchat/loomchat/internal/errs"
	"github.com/loomchat/loomchat/internal/models"
	"github.com/loomchat/loomchat/internal/stream"
	"gorm.io/gorm"
)

// Identity is the authenticated requester, produced by the auth
// collaborator and immutable for the request's lifetime.
type Identity struct {
	UserID string
	Type   models.UserType
}

// TitlePublisher hands chat-title generation off to the background worker.
type TitlePublisher interface {
	PublishTitleJob(ctx context.Context, chatID, message string) error
}

type Service struct {
	repo     *Repo
	registry *ai.Registry
	engine   *ai.Engine
	mux      *stream.Mux
	ents     entitlements.Entitlements
	tools    ai.ToolSet
	titles   TitlePublisher // nil disables async titles
	log      *slog.Logger

	providerName string
	turnTimeout  time.Duration
}

type Options struct {
	Repo         *Repo
	Registry     *ai.Registry
	Engine       *ai.Engine
	Mux          *stream.Mux
	Entitlements entitlements.Entitlements
	Tools        ai.ToolSet
	Titles       TitlePublisher
	Logger       *slog.Logger
	ProviderName string
	TurnTimeout  time.Duration
}

func NewService(opts Options) *Service {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:         opts.Repo,
		registry:     opts.Registry,
		engine:       opts.Engine,
		mux:          opts.Mux,
		ents:         opts.Entitlements,
		tools:        opts.Tools,
		titles:       opts.Titles,
		log:          opts.Logger,
		providerName: opts.ProviderName,
		turnTimeout:  opts.TurnTimeout,
	}
}

type IncomingMessage struct {
	ID          string
	Parts       []ai.Part
	Attachments []Attachment
}

type TurnInput struct {
	ChatID     string
	Message    IncomingMessage
	Model      string
	Visibility Visibility
	Hints      ai.RequestHints
}

// SubmitTurn runs the full turn lifecycle and returns a subscription to
// its output stream plus the stream id. All validation and authorization
// happens before any mutation; once the subscription is returned the turn
// runs to completion server-side regardless of the caller's context.
func (s *Service) SubmitTurn(ctx context.Context, user Identity, in TurnInput) (*stream.Subscription, string, error) {
	if user.UserID == "" {
		return nil, "", errs.New(errs.Unauthorized, "chat", "authentication required")
	}
	if err := validateTurnInput(&in); err != nil {
		return nil, "", err
	}

	quota, err := entitlements.CheckQuota(ctx, s.repo, s.ents, user.UserID, user.Type)
	if err != nil {
		// fail closed: an unreadable count is a backend failure, not a quota hit
		return nil, "", errs.Wrap(errs.Offline, "chat", "message quota unavailable", err)
	}
	if !quota.Allowed {
		return nil, "", errs.New(errs.RateLimit, "chat", "daily message limit reached")
	}

	chat, err := s.loadOrCreateChat(ctx, user, in)
	if err != nil {
		return nil, "", err
	}

	history, err := s.repo.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, "", errs.Wrap(errs.Internal, "chat", "failed to load history", err)
	}

	userMsg := Message{
		ID:          in.Message.ID,
		ChatID:      chat.ID,
		Role:        RoleUser,
		Parts:       in.Message.Parts,
		Attachments: in.Message.Attachments,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.AppendMessages(ctx, []Message{userMsg}); err != nil {
		return nil, "", errs.Wrap(errs.Internal, "chat", "failed to persist message", err)
	}

	streamID := uuid.NewString()
	if err := s.repo.CreateStreamRecord(ctx, streamID, chat.ID); err != nil {
		return nil, "", errs.Wrap(errs.Internal, "chat", "failed to allocate stream", err)
	}
	st := s.mux.Open(streamID)

	// The transport context must not cancel generation; the turn finishes
	// server-side so the persisted message and usage stay consistent even
	// if the client is gone. Only the wall-clock budget bounds it.
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.turnTimeout)
	go func() {
		defer cancel()
		s.runTurn(turnCtx, st, chat, append(history, userMsg), in)
	}()

	sub, err := s.mux.Subscribe(ctx, streamID)
	if err != nil {
		return nil, "", errs.Wrap(errs.Internal, "stream", "failed to attach", err)
	}
	return sub, streamID, nil
}

func validateTurnInput(in *TurnInput) error {
	if in.ChatID == "" {
		return errs.New(errs.BadRequest, "chat", "chat id is required")
	}
	if _, err := uuid.Parse(in.ChatID); err != nil {
		return errs.New(errs.BadRequest, "chat", "chat id must be a UUID")
	}
	if len(in.Message.Parts) == 0 || strings.TrimSpace(ai.TextOf(in.Message.Parts)) == "" {
		return errs.New(errs.BadRequest, "chat", "message text is required")
	}
	if in.Message.ID == "" {
		in.Message.ID = uuid.NewString()
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPrivate
	}
	if in.Visibility != VisibilityPrivate && in.Visibility != VisibilityPublic {
		return errs.New(errs.BadRequest, "chat", "invalid visibility")
	}
	return nil
}

// loadOrCreateChat implements the create-or-continue branch. Creation is
// idempotent on the client-supplied id: a concurrent duplicate resolves to
// the surviving row, which still must pass the ownership check.
func (s *Service) loadOrCreateChat(ctx context.Context, user Identity, in TurnInput) (*Chat, error) {
	chat, err := s.repo.GetChat(ctx, in.ChatID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Wrap(errs.Internal, "chat", "failed to load chat", err)
	}

	if chat == nil {
		firstText := ai.TextOf(in.Message.Parts)
		chat = &Chat{
			ID:         in.ChatID,
			UserID:     user.UserID,
			Title:      ai.FallbackTitle(firstText),
			Visibility: in.Visibility,
		}
		switch createErr := s.repo.CreateChat(ctx, chat); {
		case createErr == nil:
			s.enqueueTitle(ctx, chat.ID, firstText)
		case errors.Is(createErr, ErrChatExists):
			if chat, err = s.repo.GetChat(ctx, in.ChatID); err != nil {
				return nil, errs.Wrap(errs.Internal, "chat", "failed to load chat", err)
			}
		default:
			return nil, errs.Wrap(errs.Internal, "chat", "failed to create chat", createErr)
		}
	}

	if chat.UserID != user.UserID {
		return nil, errs.New(errs.Forbidden, "chat", "not the chat owner")
	}
	return chat, nil
}

func (s *Service) enqueueTitle(ctx context.Context, chatID, message string) {
	if s.titles == nil {
		return
	}
	if err := s.titles.PublishTitleJob(ctx, chatID, message); err != nil {
		// the placeholder title stands; not worth failing the turn
		s.log.Warn("title job enqueue failed", "chat_id", chatID, "err", err)
	}
}

// runTurn drives generation and owns final persistence. It always closes
// the stream.
func (s *Service) runTurn(ctx context.Context, st *stream.Stream, chat *Chat, history []Message, in TurnInput) {
	defer st.Close()

	// emit holds the lock across Publish so the accumulated slice and the
	// stream's replay buffer see parts in the same order even when tools
	// emit concurrently
	var mu sync.Mutex
	var streamed []ai.Part
	emit := func(p ai.Part) {
		mu.Lock()
		streamed = append(streamed, p)
		st.Publish(p)
		mu.Unlock()
	}

	usage, genErr := s.generate(ctx, history, in, emit)

	// the turn context may already be expired (wall-clock budget); what
	// streamed still gets persisted
	pctx := context.WithoutCancel(ctx)

	mu.Lock()
	assembled := ai.CoalesceParts(streamed)
	mu.Unlock()

	if genErr != nil {
		// headers are committed by now; surface the failure in-stream
		st.Publish(ai.Part{Type: ai.PartError, Message: publicErrMessage(genErr)})
		s.log.Error("generation failed", "chat_id", chat.ID, "stream_id", st.ID(), "err", genErr)
		if len(assembled) == 0 {
			return
		}
	}

	assistantMsg := Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      RoleAssistant,
		Parts:     assembled,
		CreatedAt: time.Now(),
	}
	if err := s.repo.AppendMessages(pctx, []Message{assistantMsg}); err != nil {
		st.Publish(ai.Part{Type: ai.PartError, Message: "failed to persist response"})
		s.log.Error("assistant message persist failed", "chat_id", chat.ID, "err", err)
		return
	}

	if genErr == nil {
		if err := s.repo.SetLastUsage(pctx, chat.ID, &usage); err != nil {
			// non-fatal: losing a usage annotation never fails the turn
			s.log.Warn("unable to persist last usage", "chat_id", chat.ID, "err", err)
		}
		st.Publish(ai.Part{Type: ai.PartFinish})
	}
}

func (s *Service) generate(ctx context.Context, history []Message, in TurnInput, emit func(ai.Part)) (ai.Usage, error) {
	provider, err := s.registry.Get(ctx, s.providerName, in.Model)
	if err != nil {
		return ai.Usage{}, err
	}
	sp, ok := provider.(ai.StreamProvider)
	if !ok {
		return ai.Usage{}, errors.New("provider does not support streaming")
	}

	// a reasoning-only model runs with every tool disabled
	toolSet := s.tools
	if ai.IsReasoningModel(in.Model) {
		toolSet = nil
	}

	return s.engine.Generate(ctx, sp, ai.GenerateRequest{
		Model:    in.Model,
		System:   ai.SystemPrompt(in.Hints),
		Messages: toProviderMessages(history),
		Tools:    toolSet,
	}, emit)
}

// toProviderMessages flattens persisted parts into provider messages.
func toProviderMessages(history []Message) []ai.Message {
	out := make([]ai.Message, 0, len(history))
	for _, m := range history {
		text := ai.TextOf(m.Parts)
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, ai.Message{Role: m.Role, Content: text})
	}
	return out
}

func publicErrMessage(err error) string {
	if isNetworkErr(err) {
		return "generation backend unreachable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "generation timed out"
	}
	return "generation failed"
}

func isNetworkErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Resume attaches to the chat's most recent stream: the full replay buffer
// followed by any still-arriving live parts.
func (s *Service) Resume(ctx context.Context, user Identity, chatID string) (*stream.Subscription, error) {
	chat, err := s.authorizeRead(ctx, user, chatID)
	if err != nil {
		return nil, err
	}

	streamID, err := s.repo.LatestStreamID(ctx, chat.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.NotFound, "stream", "no stream for chat")
		}
		return nil, errs.Wrap(errs.Internal, "stream", "failed to look up stream", err)
	}

	sub, err := s.mux.Subscribe(ctx, streamID)
	if err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			return nil, errs.New(errs.NotFound, "stream", "stream expired")
		}
		return nil, errs.Wrap(errs.Internal, "stream", "failed to attach", err)
	}
	return sub, nil
}

// History lists the chat's messages oldest first. Public chats are
// readable by anyone authenticated; private chats only by their owner.
func (s *Service) History(ctx context.Context, user Identity, chatID string) ([]Message, error) {
	if _, err := s.authorizeRead(ctx, user, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "chat", "failed to list messages", err)
	}
	return msgs, nil
}

// DeleteChat verifies existence, then ownership, then deletes. A non-owner
// gets forbidden, never a silent not-found.
func (s *Service) DeleteChat(ctx context.Context, user Identity, chatID string) (string, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errs.New(errs.NotFound, "chat", "chat not found")
		}
		return "", errs.Wrap(errs.Internal, "chat", "failed to load chat", err)
	}
	if chat.UserID != user.UserID {
		return "", errs.New(errs.Forbidden, "chat", "not the chat owner")
	}
	if err := s.repo.DeleteChat(ctx, chatID); err != nil {
		return "", errs.Wrap(errs.Internal, "chat", "failed to delete chat", err)
	}
	return chat.ID, nil
}

func (s *Service) authorizeRead(ctx context.Context, user Identity, chatID string) (*Chat, error) {
	if user.UserID == "" {
		return nil, errs.New(errs.Unauthorized, "chat", "authentication required")
	}
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.NotFound, "chat", "chat not found")
		}
		return nil, errs.Wrap(errs.Internal, "chat", "failed to load chat", err)
	}
	if chat.UserID != user.UserID && chat.Visibility != VisibilityPublic {
		return nil, errs.New(errs.Forbidden, "chat", "not the chat owner")
	}
	return chat, nil
}
