package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/loomchat/loomchat/internal/ai"
	"github.com/loomchat/loomchat/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &Chat{}, &Message{}, &StreamRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustCreateChat(t *testing.T, repo *Repo, userID string) *Chat {
	t.Helper()
	c := &Chat{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      "test chat",
		Visibility: VisibilityPrivate,
	}
	if err := repo.CreateChat(context.Background(), c); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func textMsg(chatID, role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Parts:     []ai.Part{{Type: ai.PartText, Text: text}},
		CreatedAt: time.Now(),
	}
}

func TestCreateChat_DuplicateID(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	c := mustCreateChat(t, repo, "user-1")

	dup := &Chat{ID: c.ID, UserID: "user-2", Title: "other"}
	err := repo.CreateChat(context.Background(), dup)
	if !errors.Is(err, ErrChatExists) {
		t.Fatalf("want ErrChatExists, got %v", err)
	}

	got, err := repo.GetChat(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.UserID != "user-1" {
		t.Fatalf("duplicate create overwrote owner: %s", got.UserID)
	}
}

func TestAppendMessages_PreservesOrder(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	c := mustCreateChat(t, repo, "user-1")

	var batch []Message
	for i := 0; i < 5; i++ {
		batch = append(batch, textMsg(c.ID, RoleUser, fmt.Sprintf("msg-%d", i)))
	}
	if err := repo.AppendMessages(context.Background(), batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := repo.ListMessages(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("want 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		want := fmt.Sprintf("msg-%d", i)
		if got := ai.TextOf(m.Parts); got != want {
			t.Fatalf("position %d: want %q, got %q", i, want, got)
		}
	}
}

func TestCountUserMessagesSince_WindowAndRole(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	c := mustCreateChat(t, repo, "user-1")
	other := mustCreateChat(t, repo, "user-2")

	old := textMsg(c.ID, RoleUser, "stale")
	old.CreatedAt = time.Now().Add(-25 * time.Hour)

	batch := []Message{
		old,
		textMsg(c.ID, RoleUser, "recent"),
		textMsg(c.ID, RoleAssistant, "reply"),
		textMsg(other.ID, RoleUser, "someone else"),
	}
	if err := repo.AppendMessages(context.Background(), batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := repo.CountUserMessagesSince(context.Background(), "user-1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 in-window user message, got %d", n)
	}
}

func TestDeleteChat_Cascades(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	c := mustCreateChat(t, repo, "user-1")
	ctx := context.Background()

	if err := repo.AppendMessages(ctx, []Message{textMsg(c.ID, RoleUser, "hi")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.CreateStreamRecord(ctx, uuid.NewString(), c.ID); err != nil {
		t.Fatalf("stream record: %v", err)
	}

	if err := repo.DeleteChat(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := repo.GetChat(ctx, c.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("chat still present after delete: %v", err)
	}
	msgs, err := repo.ListMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived delete: %d", len(msgs))
	}
	if _, err := repo.LatestStreamID(ctx, c.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("stream record survived delete: %v", err)
	}
}

func TestLatestStreamID_MostRecent(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	c := mustCreateChat(t, repo, "user-1")
	ctx := context.Background()

	first := uuid.NewString()
	second := uuid.NewString()
	if err := repo.db.Create(&StreamRecord{ID: first, ChatID: c.ID, CreatedAt: time.Now().Add(-time.Minute)}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.db.Create(&StreamRecord{ID: second, ChatID: c.ID, CreatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.LatestStreamID(ctx, c.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != second {
		t.Fatalf("want %s, got %s", second, got)
	}
}

func TestSetLastUsage_RoundTrip(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	c := mustCreateChat(t, repo, "user-1")
	ctx := context.Background()

	usage := &ai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
	if err := repo.SetLastUsage(ctx, c.ID, usage); err != nil {
		t.Fatalf("set usage: %v", err)
	}

	got, err := repo.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastContext == nil || got.LastContext.TotalTokens != 30 {
		t.Fatalf("usage not persisted: %+v", got.LastContext)
	}
}
