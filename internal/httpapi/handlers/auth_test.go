package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/loomchat/loomchat/internal/auth"
	"github.com/loomchat/loomchat/internal/config"
	"github.com/loomchat/loomchat/internal/models"
	"github.com/loomchat/loomchat/internal/users"
	"gorm.io/gorm"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	h := NewHandler(config.Config{JWTSecret: "test-secret"}, nil, users.NewRepo(db), slog.Default())
	r := gin.New()
	r.POST("/auth/guest", h.GuestLogin)
	r.POST("/auth/login", h.Login)
	return r, db
}

type authResp struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Type  string `json:"type"`
	} `json:"user"`
}

func TestGuestLogin_BackToBackSignups(t *testing.T) {
	r, _ := newAuthRouter(t)

	seenIDs := map[string]bool{}
	seenEmails := map[string]bool{}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/guest", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("signup %d: status %d, body %s", i, w.Code, w.Body.String())
		}

		var resp authResp
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("signup %d: decode: %v", i, err)
		}
		if resp.Token == "" {
			t.Fatalf("signup %d: empty token", i)
		}
		if resp.User.Type != string(models.UserTypeGuest) {
			t.Fatalf("signup %d: type = %s", i, resp.User.Type)
		}
		if seenIDs[resp.User.ID] || seenEmails[resp.User.Email] {
			t.Fatalf("signup %d: duplicate identity %s / %s", i, resp.User.ID, resp.User.Email)
		}
		seenIDs[resp.User.ID] = true
		seenEmails[resp.User.Email] = true
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	r, db := newAuthRouter(t)

	hash, err := auth.HashPassword("right-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := db.Create(&models.User{
		ID:           "01KNOWNUSER00000000000000X",
		Email:        "known@example.com",
		Username:     "known",
		PasswordHash: hash,
		Type:         models.UserTypeRegular,
	}).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	cases := []struct {
		name string
		body string
	}{
		{"unknown email", `{"email":"nobody@example.com","password":"whatever"}`},
		{"wrong password", `{"email":"known@example.com","password":"wrong"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestLogin_Success(t *testing.T) {
	r, db := newAuthRouter(t)

	hash, err := auth.HashPassword("right-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := db.Create(&models.User{
		ID:           "01KNOWNUSER00000000000000X",
		Email:        "known@example.com",
		Username:     "known",
		PasswordHash: hash,
		Type:         models.UserTypeRegular,
	}).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		bytes.NewBufferString(`{"email":"known@example.com","password":"right-password"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp authResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := auth.ParseJWT(resp.Token, "test-secret")
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != "01KNOWNUSER00000000000000X" {
		t.Fatalf("token uid = %s", claims.UserID)
	}
}
