package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loomchat/loomchat/internal/auth"
	"github.com/loomchat/loomchat/internal/common"
	"github.com/loomchat/loomchat/internal/errs"
	"github.com/loomchat/loomchat/internal/httpapi/middleware"
	"github.com/loomchat/loomchat/internal/models"
	"gorm.io/gorm"
)

const tokenTTL = 30 * 24 * time.Hour

// GuestLogin mints a throwaway account with an unguessable password and
// returns a token for it. No request body.
func (h *Handler) GuestLogin(c *gin.Context) {
	id, err := common.NewULID()
	if err != nil {
		common.Fail(c, errs.Internal, "failed to create guest")
		return
	}
	// keyed by the ULID so back-to-back signups never collide on the
	// unique email index
	email := fmt.Sprintf("guest-%s@guest.local", strings.ToLower(id))

	pw := make([]byte, 16)
	if _, err := rand.Read(pw); err != nil {
		common.Fail(c, errs.Internal, "failed to create guest")
		return
	}
	hash, err := auth.HashPassword(hex.EncodeToString(pw))
	if err != nil {
		common.Fail(c, errs.Internal, "failed to create guest")
		return
	}

	u := &models.User{
		ID:           id,
		Email:        email,
		Username:     "guest-" + id,
		PasswordHash: hash,
		Type:         models.UserTypeGuest,
	}
	if err := h.Users.Create(c.Request.Context(), u); err != nil {
		h.Log.Error("guest create failed", "err", err)
		common.Fail(c, errs.Internal, "failed to create guest")
		return
	}

	token, err := auth.SignJWT(u.ID, u.Type, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, errs.Internal, "failed to sign token")
		return
	}
	common.OK(c, gin.H{
		"token": token,
		"user":  gin.H{"id": u.ID, "email": u.Email, "type": u.Type},
	})
}

// Me returns the authenticated user's account.
func (h *Handler) Me(c *gin.Context) {
	user, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, errs.Unauthorized, "unauthorized")
		return
	}

	u, err := h.Users.GetByID(c.Request.Context(), user.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, errs.NotFound, "user not found")
			return
		}
		h.Log.Error("user lookup failed", "err", err)
		common.Fail(c, errs.Internal, "failed to load user")
		return
	}
	common.OK(c, gin.H{
		"id":       u.ID,
		"email":    u.Email,
		"username": u.Username,
		"type":     u.Type,
	})
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates by email and password. An unknown email burns a
// bcrypt compare so the response time does not reveal whether the account
// exists.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, errs.BadRequest, "email and password are required")
		return
	}

	u, err := h.Users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			auth.BurnPassword(req.Password)
			common.Fail(c, errs.Unauthorized, "invalid credentials")
			return
		}
		h.Log.Error("login lookup failed", "err", err)
		common.Fail(c, errs.Internal, "login failed")
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		common.Fail(c, errs.Unauthorized, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(u.ID, u.Type, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, errs.Internal, "failed to sign token")
		return
	}
	common.OK(c, gin.H{
		"token": token,
		"user":  gin.H{"id": u.ID, "email": u.Email, "type": u.Type},
	})
}
