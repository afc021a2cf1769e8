package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
	"github.com/PaulBabatuyi/marketchat/internal/config"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/logging"
	"github.com/PaulBabatuyi/marketchat/internal/middleware"
	"github.com/PaulBabatuyi/marketchat/internal/normalize"
)

const (
	maxRequestBytes   = 64 << 10
	minPasswordLength = 8
)

type credentialsRequest struct {
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     data.Role `json:"role"`
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegister handles user registration: hashes password, stores user,
// starts a session
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := normalize.Email(req.Email)
	if !strings.Contains(email, "@") {
		middleware.WriteError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
		return
	}
	if req.Role == "" {
		req.Role = data.RoleCustomer
	}
	if !req.Role.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, "role must be CUSTOMER or VENDOR")
		return
	}

	// Hash password using auth utility
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		s.internalError(w, r, "hash password", err)
		return
	}

	user, err := s.store.CreateUser(r.Context(), email, hashed, req.Role)
	if errors.Is(err, data.ErrUserExists) {
		middleware.WriteError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		s.internalError(w, r, "create user", err)
		return
	}

	if !s.startSession(w, r, user) {
		return
	}
	logging.FromContext(r.Context(), s.logger).Info("user registered", "user_id", user.ID, "role", user.Role)
	middleware.WriteJSON(w, http.StatusCreated, toViewer(user))
}

// handleLogin authenticates a user and starts a session
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Unknown accounts and wrong passwords look the same to the caller
	user, err := s.store.GetUserByEmail(r.Context(), normalize.Email(req.Email))
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.internalError(w, r, "lookup user", err)
		return
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.startSession(w, r, user) {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toViewer(user))
}

// handleLogout clears the session cookie. It needs no session of its own.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the viewer behind the session.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	middleware.WriteJSON(w, http.StatusOK, chatsync.Viewer{
		ID:    claims.UserID,
		Email: claims.Email,
		Role:  chatsync.Role(claims.Role),
	})
}

// handleCSRF mints an anti-forgery token bound to the current session.
func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	token, err := s.auth.GenerateCSRF(claims)
	if err != nil {
		s.internalError(w, r, "generate csrf token", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleOpenConversation finds or creates the viewer's conversation for a
// product or shop. Repeated calls with the same context return the same
// conversation.
func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if data.Role(claims.Role) != data.RoleCustomer {
		middleware.WriteError(w, http.StatusForbidden, "only customers can open conversations")
		return
	}

	var anchor chatsync.Anchor
	if err := decodeJSON(w, r, &anchor, true); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := s.conversationKey(r, claims.UserID, anchor)
	if errors.Is(err, config.ErrNoVendor) {
		s.metrics.ConversationsOpened.WithLabelValues("no_vendor").Inc()
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.metrics.ConversationsOpened.WithLabelValues("error").Inc()
		s.internalError(w, r, "resolve vendor", err)
		return
	}

	conv, err := s.store.FindOrCreateConversation(r.Context(), key)
	if err != nil {
		s.metrics.ConversationsOpened.WithLabelValues("error").Inc()
		s.internalError(w, r, "find or create conversation", err)
		return
	}
	s.metrics.ConversationsOpened.WithLabelValues("ok").Inc()
	middleware.WriteJSON(w, http.StatusOK, toConversation(conv))
}

// conversationKey resolves the vendor for anchor through the catalog. The
// catalog's vendorId may name the vendor by user id or by email.
func (s *Server) conversationKey(r *http.Request, customerID string, anchor chatsync.Anchor) (data.ConversationKey, error) {
	productID := normalize.ID(anchor.ProductID)
	vendorRef, shopID, err := s.catalog.ResolveVendor(productID, normalize.ID(anchor.ShopID))
	if err != nil {
		return data.ConversationKey{}, err
	}

	ctx := r.Context()
	vendor, err := s.store.GetUserByID(ctx, vendorRef)
	if errors.Is(err, data.ErrNotFound) {
		vendor, err = s.store.GetUserByEmail(ctx, normalize.Email(vendorRef))
	}
	if errors.Is(err, data.ErrNotFound) {
		return data.ConversationKey{}, fmt.Errorf("%w: vendor %q has no account", config.ErrNoVendor, vendorRef)
	}
	if err != nil {
		return data.ConversationKey{}, err
	}
	if vendor.Role != data.RoleVendor {
		return data.ConversationKey{}, fmt.Errorf("%w: %q is not a vendor account", config.ErrNoVendor, vendorRef)
	}

	return data.ConversationKey{
		CustomerID: customerID,
		VendorID:   vendor.ID,
		ProductID:  productID,
		ShopID:     shopID,
	}, nil
}

// handleListConversations returns the viewer's conversations, most recent
// activity first, each with its latest message.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	convs, err := s.store.ListConversations(r.Context(), claims.UserID)
	if err != nil {
		s.internalError(w, r, "list conversations", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, items[chatsync.Conversation]{Items: toConversations(convs)})
}

// handleListMessages returns messages created strictly after the optional
// "after" timestamp, oldest first.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	conv, ok := s.participantConversation(w, r, claims)
	if !ok {
		return
	}

	var after *time.Time
	if raw := r.URL.Query().Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "after must be an RFC 3339 timestamp")
			return
		}
		after = &t
	}

	msgs, err := s.store.ListMessagesSince(r.Context(), conv.ID, after)
	if err != nil {
		s.internalError(w, r, "list messages", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, items[chatsync.Message]{Items: toMessages(msgs)})
}

type messageRequest struct {
	Body string `json:"body"`
}

// handlePostMessage appends a message from the viewer and returns the
// stored copy.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	conv, ok := s.participantConversation(w, r, claims)
	if !ok {
		return
	}

	var req messageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body, ok := normalize.Body(req.Body)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("body must be 1 to %d characters", normalize.MaxBodyRunes))
		return
	}

	msg, err := s.store.SaveMessage(r.Context(), conv.ID, claims.UserID, body, s.now())
	if err != nil {
		s.internalError(w, r, "save message", err)
		return
	}
	s.metrics.MessagesSent.WithLabelValues(claims.Role).Inc()
	middleware.WriteJSON(w, http.StatusCreated, toMessage(msg))
}

// handleMarkRead moves the viewer's read position to now.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	conv, ok := s.participantConversation(w, r, claims)
	if !ok {
		return
	}
	if err := s.store.MarkRead(r.Context(), conv.ID, claims.UserID, s.now()); err != nil {
		s.internalError(w, r, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// participantConversation loads the {id} conversation and checks the
// viewer takes part in it. On failure the response is already written.
func (s *Server) participantConversation(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (*data.Conversation, bool) {
	id := normalize.ID(mux.Vars(r)["id"])
	conv, err := s.store.GetConversation(r.Context(), id)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, "get conversation", err)
		return nil, false
	}
	if !conv.HasParticipant(claims.UserID) {
		middleware.WriteError(w, http.StatusForbidden, "not a participant in this conversation")
		return nil, false
	}
	return conv, true
}

// startSession issues a session token and sets it as an HttpOnly cookie.
// It reports false after writing an error response.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *data.User) bool {
	token, claims, err := s.auth.GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		s.internalError(w, r, "generate token", err)
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		MaxAge:   int(s.auth.Duration().Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context(), s.logger).Error(op+" failed", "err", err)
	middleware.WriteError(w, http.StatusInternalServerError, "internal error")
}

// decodeJSON reads one JSON value from the request body. With optional
// set an empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
