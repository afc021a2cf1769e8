package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/logging"
)

func protected(j *auth.JWTManager) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "missing claims", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(claims.UserID))
	})
	return RequireSession(j)(RequireCSRF(j)(final))
}

func TestRequireSession(t *testing.T) {
	j := auth.NewJWTManager("secret", time.Hour)
	h := protected(j)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "garbage"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad cookie: expected 401, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("expected JSON error body, got %q", rec.Body.String())
	}

	token, _, _ := j.GenerateToken("user-1", "a@example.com", "CUSTOMER")
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-1" {
		t.Fatalf("valid session: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequireCSRF(t *testing.T) {
	j := auth.NewJWTManager("secret", time.Hour)
	h := protected(j)

	session, claims, _ := j.GenerateToken("user-1", "a@example.com", "CUSTOMER")
	csrf, _ := j.GenerateCSRF(claims)
	_, otherClaims, _ := j.GenerateToken("user-1", "a@example.com", "CUSTOMER")
	foreign, _ := j.GenerateCSRF(otherClaims)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusForbidden},
		{"other session", foreign, http.StatusForbidden},
		{"session token", session, http.StatusForbidden},
		{"valid", csrf, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/conversations", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session})
			if tt.token != "" {
				req.Header.Set(CSRFHeader, tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestLogging_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "info", "json")

	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if entry["request_id"] != seen || entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected log entry %v", entry)
	}

	// A caller-supplied id is kept
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "given-id" {
		t.Fatalf("expected caller id, got %q", seen)
	}
}

func TestMetrics_Instrument(t *testing.T) {
	m := NewMetrics()
	r := mux.NewRouter()
	r.Use(m.Instrument)
	r.HandleFunc("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPost)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/messages", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("/conversations/{id}/messages", http.MethodPost, "201"))
	if got != 3 {
		t.Fatalf("expected 3 requests under the route template, got %v", got)
	}

	m.MessagesSent.WithLabelValues("CUSTOMER").Inc()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `marketchat_messages_sent_total{role="CUSTOMER"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
