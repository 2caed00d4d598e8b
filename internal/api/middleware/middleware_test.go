package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskmanager/internal/auth"
	"taskmanager/internal/model"

	"github.com/gin-gonic/gin"
)

type fakeGate struct {
	authenticate func(ctx context.Context, raw string) (*model.Account, string, error)
}

func (f fakeGate) Authenticate(ctx context.Context, raw string) (*model.Account, string, error) {
	return f.authenticate(ctx, raw)
}

func newRouter(gate Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(gate, slog.New(slog.NewTextHandler(io.Discard, nil))), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": CurrentAccount(c).ID, "token": CurrentToken(c)})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	gate := fakeGate{authenticate: func(ctx context.Context, raw string) (*model.Account, string, error) {
		switch raw {
		case "good":
			return &model.Account{ID: 9}, raw, nil
		case "broken":
			return nil, "", errors.New("db down")
		default:
			return nil, "", fmt.Errorf("%w: nope", auth.ErrUnauthorized)
		}
	}}
	r := newRouter(gate)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer good", http.StatusOK, `"id":9`},
		{"lowercase scheme", "bearer good", http.StatusOK, `"token":"good"`},
		{"missing", "", http.StatusUnauthorized, "please authenticate"},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, "please authenticate"},
		{"rejected", "Bearer bad", http.StatusUnauthorized, "please authenticate"},
		{"storage failure", "Bearer broken", http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tc.body) {
				t.Fatalf("body = %s, want %s", w.Body.String(), tc.body)
			}
		})
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := w.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatal("missing request id header")
	}
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("log does not contain request id: %s", buf.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "given-id" {
		t.Fatalf("request id = %s", got)
	}
}
