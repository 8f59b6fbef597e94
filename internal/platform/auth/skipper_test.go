package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/openapi.json", true},
		{"/docs", true},
		{"/health/extra", false},
		{"/api/v1/scheduling/week", false},
		{"/api/v1/scheduling/bookings", false},
		{"/", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.path, nil), httptest.NewRecorder())
			c.SetPath(tt.path)

			if got := AuthSkipper(c); got != tt.want {
				t.Errorf("AuthSkipper(%s) = %v, want %v", tt.path, got, tt.want)
			}
			if got := IsPublicPath(tt.path); got != tt.want {
				t.Errorf("IsPublicPath(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	var called bool
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	err := mw(func(c echo.Context) error {
		called = true
		return nil
	})(c)

	if err != nil {
		t.Fatalf("expected no error for skipped path, got: %v", err)
	}
	if !called {
		t.Error("expected handler to be called for skipped path")
	}
}

func TestJWTMiddleware_DoesNotSkipProtectedPaths(t *testing.T) {
	_, err, called := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}), "")
	expectStatus(t, err, http.StatusUnauthorized)
	if called {
		t.Error("handler should not run for a protected path without a token")
	}
}

func TestDevAuthMiddleware_SkipsPublicPaths(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	err := DevAuthMiddleware(AuthSkipper)(func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "" {
			t.Errorf("expected no identity on a public path, got %s", uid)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
