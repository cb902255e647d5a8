package signout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/model"
)

type mockTokenClearer struct {
	clearFn func(ctx context.Context) error
	calls   int
}

func (m *mockTokenClearer) Clear(ctx context.Context) error {
	m.calls++
	if m.clearFn != nil {
		return m.clearFn(ctx)
	}
	return nil
}

type mockSessionTerminator struct {
	terminateFn  func(ctx context.Context, sessionID string) error
	terminated   []string
	endSessionFn func(idToken, redirect string) string
}

func (m *mockSessionTerminator) TerminateSession(ctx context.Context, sessionID string) error {
	m.terminated = append(m.terminated, sessionID)
	if m.terminateFn != nil {
		return m.terminateFn(ctx, sessionID)
	}
	return nil
}

func (m *mockSessionTerminator) EndSessionURL(idToken, redirect string) string {
	if m.endSessionFn != nil {
		return m.endSessionFn(idToken, redirect)
	}
	return "http://idp/realms/r/protocol/openid-connect/logout?id_token_hint=" + idToken + "&post_logout_redirect_uri=" + redirect
}

func newTestCoordinator(tokens TokenClearer, sessions SessionTerminator) *Coordinator {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewCoordinator(tokens, sessions, Config{BaseURL: "http://localhost:3000"}, logger, nil)
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSignOut_WithIDToken_RunsAllSteps(t *testing.T) {
	tokens := &mockTokenClearer{}
	sessions := &mockSessionTerminator{}
	c := newTestCoordinator(tokens, sessions)
	rec := httptest.NewRecorder()

	res := c.SignOut(context.Background(), rec, &model.Session{ID: "sess-1", AccessToken: "at", IDToken: "idt"})

	require.Len(t, res.Steps, 5)
	for _, s := range res.Steps {
		assert.Equal(t, OutcomeOK, s.Outcome, s.Name)
	}
	assert.True(t, res.RemoteTerminated)
	assert.Contains(t, res.LogoutURL, "id_token_hint=idt")
	assert.Contains(t, res.LogoutURL, "post_logout_redirect_uri=http://localhost:3000/")
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, []string{"sess-1"}, sessions.terminated)
}

func TestSignOut_ClearsCookiesAndSiteData(t *testing.T) {
	c := newTestCoordinator(&mockTokenClearer{}, &mockSessionTerminator{})
	rec := httptest.NewRecorder()

	c.SignOut(context.Background(), rec, &model.Session{ID: "sess-1", IDToken: "idt"})

	assert.Equal(t, `"cache", "cookies", "storage"`, rec.Header().Get("Clear-Site-Data"))
	cookies := rec.Result().Cookies()
	names := append([]string{auth.SessionCookieName, auth.StateCookieName, auth.CSRFCookieName}, auth.LegacyCookieNames...)
	for _, name := range names {
		ck := cookieByName(cookies, name)
		require.NotNil(t, ck, name)
		assert.Equal(t, -1, ck.MaxAge, name)
		assert.Empty(t, ck.Value, name)
	}
}

func TestSignOut_WithoutIDToken_SkipsRedirect(t *testing.T) {
	sessions := &mockSessionTerminator{}
	c := newTestCoordinator(&mockTokenClearer{}, sessions)

	res := c.SignOut(context.Background(), httptest.NewRecorder(), &model.Session{ID: "sess-1", AccessToken: "at"})

	assert.False(t, res.RemoteTerminated)
	assert.Empty(t, res.LogoutURL)
	assert.Equal(t, OutcomeSkipped, res.Outcome(StepReadIDToken))
	assert.Equal(t, OutcomeOK, res.Outcome(StepTerminateLocalSession))
	assert.Equal(t, OutcomeSkipped, res.Outcome(StepEndSessionRedirect))
	assert.Equal(t, []string{"sess-1"}, sessions.terminated)
}

func TestSignOut_NoSession_IsSafe(t *testing.T) {
	sessions := &mockSessionTerminator{}
	c := newTestCoordinator(&mockTokenClearer{}, sessions)
	rec := httptest.NewRecorder()

	res := c.SignOut(context.Background(), rec, nil)

	assert.False(t, res.RemoteTerminated)
	assert.Equal(t, OutcomeSkipped, res.Outcome(StepTerminateLocalSession))
	assert.Empty(t, sessions.terminated)
	assert.NotEmpty(t, rec.Header().Get("Clear-Site-Data"))
}

func TestSignOut_StepFailuresDoNotStopSequence(t *testing.T) {
	tokens := &mockTokenClearer{clearFn: func(context.Context) error { return errors.New("store down") }}
	sessions := &mockSessionTerminator{terminateFn: func(context.Context, string) error { return errors.New("delete failed") }}
	c := newTestCoordinator(tokens, sessions)

	res := c.SignOut(context.Background(), httptest.NewRecorder(), &model.Session{ID: "sess-1", IDToken: "idt"})

	assert.Equal(t, OutcomeFailed, res.Outcome(StepClearTokenStore))
	assert.Equal(t, OutcomeFailed, res.Outcome(StepTerminateLocalSession))
	assert.Equal(t, OutcomeOK, res.Outcome(StepEndSessionRedirect))
	assert.True(t, res.RemoteTerminated)
}

func TestSignOut_PanicInStepIsRecovered(t *testing.T) {
	tokens := &mockTokenClearer{clearFn: func(context.Context) error { panic("boom") }}
	c := newTestCoordinator(tokens, &mockSessionTerminator{})

	var res Result
	require.NotPanics(t, func() {
		res = c.SignOut(context.Background(), httptest.NewRecorder(), &model.Session{ID: "sess-1", IDToken: "idt"})
	})
	assert.Equal(t, OutcomeFailed, res.Outcome(StepClearTokenStore))
	assert.Len(t, res.Steps, 5)
}

func TestSignOut_NilWriter_SkipsClientState(t *testing.T) {
	c := newTestCoordinator(&mockTokenClearer{}, &mockSessionTerminator{})

	res := c.SignOut(context.Background(), nil, &model.Session{ID: "sess-1", IDToken: "idt"})

	assert.Equal(t, OutcomeSkipped, res.Outcome(StepClearClientState))
	assert.True(t, res.RemoteTerminated)
}

func TestSignOut_Idempotent(t *testing.T) {
	c := newTestCoordinator(&mockTokenClearer{}, &mockSessionTerminator{})
	session := &model.Session{ID: "sess-1", IDToken: "idt"}

	first := c.SignOut(context.Background(), httptest.NewRecorder(), session)
	second := c.SignOut(context.Background(), httptest.NewRecorder(), session)

	assert.Equal(t, first.LogoutURL, second.LogoutURL)
	assert.Len(t, second.Steps, 5)
}

func TestSignOut_ClearsTokenStoreOfGivenSession(t *testing.T) {
	session := &model.Session{ID: "sess-1", AccessToken: "at", IDToken: "idt"}
	var seen *model.Session
	tokens := &mockTokenClearer{clearFn: func(ctx context.Context) error {
		seen = auth.SessionFromContext(ctx)
		return nil
	}}
	c := newTestCoordinator(tokens, &mockSessionTerminator{})

	c.SignOut(context.Background(), httptest.NewRecorder(), session)

	assert.Same(t, session, seen)
}
