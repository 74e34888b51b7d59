package handler_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistola/epistola-auth/internal/model"
)

func seedOwner(t *testing.T, v *env) (model.User, string) {
	t.Helper()
	u := v.seedUser(t, model.User{
		ID: "owner-1", Email: "owner@example.com", Name: "Owner", EmailVerified: true,
	}, "Abcdef12")
	return u, v.signIn(t, u, false)
}

func createEpistolary(t *testing.T, v *env, sess string) map[string]any {
	t.Helper()
	rec := v.do(http.MethodPost, "/api/epistolaries", map[string]any{
		"name":          "Letters App",
		"description":   "Writes letters",
		"redirect_uris": []string{"https://letters.example/cb", "https://letters.example/alt"},
		"website_url":   "https://letters.example",
	}, sess)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["epistolary"].(map[string]any)
}

func TestEpistolaryRequiresVerifiedEmail(t *testing.T) {
	v := newEnv(t)
	u := v.seedUser(t, model.User{ID: "u1", Email: "new@example.com"}, "Abcdef12")
	sess := v.signIn(t, u, false)

	rec := v.do(http.MethodGet, "/api/epistolaries", nil, sess)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "email not verified", decode(t, rec)["error"])
}

func TestCreateEpistolary(t *testing.T) {
	v := newEnv(t)
	_, sess := seedOwner(t, v)

	ep := createEpistolary(t, v, sess)
	assert.NotEmpty(t, ep["client_id"])
	assert.NotEmpty(t, ep["client_secret"])
	assert.Equal(t, false, ep["is_verified"])
	assert.Equal(t, false, ep["is_official"])

	// The secret never appears in reads.
	rec := v.do(http.MethodGet, "/api/epistolaries", nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["epistolaries"].([]any)
	require.Len(t, list, 1)
	_, hasSecret := list[0].(map[string]any)["client_secret"]
	assert.False(t, hasSecret)

	rec = v.do(http.MethodGet, "/api/epistolaries/"+ep["id"].(string), nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)["epistolary"].(map[string]any)
	assert.Equal(t, "Letters App", got["name"])
	assert.Len(t, got["redirect_uris"].([]any), 2)
}

func TestCreateEpistolaryValidation(t *testing.T) {
	v := newEnv(t)
	_, sess := seedOwner(t, v)

	rec := v.do(http.MethodPost, "/api/epistolaries", map[string]any{
		"redirect_uris": []string{"https://a.example/cb"},
	}, sess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = v.do(http.MethodPost, "/api/epistolaries", map[string]any{
		"name":          "App",
		"redirect_uris": []string{"http://insecure.example/cb"},
	}, sess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "all redirect_uris must use HTTPS", decode(t, rec)["error"])
}

func TestUpdateEpistolaryOverlay(t *testing.T) {
	v := newEnv(t)
	_, sess := seedOwner(t, v)
	ep := createEpistolary(t, v, sess)
	id := ep["id"].(string)

	rec := v.do(http.MethodPut, "/api/epistolaries/"+id, map[string]any{
		"name": "Renamed App",
	}, sess)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = v.do(http.MethodGet, "/api/epistolaries/"+id, nil, sess)
	got := decode(t, rec)["epistolary"].(map[string]any)
	assert.Equal(t, "Renamed App", got["name"])
	// Untouched fields survive the update.
	assert.Equal(t, "Writes letters", got["description"])
	assert.Len(t, got["redirect_uris"].([]any), 2)

	rec = v.do(http.MethodPut, "/api/epistolaries/"+id, map[string]any{}, sess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no fields to update", decode(t, rec)["error"])
}

func TestDeleteEpistolaryScopedToOwner(t *testing.T) {
	v := newEnv(t)
	_, sess := seedOwner(t, v)
	ep := createEpistolary(t, v, sess)
	id := ep["id"].(string)

	other := v.seedUser(t, model.User{ID: "u2", Email: "other@example.com", EmailVerified: true}, "Abcdef12")
	otherSess := v.signIn(t, other, false)

	rec := v.do(http.MethodDelete, "/api/epistolaries/"+id, nil, otherSess)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = v.do(http.MethodDelete, "/api/epistolaries/"+id, nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = v.do(http.MethodDelete, "/api/epistolaries/"+id, nil, sess)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegenerateSecret(t *testing.T) {
	v := newEnv(t)
	_, sess := seedOwner(t, v)
	ep := createEpistolary(t, v, sess)
	id := ep["id"].(string)

	rec := v.do(http.MethodPost, "/api/epistolaries/"+id+"/regenerate", nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	newSecret := decode(t, rec)["client_secret"].(string)
	assert.NotEmpty(t, newSecret)
	assert.NotEqual(t, ep["client_secret"], newSecret)

	stored, err := v.st.GetEpistolaryByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, newSecret, stored.ClientSecret)
}

func TestTwoStepDelete(t *testing.T) {
	v := newEnv(t)
	_, sess := seedOwner(t, v)
	ep := createEpistolary(t, v, sess)
	id := ep["id"].(string)

	// Wrong password is refused.
	rec := v.do(http.MethodPost, "/api/epistolaries/"+id+"/request-delete", map[string]any{
		"password": "Wrong123",
	}, sess)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "incorrect password", decode(t, rec)["error"])

	rec = v.do(http.MethodPost, "/api/epistolaries/"+id+"/request-delete", map[string]any{
		"password": "Abcdef12",
	}, sess)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msg := v.mail.Last()
	require.NotNil(t, msg)
	require.Equal(t, "epistolary_delete", msg.Template)
	assert.Equal(t, "Letters App", msg.Data["epistolary_name"])

	parsed, err := url.Parse(msg.Data["confirm_url"])
	require.NoError(t, err)
	deleteToken := parsed.Query().Get("token")
	require.NotEmpty(t, deleteToken)

	// GET shows what would be deleted.
	rec = v.do(http.MethodGet, "/confirm-delete-epistolary?token="+deleteToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Letters App", body["epistolary"].(map[string]any)["name"])

	// POST without confirm keeps everything.
	rec = v.do(http.MethodPost, "/confirm-delete-epistolary?token="+deleteToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = v.st.GetEpistolaryByID(context.Background(), id)
	assert.NoError(t, err)

	// Confirmed POST deletes epistolary and token.
	rec = v.do(http.MethodPost, "/confirm-delete-epistolary?token="+deleteToken+"&confirm=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err = v.st.GetEpistolaryByID(context.Background(), id)
	assert.Error(t, err)

	rec = v.do(http.MethodGet, "/confirm-delete-epistolary?token="+deleteToken, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invalid or already used link", decode(t, rec)["error"])
}

func TestConfirmDeleteExpiredTokenIsDiscarded(t *testing.T) {
	v := newEnv(t)
	_, sess := seedOwner(t, v)
	ep := createEpistolary(t, v, sess)

	require.NoError(t, v.st.CreateDeleteRequest(context.Background(), model.EpistolaryDeleteRequest{
		Token: "stale", EpistolaryID: ep["id"].(string), UserID: "owner-1",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	rec := v.do(http.MethodGet, "/confirm-delete-epistolary?token=stale", nil, "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "link expired", decode(t, rec)["error"])

	// The stale token was consumed on sight.
	rec = v.do(http.MethodGet, "/confirm-delete-epistolary?token=stale", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
