package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/processor/consumer"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

type recordingHandler struct {
	got []events.ChangeMessage
	err error
}

func (h *recordingHandler) Handle(_ context.Context, msg events.ChangeMessage) error {
	h.got = append(h.got, msg)
	return h.err
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApplyPatch_ForcesManualSource(t *testing.T) {
	h := &recordingHandler{}
	api := (&Manual{Proc: h, Log: zap.NewNop()}).Router()

	rec := do(t, api, http.MethodPost, "/v1/manual/entities/ev1", `{"market_status":"suspended","source":"feed"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"applied":true}`, rec.Body.String())
	require.Len(t, h.got, 1)
	msg := h.got[0]
	assert.Equal(t, events.KindEntityUpdate, msg.Type)
	assert.Equal(t, "ev1", msg.Patch.EntityID)
	assert.Equal(t, events.SourceManual, *msg.Patch.Source)
	assert.Equal(t, events.MarketSuspended, *msg.Patch.MarketStatus)
}

func TestApplyPatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed", `{"status":`, nil, http.StatusBadRequest},
		{"unknown field", `{"odds":1}`, nil, http.StatusBadRequest},
		{"empty", `{}`, nil, http.StatusBadRequest},
		{"unknown entity", `{"status":"live"}`, consumer.ErrUnknownEntity, http.StatusNotFound},
		{"invalid enum", `{"status":"paused"}`, events.ErrInvalidMessage, http.StatusBadRequest},
		{"broker down", `{"status":"live"}`, errors.New("publish: broker unavailable"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := (&Manual{Proc: &recordingHandler{err: tt.err}, Log: zap.NewNop()}).Router()
			rec := do(t, api, http.MethodPost, "/v1/manual/entities/ev1", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestApplyPatch_AlreadyApplied(t *testing.T) {
	api := (&Manual{Proc: &recordingHandler{err: consumer.ErrUnchanged}, Log: zap.NewNop()}).Router()

	rec := do(t, api, http.MethodPost, "/v1/manual/entities/ev1", `{"status":"live"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"applied":false}`, rec.Body.String())
}

func TestRemoveEntity(t *testing.T) {
	h := &recordingHandler{}
	api := (&Manual{Proc: h, Log: zap.NewNop()}).Router()

	rec := do(t, api, http.MethodDelete, "/v1/manual/entities/ev7?reason=abandoned", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.got, 1)
	assert.Equal(t, events.KindEntityRemove, h.got[0].Type)
	assert.Equal(t, "abandoned", h.got[0].Removal.Reason)
}
