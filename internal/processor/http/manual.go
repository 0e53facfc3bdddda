package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/processor/consumer"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

const maxBody = 64 << 10

// ChangeHandler aplica e publica uma mudança (consumer.Processor)
type ChangeHandler interface {
	Handle(ctx context.Context, msg events.ChangeMessage) error
}

// Manual expõe a entrada manual de dados de partida.
// O ajuste passa pela mesma projeção do fluxo Kafka e sai no canal manual.
type Manual struct {
	Proc ChangeHandler
	Log  *zap.Logger
}

type manualResponse struct {
	Success bool   `json:"success"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// Router retorna o roteador HTTP da entrada manual
func (m *Manual) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v1/manual/entities/{id}", m.applyPatch)     // Ajusta campos da partida
	r.Delete("/v1/manual/entities/{id}", m.removeEntity) // Retira a partida do ar
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (m *Manual) applyPatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var p events.EntityPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, manualResponse{Error: "invalid body: " + err.Error()})
		return
	}
	p.EntityID = id
	src := events.SourceManual
	p.Source = &src

	if p.Empty() {
		writeJSON(w, http.StatusBadRequest, manualResponse{Error: "empty patch"})
		return
	}
	m.respond(w, r, events.UpdateMessage(p))
}

func (m *Manual) removeEntity(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual"
	}
	m.respond(w, r, events.RemoveMessage(chi.URLParam(r, "id"), reason))
}

func (m *Manual) respond(w http.ResponseWriter, r *http.Request, msg events.ChangeMessage) {
	err := m.Proc.Handle(r.Context(), msg)
	switch {
	case err == nil:
		m.Log.Info("manual change applied", zap.String("type", string(msg.Type)), zap.String("entity_id", msg.EntityID()))
		writeJSON(w, http.StatusOK, manualResponse{Success: true, Applied: true})
	case errors.Is(err, consumer.ErrUnchanged):
		writeJSON(w, http.StatusOK, manualResponse{Success: true})
	case errors.Is(err, consumer.ErrUnknownEntity):
		writeJSON(w, http.StatusNotFound, manualResponse{Error: "entity not found"})
	case errors.Is(err, events.ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, manualResponse{Error: err.Error()})
	default:
		m.Log.Warn("manual change failed", zap.String("entity_id", msg.EntityID()), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, manualResponse{Error: err.Error()})
	}
}
