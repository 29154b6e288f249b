package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/notewise/notewise/pkg/httputil"
	"github.com/notewise/notewise/pkg/middleware"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/transform"
)

// TransformHandlers serves metered note transformations
type TransformHandlers struct {
	transformer Transformer
	limiter     func(http.Handler) http.Handler
	logger      *observability.Logger
}

// NewTransformHandlers creates a new TransformHandlers. limiter may be nil.
func NewTransformHandlers(transformer Transformer, limiter func(http.Handler) http.Handler, logger *observability.Logger) *TransformHandlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &TransformHandlers{transformer: transformer, limiter: limiter, logger: logger}
}

// RegisterRoutes registers routes that require an authenticated user
func (h *TransformHandlers) RegisterRoutes(router *mux.Router) {
	var handler http.Handler = http.HandlerFunc(h.Transform)
	if h.limiter != nil {
		handler = h.limiter(handler)
	}
	router.Handle("/transformations", handler).Methods("POST")
}

// Transform structures the submitted notes
func (h *TransformHandlers) Transform(w http.ResponseWriter, r *http.Request) {
	var req transform.Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.transformer.Transform(r.Context(), middleware.UserID(r), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, TransformResponse{
		Content:   result.Content,
		Template:  result.Template,
		Tone:      result.Tone,
		Remaining: result.Remaining,
	})
}
