package files

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"crm-graphql/internal/logging"
	"crm-graphql/internal/observability"
)

// Token claims read by the handler.
const (
	ClaimExpirationDate = "expiration_date"
	ClaimWorkspaceID    = "workspace_id"
)

// TokenDecoder verifies a file token and returns its claims.
type TokenDecoder interface {
	DecodePayload(token string) (map[string]any, error)
}

// Handler streams files addressed as /files/{folder}/{filename}?token=...
// The token must be valid, unexpired and name the workspace owning the file.
type Handler struct {
	storage Storage
	tokens  TokenDecoder
	logger  *logging.Logger
	metrics *observability.SecurityMetrics
	now     func() time.Time
}

// NewHandler creates a file handler.
func NewHandler(storage Storage, tokens TokenDecoder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{storage: storage, tokens: tokens, logger: logger, now: time.Now}
}

// SetMetrics enables per-outcome access counting.
func (h *Handler) SetMetrics(metrics *observability.SecurityMetrics) {
	h.metrics = metrics
}

// Pattern is the ServeMux pattern the handler is mounted on.
const Pattern = "GET /files/{folder}/{filename}"

// Access outcomes.
const (
	outcomeServed    = "served"
	outcomeForbidden = "forbidden"
	outcomeNotFound  = "not_found"
	outcomeError     = "error"
)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	outcome := h.serve(w, r)
	if h.metrics != nil {
		h.metrics.RecordFileAccess(r.Context(), outcome)
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) string {
	folder := r.PathValue("folder")
	filename := r.PathValue("filename")
	if folder == "" || filename == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return outcomeNotFound
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusForbidden)
		return outcomeForbidden
	}
	claims, err := h.tokens.DecodePayload(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return outcomeForbidden
	}
	expiration, ok := claims[ClaimExpirationDate].(string)
	if !ok {
		http.Error(w, "invalid token", http.StatusForbidden)
		return outcomeForbidden
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, expiration)
	if err != nil || !h.now().Before(expiresAt) {
		http.Error(w, "token expired", http.StatusForbidden)
		return outcomeForbidden
	}
	workspaceID, _ := claims[ClaimWorkspaceID].(string)
	if workspaceID == "" {
		http.Error(w, "invalid token", http.StatusForbidden)
		return outcomeForbidden
	}

	key := WorkspaceKey(workspaceID, folder, filename)
	obj, err := h.storage.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return outcomeNotFound
		}
		h.log(r).Error("failed to open file",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return outcomeError
	}
	defer obj.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		h.log(r).Warn("file stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return outcomeServed
}

func (h *Handler) log(r *http.Request) *logging.Logger {
	if id := logging.GetRequestID(r.Context()); id != "" {
		return h.logger.WithRequestID(id)
	}
	return h.logger
}
