package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"git.home.luguber.info/inful/matrixci/internal/errors"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
)

// pushPayload is the subset of a forge push event the trigger gate needs.
// Both GitHub and Forgejo/Gitea deliver ref and after in this shape.
type pushPayload struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

const maxWebhookBody = 1 << 20 // 1MB

// handleWebhook gates incoming webhook deliveries. Only a push event whose
// ref matches the configured trigger branch queues a run; everything else
// is acknowledged and ignored.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		err := errors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "POST")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.errorAdapter.WriteErrorResponse(w, r,
			errors.WrapError(err, errors.CategoryValidation, "failed to read webhook body"))
		return
	}

	cfg := s.runtime.Config()

	if secret := cfg.Server.WebhookSecret; secret != "" {
		if !validSignature(body, secret, r.Header.Get("X-Hub-Signature-256")) {
			s.errorAdapter.WriteErrorResponse(w, r,
				errors.New(errors.CategoryAuth, errors.SeverityError, "webhook signature verification failed"))
			return
		}
	}

	event := eventName(r.Header)
	if event != "push" {
		slog.Debug("ignoring non-push webhook event", "event", event)
		writeJSON(w, http.StatusOK, ackResponse("ignored", "only push events trigger runs", event))
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.errorAdapter.WriteErrorResponse(w, r,
			errors.ValidationError("invalid JSON payload").
				WithContext("content_type", r.Header.Get("Content-Type")).
				WithContext("error", err.Error()))
		return
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch == payload.Ref || branch != cfg.Pipeline.Trigger.Branch {
		slog.Debug("ignoring push outside trigger branch",
			"ref", payload.Ref,
			logfields.Branch(cfg.Pipeline.Trigger.Branch))
		writeJSON(w, http.StatusOK, ackResponse("ignored", "push is not on the trigger branch", event))
		return
	}

	run, err := s.runtime.TriggerPush(branch, payload.After)
	if err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	slog.Info("push accepted",
		logfields.RunID(run.ID),
		logfields.Branch(branch),
		logfields.Commit(payload.After))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "queued",
		"run_id":    run.ID,
		"branch":    branch,
		"commit":    payload.After,
		"jobs":      len(run.Jobs),
		"timestamp": time.Now().UTC(),
	})
}

// eventName extracts the event type from forge webhook headers. Forgejo
// uses X-Forgejo-Event or X-Gitea-Event; GitHub uses X-GitHub-Event.
func eventName(h http.Header) string {
	for _, key := range []string{"X-GitHub-Event", "X-Forgejo-Event", "X-Gitea-Event"} {
		if v := h.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// validSignature checks the hex HMAC-SHA256 delivery signature
// ("sha256=<hex>") against the shared secret.
func validSignature(body []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func ackResponse(status, reason, event string) map[string]any {
	return map[string]any{
		"status":    status,
		"reason":    reason,
		"event":     event,
		"timestamp": time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", logfields.Error(err))
	}
}
