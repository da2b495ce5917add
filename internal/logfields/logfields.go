package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyJobID      = "job_id"
	KeyTrigger    = "trigger"
	KeyStatus     = "status"
	KeyStep       = "step"
	KeyVersion    = "matrix_version"
	KeyDurationMS = "duration_ms"
	KeyPipeline   = "pipeline"
	KeyRepo       = "repository"
	KeyBranch     = "branch"
	KeyCommit     = "commit"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyWorker     = "worker"
	KeyMethod     = "method"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func JobID(id string) slog.Attr        { return slog.String(KeyJobID, id) }
func Trigger(t string) slog.Attr       { return slog.String(KeyTrigger, t) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func Step(name string) slog.Attr       { return slog.String(KeyStep, name) }
func MatrixVersion(v string) slog.Attr { return slog.String(KeyVersion, v) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Pipeline(name string) slog.Attr   { return slog.String(KeyPipeline, name) }
func Repository(r string) slog.Attr    { return slog.String(KeyRepo, r) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Commit(c string) slog.Attr        { return slog.String(KeyCommit, c) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Worker(w string) slog.Attr        { return slog.String(KeyWorker, w) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
