// Package audit records every privileged mutation twice: a compact technical
// log for forensics and a human-readable report feed for review screens.
package audit

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"nijjara.org/internal/ids"
	"nijjara.org/internal/obs"
	"nijjara.org/internal/tabular"
)

// Sheet names for the two audit feeds.
const (
	LogSheet    = "SYS_Audit_Log"
	ReportSheet = "SYS_Audit_Report"
)

var logHeaders = []string{
	"Audit_Id", "User_Id", "Sheet", "Action", "Target_Id", "Details", "Created_At",
}

var reportHeaders = []string{
	"Audit_Id", "Entity", "Entity_Id", "Action", "Actor_Id",
	"Summary", "Details", "Scope", "Created_At",
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches a request identifier that Record folds into details.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event is one auditable action. Summary is optional; when present the event
// also lands in the report feed.
type Event struct {
	ActorID  string
	Sheet    string
	Action   string
	TargetID string
	Details  map[string]any
	Entity   string
	Summary  string
	Scope    string
}

// Entry is a compact log row read back out.
type Entry struct {
	ID        string `json:"audit_id"`
	UserID    string `json:"user_id"`
	Sheet     string `json:"sheet"`
	Action    string `json:"action"`
	TargetID  string `json:"target_id,omitempty"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ReportEntry is a report feed row read back out.
type ReportEntry struct {
	ID        string `json:"audit_id"`
	Entity    string `json:"entity"`
	EntityID  string `json:"entity_id,omitempty"`
	Action    string `json:"action"`
	ActorID   string `json:"actor_id"`
	Summary   string `json:"summary"`
	Details   string `json:"details,omitempty"`
	Scope     string `json:"scope,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Recorder writes and queries the two audit feeds.
type Recorder struct {
	tab tabular.Store
	now func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(tab tabular.Store, opts ...Option) *Recorder {
	r := &Recorder{tab: tab, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchemas registers both audit sheets.
func (r *Recorder) EnsureSchemas(ctx context.Context) error {
	if err := r.tab.EnsureSchema(ctx, LogSheet, logHeaders); err != nil {
		return err
	}
	return r.tab.EnsureSchema(ctx, ReportSheet, reportHeaders)
}

// Record writes the compact log row and, when the event carries a summary,
// a report row. The compact write is mandatory and its error propagates; the
// report write is best-effort and failures are only counted and logged so a
// broken report feed never blocks the underlying operation.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	details := ev.Details
	if rid := requestIDFromContext(ctx); rid != "" {
		merged := make(map[string]any, len(details)+1)
		for k, v := range details {
			merged[k] = v
		}
		merged["request_id"] = rid
		details = merged
	}
	detailsJSON := encodeDetails(details)
	now := formatISO(r.now())

	seq, err := r.tab.NextSequence(ctx, "AUD", LogSheet)
	if err != nil {
		return err
	}
	row := tabular.Record{
		"Audit_Id":   ids.Format("AUD", seq),
		"User_Id":    ev.ActorID,
		"Sheet":      ev.Sheet,
		"Action":     ev.Action,
		"Target_Id":  ev.TargetID,
		"Details":    detailsJSON,
		"Created_At": now,
	}
	if err := r.tab.AppendRow(ctx, LogSheet, row); err != nil {
		return err
	}

	if ev.Summary == "" {
		return nil
	}
	if err := r.writeReport(ctx, ev, detailsJSON, now); err != nil {
		obs.AuditWriteFailure("report")
		obs.LogEvent(map[string]any{
			"level":  "warn",
			"msg":    "audit report write failed",
			"action": ev.Action,
			"actor":  ev.ActorID,
			"error":  err.Error(),
		})
	}
	return nil
}

func (r *Recorder) writeReport(ctx context.Context, ev Event, detailsJSON, now string) error {
	seq, err := r.tab.NextSequence(ctx, "AUDR", ReportSheet)
	if err != nil {
		return err
	}
	entity := ev.Entity
	if entity == "" {
		entity = ev.Sheet
	}
	return r.tab.AppendRow(ctx, ReportSheet, tabular.Record{
		"Audit_Id":   ids.Format("AUDR", seq),
		"Entity":     entity,
		"Entity_Id":  ev.TargetID,
		"Action":     ev.Action,
		"Actor_Id":   ev.ActorID,
		"Summary":    ev.Summary,
		"Details":    detailsJSON,
		"Scope":      ev.Scope,
		"Created_At": now,
	})
}

// Filter narrows a Logs query. Zero values match everything.
type Filter struct {
	ActorID  string
	Action   string
	TargetID string
	Sheet    string
	Limit    int
}

// Logs returns compact entries newest first.
func (r *Recorder) Logs(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := r.tab.ListRows(ctx, LogSheet)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, rec := range rows {
		e := Entry{
			ID:        rec["Audit_Id"],
			UserID:    rec["User_Id"],
			Sheet:     rec["Sheet"],
			Action:    rec["Action"],
			TargetID:  rec["Target_Id"],
			Details:   rec["Details"],
			CreatedAt: rec["Created_At"],
		}
		if f.ActorID != "" && e.UserID != f.ActorID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		if f.Sheet != "" && e.Sheet != f.Sheet {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UserTrail returns the newest entries where the user acted or was acted on.
func (r *Recorder) UserTrail(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := r.tab.ListRows(ctx, LogSheet)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, rec := range rows {
		if rec["User_Id"] != userID && rec["Target_Id"] != userID {
			continue
		}
		out = append(out, Entry{
			ID:        rec["Audit_Id"],
			UserID:    rec["User_Id"],
			Sheet:     rec["Sheet"],
			Action:    rec["Action"],
			TargetID:  rec["Target_Id"],
			Details:   rec["Details"],
			CreatedAt: rec["Created_At"],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reports returns report feed entries newest first.
func (r *Recorder) Reports(ctx context.Context, limit int) ([]ReportEntry, error) {
	rows, err := r.tab.ListRows(ctx, ReportSheet)
	if err != nil {
		return nil, err
	}
	out := make([]ReportEntry, 0, len(rows))
	for _, rec := range rows {
		out = append(out, ReportEntry{
			ID:        rec["Audit_Id"],
			Entity:    rec["Entity"],
			EntityID:  rec["Entity_Id"],
			Action:    rec["Action"],
			ActorID:   rec["Actor_Id"],
			Summary:   rec["Summary"],
			Details:   rec["Details"],
			Scope:     rec["Scope"],
			CreatedAt: rec["Created_At"],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func encodeDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(raw)
}

func formatISO(t time.Time) string { return t.Format(time.RFC3339) }
