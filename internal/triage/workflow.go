// Package triage owns the per-message lifecycle: Fetched -> Summarized ->
// Drafted -> Sent | Skipped. It orchestrates the mail client and the
// drafting service and memoizes their output through the session cache.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/evanshaw/triagemail/internal/gmail"
)

// Phase is a message's position in the lifecycle.
type Phase int

const (
	PhaseFetched Phase = iota
	PhaseSummarized
	PhaseDrafted
	PhaseSent
	PhaseSkipped
)

func (p Phase) String() string {
	switch p {
	case PhaseFetched:
		return "fetched"
	case PhaseSummarized:
		return "summarized"
	case PhaseDrafted:
		return "drafted"
	case PhaseSent:
		return "sent"
	case PhaseSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Drafter is the language model surface the workflow consumes. Both
// operations degrade to sentinel text instead of failing.
type Drafter interface {
	Summarize(ctx context.Context, snippet string) string
	Compose(ctx context.Context, snippet, instruction string) string
}

// Record is the mutable workflow state for one message.
type Record struct {
	Phase   Phase
	Message gmail.Message
	Summary string
	Draft   string // user-editable once drafted
	LastErr error
}

// Workflow drives every fetched message through its lifecycle. One session,
// one workflow; actions on a given message id are mutually exclusive.
type Workflow struct {
	Client  gmail.Client
	Drafter Drafter
	Logger  *slog.Logger
	Cache   *Cache

	// MarkReadOnFetch removes the unread marker as messages are fetched.
	// The alternative is leaving them unread until the reply goes out.
	MarkReadOnFetch bool

	mu      sync.Mutex
	records map[gmail.MessageID]*Record
	order   []gmail.MessageID
}

// NewWorkflow constructs a workflow with a fresh session cache.
func NewWorkflow(client gmail.Client, drafter Drafter, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Workflow{
		Client:  client,
		Drafter: drafter,
		Logger:  logger,
		Cache:   NewCache(),
		records: map[gmail.MessageID]*Record{},
	}
}

// FetchBatch lists unread messages and snapshots the ones not yet tracked.
// Re-fetching never resets a record that is already in progress. Returns
// the ids newly added this call.
func (w *Workflow) FetchBatch(ctx context.Context, limit int) ([]gmail.MessageID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	refs, err := w.Client.ListUnread(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	var added []gmail.MessageID
	for _, ref := range refs {
		if _, ok := w.records[ref.ID]; ok {
			continue
		}
		msg, err := w.Client.GetMessage(ctx, ref.ID)
		if err != nil {
			return added, fmt.Errorf("message %s: fetch: %w", ref.ID, err)
		}
		if w.MarkReadOnFetch {
			if err := w.Client.MarkRead(ctx, ref.ID); err != nil {
				w.Logger.Warn("mark read at fetch failed", "id", ref.ID, "error", err)
			}
		}
		w.records[ref.ID] = &Record{Phase: PhaseFetched, Message: msg}
		w.order = append(w.order, ref.ID)
		added = append(added, ref.ID)
	}
	return added, nil
}

// Advance drives a message from Fetched through Drafted. Summary and draft
// are memoized, so re-invocation on a re-render recomputes nothing and
// never clobbers a user-edited draft. Sent and skipped messages are left
// alone.
func (w *Workflow) Advance(ctx context.Context, id gmail.MessageID, instruction, userContext string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok {
		return fmt.Errorf("message %s: not tracked", id)
	}
	if rec.Phase == PhaseSent || rec.Phase == PhaseSkipped {
		return nil
	}

	rec.Summary = w.Cache.GetOrCompute(id, FieldSummary, func() string {
		return w.Drafter.Summarize(ctx, rec.Message.Snippet)
	})
	if rec.Phase == PhaseFetched {
		rec.Phase = PhaseSummarized
	}

	if rec.Phase == PhaseSummarized {
		rec.Draft = w.Cache.GetOrCompute(id, FieldDraft, func() string {
			return w.Drafter.Compose(ctx, rec.Message.Snippet, combineInstruction(instruction, userContext))
		})
		rec.Phase = PhaseDrafted
	}
	return nil
}

// EditDraft replaces the draft text with the user's edit.
func (w *Workflow) EditDraft(id gmail.MessageID, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok {
		return fmt.Errorf("message %s: not tracked", id)
	}
	if rec.Phase != PhaseDrafted && rec.Phase != PhaseSkipped {
		return fmt.Errorf("message %s: no draft to edit (phase %s)", id, rec.Phase)
	}
	rec.Draft = text
	return nil
}

// Send delivers the current draft text as a reply on the message's thread.
// On success the record is terminal for the session and its cache entries
// are cleared. On failure the record stays drafted with the error attached
// so the user can retry exactly this action. A label warning on the result
// means the email was delivered; it must not be resent.
func (w *Workflow) Send(ctx context.Context, id gmail.MessageID) (gmail.SendResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok {
		return gmail.SendResult{}, fmt.Errorf("message %s: not tracked", id)
	}
	if rec.Phase == PhaseSent {
		return gmail.SendResult{}, fmt.Errorf("message %s: already sent", id)
	}
	if rec.Phase != PhaseDrafted && !(rec.Phase == PhaseSkipped && rec.Draft != "") {
		return gmail.SendResult{}, fmt.Errorf("message %s: nothing drafted to send (phase %s)", id, rec.Phase)
	}

	req := gmail.ReplyRequest{
		To:       gmail.ReplyAddress(rec.Message.Sender),
		Subject:  gmail.ReplySubject(rec.Message.Subject),
		Body:     rec.Draft,
		ThreadID: rec.Message.ThreadID,
	}
	res, err := w.Client.SendReply(ctx, req)
	if err != nil {
		rec.LastErr = fmt.Errorf("message %s: send reply: %w", id, err)
		return gmail.SendResult{}, rec.LastErr
	}

	rec.Phase = PhaseSent
	rec.LastErr = nil
	w.Cache.InvalidateAll(id)
	if res.LabelWarning != nil {
		w.Logger.Warn("reply sent but relabeling incomplete", "id", id, "warning", res.LabelWarning)
	}
	return res, nil
}

// Skip marks a message as set aside for this session. Advisory, not a
// lock: Refresh resurrects it.
func (w *Workflow) Skip(id gmail.MessageID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok {
		return fmt.Errorf("message %s: not tracked", id)
	}
	if rec.Phase == PhaseSent {
		return fmt.Errorf("message %s: already sent", id)
	}
	rec.Phase = PhaseSkipped
	return nil
}

// Refresh recomputes summary and draft unconditionally, discarding any
// user edits to the draft. Defined behavior, not an accident: refresh
// means "start this reply over". Sent messages are terminal no-ops.
func (w *Workflow) Refresh(ctx context.Context, id gmail.MessageID, instruction, userContext string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok {
		return fmt.Errorf("message %s: not tracked", id)
	}
	if rec.Phase == PhaseSent {
		return nil
	}

	w.Cache.InvalidateAll(id)
	rec.Summary = w.Cache.GetOrCompute(id, FieldSummary, func() string {
		return w.Drafter.Summarize(ctx, rec.Message.Snippet)
	})
	rec.Draft = w.Cache.GetOrCompute(id, FieldDraft, func() string {
		return w.Drafter.Compose(ctx, rec.Message.Snippet, combineInstruction(instruction, userContext))
	})
	rec.Phase = PhaseDrafted
	rec.LastErr = nil
	return nil
}

// Record returns a copy of one message's workflow state.
func (w *Workflow) Record(id gmail.MessageID) (Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IDs returns tracked message ids in fetch order.
func (w *Workflow) IDs() []gmail.MessageID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]gmail.MessageID, len(w.order))
	copy(out, w.order)
	return out
}

func combineInstruction(instruction, userContext string) string {
	if userContext == "" {
		return instruction
	}
	return instruction + "\n\nHere is the user's detail for context: " + userContext
}
