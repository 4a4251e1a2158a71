// internal/runtime/googleapi.go — adapts *gmail.Service to the triagemail client surface
package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	gmapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/evanshaw/triagemail/internal/fault"
	gc "github.com/evanshaw/triagemail/internal/gmail"
	"github.com/evanshaw/triagemail/internal/rate"
)

const unreadLabelID = "UNREAD"

// Options tunes the adapter's behavior.
type Options struct {
	// OldestFirst reverses the backend's newest-first listing so triage
	// works through the backlog in arrival order.
	OldestFirst bool
	// RepliedLabel is applied to sent replies. Defaults to "Replied".
	RepliedLabel string
}

type googleClient struct {
	svc     *gmapi.Service
	limiter rate.Limiter
	opts    Options

	// labelMu serializes ensure-label so concurrent callers cannot race
	// the existence check into duplicate creations.
	labelMu  sync.Mutex
	labelIDs map[string]gc.LabelID
}

// NewGoogleAPIClient wraps a Gmail API service in the triagemail client
// surface. limiter may be nil to disable rate gating.
func NewGoogleAPIClient(svc *gmapi.Service, limiter rate.Limiter, opts Options) *googleClient {
	if opts.RepliedLabel == "" {
		opts.RepliedLabel = "Replied"
	}
	return &googleClient{
		svc:      svc,
		limiter:  limiter,
		opts:     opts,
		labelIDs: map[string]gc.LabelID{},
	}
}

var _ gc.Client = (*googleClient)(nil)

func (g *googleClient) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *googleClient) ListUnread(ctx context.Context, limit int) ([]gc.MessageRef, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	res, err := g.svc.Users.Messages.List("me").
		LabelIds("INBOX").
		Q("is:unread").
		MaxResults(int64(limit)).
		Context(ctx).Do()
	if err != nil {
		return nil, fault.FromGoogleAPI("messages.list", err)
	}
	refs := make([]gc.MessageRef, 0, len(res.Messages))
	for _, m := range res.Messages {
		refs = append(refs, gc.MessageRef{ID: gc.MessageID(m.Id), ThreadID: gc.ThreadID(m.ThreadId)})
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}
	if g.opts.OldestFirst {
		for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
			refs[i], refs[j] = refs[j], refs[i]
		}
	}
	return refs, nil
}

func (g *googleClient) GetMessage(ctx context.Context, id gc.MessageID) (gc.Message, error) {
	if err := g.wait(ctx); err != nil {
		return gc.Message{}, err
	}
	msg, err := g.svc.Users.Messages.Get("me", string(id)).
		Format("metadata").
		MetadataHeaders("Subject", "From").
		Context(ctx).Do()
	if err != nil {
		return gc.Message{}, fault.FromGoogleAPI("messages.get", err)
	}
	out := gc.Message{
		ID:       id,
		ThreadID: gc.ThreadID(msg.ThreadId),
		Subject:  gc.NoSubject,
		Sender:   gc.UnknownSender,
		Snippet:  msg.Snippet,
	}
	if msg.Payload != nil {
		out.Subject = headerValue(msg.Payload.Headers, "Subject", gc.NoSubject)
		out.Sender = headerValue(msg.Payload.Headers, "From", gc.UnknownSender)
	}
	return out, nil
}

// headerValue matches by exact name, first match wins.
func headerValue(headers []*gmapi.MessagePartHeader, name, fallback string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return fallback
}

func (g *googleClient) MarkRead(ctx context.Context, id gc.MessageID) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	// Removing UNREAD from an already-read message succeeds backend-side.
	_, err := g.svc.Users.Messages.Modify("me", string(id), &gmapi.ModifyMessageRequest{
		RemoveLabelIds: []string{unreadLabelID},
	}).Context(ctx).Do()
	if err != nil {
		return fault.FromGoogleAPI("messages.modify", err)
	}
	return nil
}

func (g *googleClient) EnsureLabel(ctx context.Context, name string) (gc.LabelID, error) {
	g.labelMu.Lock()
	defer g.labelMu.Unlock()

	key := strings.ToLower(name)
	if id, ok := g.labelIDs[key]; ok {
		return id, nil
	}
	id, err := g.lookupLabel(ctx, key)
	if err != nil {
		return "", err
	}
	if id != "" {
		g.labelIDs[key] = id
		return id, nil
	}

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	created, err := g.svc.Users.Labels.Create("me", &gmapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		// Another client won the creation race; the existing label is the answer.
		if isDuplicateLabel(err) {
			if id, lookupErr := g.lookupLabel(ctx, key); lookupErr == nil && id != "" {
				g.labelIDs[key] = id
				return id, nil
			}
		}
		return "", fault.FromGoogleAPI("labels.create", fmt.Errorf("create label %q: %w", name, err))
	}
	g.labelIDs[key] = gc.LabelID(created.Id)
	return gc.LabelID(created.Id), nil
}

func (g *googleClient) lookupLabel(ctx context.Context, lowerName string) (gc.LabelID, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	lr, err := g.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", fault.FromGoogleAPI("labels.list", err)
	}
	for _, l := range lr.Labels {
		if strings.ToLower(l.Name) == lowerName {
			return gc.LabelID(l.Id), nil
		}
	}
	return "", nil
}

func isDuplicateLabel(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 409 ||
		(apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "exists"))
}

func (g *googleClient) SendReply(ctx context.Context, req gc.ReplyRequest) (gc.SendResult, error) {
	raw := encodeReply(req)
	if err := g.wait(ctx); err != nil {
		return gc.SendResult{}, err
	}
	sent, err := g.svc.Users.Messages.Send("me", &gmapi.Message{
		Raw:      raw,
		ThreadId: string(req.ThreadID),
	}).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return gc.SendResult{}, fault.FromGoogleAPI("messages.send", err)
		}
		// No HTTP status means the backend may have accepted the message
		// before the connection died. Retrying could duplicate the send.
		return gc.SendResult{}, &fault.SendOutcomeUnknown{ThreadID: string(req.ThreadID), Err: err}
	}

	// The send is committed. Both follow-up label mutations are attempted
	// regardless of each other's outcome; their failures are warnings, not
	// send failures.
	var warn *multierror.Error
	if err := g.waitAndModifyThread(ctx, req.ThreadID); err != nil {
		warn = multierror.Append(warn, fmt.Errorf("remove unread from thread %s: %w", req.ThreadID, err))
	}
	if err := g.labelSent(ctx, gc.MessageID(sent.Id)); err != nil {
		warn = multierror.Append(warn, err)
	}
	return gc.SendResult{ID: gc.MessageID(sent.Id), LabelWarning: warn.ErrorOrNil()}, nil
}

func (g *googleClient) waitAndModifyThread(ctx context.Context, threadID gc.ThreadID) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err := g.svc.Users.Threads.Modify("me", string(threadID), &gmapi.ModifyThreadRequest{
		RemoveLabelIds: []string{unreadLabelID},
	}).Context(ctx).Do()
	if err != nil {
		return fault.FromGoogleAPI("threads.modify", err)
	}
	return nil
}

func (g *googleClient) labelSent(ctx context.Context, sentID gc.MessageID) error {
	labelID, err := g.EnsureLabel(ctx, g.opts.RepliedLabel)
	if err != nil {
		return fmt.Errorf("resolve label %q: %w", g.opts.RepliedLabel, err)
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err = g.svc.Users.Messages.Modify("me", string(sentID), &gmapi.ModifyMessageRequest{
		AddLabelIds: []string{string(labelID)},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("apply label %q to %s: %w", g.opts.RepliedLabel, sentID, fault.FromGoogleAPI("messages.modify", err))
	}
	return nil
}

// encodeReply builds the raw RFC 822 payload the backend threads into the
// original conversation.
func encodeReply(req gc.ReplyRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", req.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", req.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(req.Body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}
