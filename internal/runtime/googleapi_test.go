package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gmapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/evanshaw/triagemail/internal/gmail"
)

// fakeGmail serves just enough of the Gmail REST surface for the adapter.
type fakeGmail struct {
	mu sync.Mutex

	labels      []*gmapi.Label
	createCalls int
	// createStatus, when non-zero, fails label creation with that code.
	createStatus int
	// hideLabelsUntilCreate simulates a racing client: the label list is
	// empty until a creation attempt has been made.
	hideLabelsUntilCreate bool

	listRefs []*gmapi.Message
	messages map[string]*gmapi.Message

	sendCalls     int
	sentMessages  []*gmapi.Message
	threadStatus  int // non-zero fails threads.modify
	messageStatus int // non-zero fails messages.modify
}

func (f *fakeGmail) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, &gmapi.ListMessagesResponse{Messages: f.listRefs})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		msg, ok := f.messages[r.PathValue("id")]
		if !ok {
			writeAPIError(w, 404, "message not found")
			return
		}
		writeJSON(w, msg)
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var msg gmapi.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			writeAPIError(w, 400, "bad payload")
			return
		}
		f.sendCalls++
		f.sentMessages = append(f.sentMessages, &msg)
		writeJSON(w, &gmapi.Message{Id: fmt.Sprintf("sent-%d", f.sendCalls), ThreadId: msg.ThreadId})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.messageStatus != 0 {
			writeAPIError(w, f.messageStatus, "modify rejected")
			return
		}
		writeJSON(w, &gmapi.Message{Id: r.PathValue("id")})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/threads/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.threadStatus != 0 {
			writeAPIError(w, f.threadStatus, "modify rejected")
			return
		}
		writeJSON(w, &gmapi.Thread{Id: r.PathValue("id")})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.hideLabelsUntilCreate && f.createCalls == 0 {
			writeJSON(w, &gmapi.ListLabelsResponse{})
			return
		}
		writeJSON(w, &gmapi.ListLabelsResponse{Labels: f.labels})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.createCalls++
		if f.createStatus != 0 {
			writeAPIError(w, f.createStatus, "label name exists or conflicts")
			return
		}
		var l gmapi.Label
		if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
			writeAPIError(w, 400, "bad payload")
			return
		}
		l.Id = fmt.Sprintf("Label_%d", len(f.labels)+1)
		f.labels = append(f.labels, &l)
		writeJSON(w, &l)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func testClient(t *testing.T, fake *fakeGmail, opts Options) *googleClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	svc, err := gmapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return NewGoogleAPIClient(svc, nil, opts)
}

func TestEnsureLabelConcurrentCreatesOnce(t *testing.T) {
	fake := &fakeGmail{}
	client := testClient(t, fake, Options{})

	const callers = 8
	ids := make([]gc.LabelID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = client.EnsureLabel(context.Background(), "Replied")
		}()
	}
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %q, caller 0 got %q", i, ids[i], ids[0])
		}
	}
	if fake.createCalls != 1 {
		t.Fatalf("label created %d times, want exactly 1", fake.createCalls)
	}
}

func TestEnsureLabelMatchesCaseInsensitively(t *testing.T) {
	fake := &fakeGmail{labels: []*gmapi.Label{{Id: "Label_1", Name: "replied"}}}
	client := testClient(t, fake, Options{})

	id, err := client.EnsureLabel(context.Background(), "Replied")
	if err != nil {
		t.Fatalf("ensure label: %v", err)
	}
	if id != "Label_1" {
		t.Fatalf("id = %q, want the existing label", id)
	}
	if fake.createCalls != 0 {
		t.Fatalf("existing label recreated %d times", fake.createCalls)
	}
}

func TestEnsureLabelTreatsDuplicateCreateAsSuccess(t *testing.T) {
	// Another client wins the creation race: our lookup misses, our create
	// conflicts, and the re-lookup finds the winner's label.
	fake := &fakeGmail{
		labels:                []*gmapi.Label{{Id: "Label_9", Name: "Replied"}},
		createStatus:          409,
		hideLabelsUntilCreate: true,
	}
	client := testClient(t, fake, Options{})

	id, err := client.EnsureLabel(context.Background(), "Replied")
	if err != nil {
		t.Fatalf("duplicate creation must resolve to the existing label: %v", err)
	}
	if id != "Label_9" {
		t.Fatalf("id = %q, want Label_9", id)
	}
}

func TestGetMessageHeaderDefaults(t *testing.T) {
	fake := &fakeGmail{messages: map[string]*gmapi.Message{
		"m1": {
			Id: "m1", ThreadId: "t1", Snippet: "hello",
			Payload: &gmapi.MessagePart{Headers: []*gmapi.MessagePartHeader{
				{Name: "Date", Value: "Mon, 4 Aug 2025 10:00:00 +0000"},
			}},
		},
		"m2": {
			Id: "m2", ThreadId: "t2", Snippet: "dup headers",
			Payload: &gmapi.MessagePart{Headers: []*gmapi.MessagePartHeader{
				{Name: "Subject", Value: "first wins"},
				{Name: "Subject", Value: "second ignored"},
				{Name: "From", Value: "a@x.com"},
			}},
		},
	}}
	client := testClient(t, fake, Options{})

	m1, err := client.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get m1: %v", err)
	}
	if m1.Subject != gc.NoSubject || m1.Sender != gc.UnknownSender {
		t.Fatalf("missing headers should yield placeholders, got %+v", m1)
	}

	m2, err := client.GetMessage(context.Background(), "m2")
	if err != nil {
		t.Fatalf("get m2: %v", err)
	}
	if m2.Subject != "first wins" {
		t.Fatalf("subject = %q, want the first matching header", m2.Subject)
	}
}

func TestListUnreadOldestFirstAndCapped(t *testing.T) {
	fake := &fakeGmail{listRefs: []*gmapi.Message{
		{Id: "m3", ThreadId: "t3"},
		{Id: "m2", ThreadId: "t2"},
		{Id: "m1", ThreadId: "t1"},
	}}
	client := testClient(t, fake, Options{OldestFirst: true})

	refs, err := client.ListUnread(context.Background(), 2)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want the cap of 2", len(refs))
	}
	if refs[0].ID != "m2" || refs[1].ID != "m3" {
		t.Fatalf("refs = %v, want oldest-first within the cap", refs)
	}
}

func TestSendReplyDeliversAndRelabels(t *testing.T) {
	fake := &fakeGmail{labels: []*gmapi.Label{{Id: "Label_2", Name: "Replied"}}}
	client := testClient(t, fake, Options{})

	res, err := client.SendReply(context.Background(), gc.ReplyRequest{
		To:       "jane@x.com",
		Subject:  "Re: Order #4",
		Body:     "On its way.",
		ThreadID: "t1",
	})
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}
	if res.ID != "sent-1" || res.LabelWarning != nil {
		t.Fatalf("result = %+v", res)
	}
	if len(fake.sentMessages) != 1 {
		t.Fatalf("send calls = %d", len(fake.sentMessages))
	}
	sent := fake.sentMessages[0]
	if sent.ThreadId != "t1" {
		t.Fatalf("thread = %q", sent.ThreadId)
	}
	raw, err := base64.URLEncoding.DecodeString(sent.Raw)
	if err != nil {
		t.Fatalf("decode raw payload: %v", err)
	}
	payload := string(raw)
	if !strings.Contains(payload, "To: jane@x.com\r\n") || !strings.Contains(payload, "Subject: Re: Order #4\r\n") {
		t.Fatalf("payload missing headers:\n%s", payload)
	}
	if !strings.HasSuffix(payload, "\r\n\r\nOn its way.") {
		t.Fatalf("payload missing body:\n%s", payload)
	}
}

func TestSendReplyLabelFailuresAreWarnings(t *testing.T) {
	fake := &fakeGmail{
		labels:        []*gmapi.Label{{Id: "Label_2", Name: "Replied"}},
		threadStatus:  500,
		messageStatus: 500,
	}
	client := testClient(t, fake, Options{})

	res, err := client.SendReply(context.Background(), gc.ReplyRequest{
		To: "jane@x.com", Subject: "Re: Order #4", Body: "b", ThreadID: "t1",
	})
	if err != nil {
		t.Fatalf("label failures must not fail a delivered send: %v", err)
	}
	if res.LabelWarning == nil {
		t.Fatalf("expected a label warning")
	}
	warn := res.LabelWarning.Error()
	if !strings.Contains(warn, "t1") {
		t.Fatalf("warning should name the unread removal failure: %q", warn)
	}
	if !strings.Contains(warn, "Replied") {
		t.Fatalf("warning should name the relabel failure: %q", warn)
	}
	if fake.sendCalls != 1 {
		t.Fatalf("send calls = %d, want exactly 1", fake.sendCalls)
	}
}

func TestMarkReadAlreadyReadIsNoOp(t *testing.T) {
	fake := &fakeGmail{}
	client := testClient(t, fake, Options{})

	if err := client.MarkRead(context.Background(), "m1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := client.MarkRead(context.Background(), "m1"); err != nil {
		t.Fatalf("second mark read must also succeed: %v", err)
	}
}
