package credential

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/evanshaw/triagemail/internal/fault"
)

// FlowState is the authorization flow's position.
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowAwaitingCode
	FlowExchanging
	FlowComplete
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowIdle:
		return "idle"
	case FlowAwaitingCode:
		return "awaiting-code"
	case FlowExchanging:
		return "exchanging"
	case FlowComplete:
		return "complete"
	case FlowFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exchanger is the external authorization backend: it mints the grant URL
// and trades a one-time code for a token. *oauth2.Config satisfies the
// concern via OAuthExchanger.
type Exchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// OAuthExchanger adapts an oauth2 config to the Exchanger seam, requesting
// offline access so the resulting credential carries a refresh token.
type OAuthExchanger struct {
	Config *oauth2.Config
}

func (o OAuthExchanger) AuthCodeURL(state string) string {
	return o.Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (o OAuthExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return o.Config.Exchange(ctx, code)
}

// Flow drives the interactive grant exchange when no valid credential
// exists: Idle -> AwaitingCode -> Exchanging -> Complete | Failed.
type Flow struct {
	Exchanger Exchanger
	Store     *Store // optional; successful exchanges are persisted through it
	Logger    *slog.Logger

	// NewHandle mints the per-exchange state handle. Defaults to uuid.
	NewHandle func() string

	mu     sync.Mutex
	state  FlowState
	handle string
	url    string
}

// NewFlow builds a flow over the given exchanger, persisting through store.
func NewFlow(exchanger Exchanger, store *Store, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Flow{
		Exchanger: exchanger,
		Store:     store,
		Logger:    logger,
		NewHandle: uuid.NewString,
	}
}

// Start returns the authorization URL the user must visit. While a code is
// already awaited the same URL comes back, so repeated calls never orphan a
// pending exchange handle. From Failed or Complete it discards the old
// handle and begins a fresh exchange.
func (f *Flow) Start() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == FlowAwaitingCode {
		return f.url
	}
	f.handle = f.NewHandle()
	f.url = f.Exchanger.AuthCodeURL(f.handle)
	f.state = FlowAwaitingCode
	return f.url
}

// SubmitCode trades the user-supplied code for a credential. Exactly one
// exchange is attempted per submitted code; on failure the flow parks in
// Failed and must be restarted with Start.
func (f *Flow) SubmitCode(ctx context.Context, code string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FlowAwaitingCode {
		return nil, &fault.ExchangeError{Err: fmt.Errorf("no exchange pending (state %s)", f.state)}
	}
	f.state = FlowExchanging
	tok, err := f.Exchanger.Exchange(ctx, code)
	if err != nil {
		f.state = FlowFailed
		return nil, &fault.ExchangeError{Err: err}
	}
	f.state = FlowComplete
	if f.Store != nil {
		if err := f.Store.Save(tok); err != nil {
			f.Logger.Warn("credential obtained but not persisted; continuing in memory", "error", err)
		}
	}
	return tok, nil
}

// State reports the flow's current position.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
