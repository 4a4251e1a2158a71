package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/evanshaw/triagemail/internal/credential"
	"github.com/evanshaw/triagemail/internal/draft"
	"github.com/evanshaw/triagemail/internal/fault"
	"github.com/evanshaw/triagemail/internal/gmail"
	"github.com/evanshaw/triagemail/internal/rate"
	"github.com/evanshaw/triagemail/internal/runtime"
	"github.com/evanshaw/triagemail/internal/triage"
)

type triageConfig struct {
	credentialsPath string
	tokenPath       string
	limit           int
	rps             int
	markRead        bool
	oldestFirst     bool
	model           string
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("triagemail failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() triageConfig {
	credentials := flag.String("credentials", "credentials.json", "path to the OAuth client secret file")
	token := flag.String("token", "token.json", "path to the persisted credential slot")
	limit := flag.Int("limit", 5, "max unread messages to triage per batch")
	rps := flag.Int("rps", 4, "max Gmail requests per second")
	markRead := flag.Bool("mark-read", true, "remove the unread marker as messages are fetched")
	oldestFirst := flag.Bool("oldest-first", true, "triage the backlog in arrival order")
	model := flag.String("model", "gpt-4o-mini", "completion model for summaries and drafts")
	flag.Parse()

	return triageConfig{
		credentialsPath: *credentials,
		tokenPath:       *token,
		limit:           *limit,
		rps:             *rps,
		markRead:        *markRead,
		oldestFirst:     *oldestFirst,
		model:           *model,
	}
}

func run(cfg triageConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Secrets come from the environment; a local .env is a convenience,
	// not a requirement.
	_ = godotenv.Load()

	logger := runtime.DefaultLogger()
	stdin := bufio.NewReader(os.Stdin)

	oauthCfg, err := runtime.LoadOAuthConfig(cfg.credentialsPath)
	if err != nil {
		return fmt.Errorf("load oauth config: %w", err)
	}
	store := credential.NewStore(cfg.tokenPath, oauthCfg, logger)
	tok, err := acquireToken(ctx, store, oauthCfg, logger, stdin)
	if err != nil {
		return fmt.Errorf("acquire credential: %w", err)
	}

	svc, err := runtime.NewGmailService(ctx, oauthCfg, tok)
	if err != nil {
		return fmt.Errorf("create gmail service: %w", err)
	}

	var limiter rate.Limiter
	if cfg.rps > 0 {
		bucket := rate.NewTokenBucket(cfg.rps)
		limiter = bucket
		defer bucket.Stop()
	}
	client := runtime.NewGoogleAPIClient(svc, limiter, runtime.Options{OldestFirst: cfg.oldestFirst})

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	completer := draft.NewOpenAICompleter(apiKey, os.Getenv("OPENAI_BASE_URL"), cfg.model)
	drafter := draft.NewService(completer, logger)

	wf := triage.NewWorkflow(client, drafter, logger)
	wf.MarkReadOnFetch = cfg.markRead

	added, err := wf.FetchBatch(ctx, cfg.limit)
	if err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}
	if len(added) == 0 {
		fmt.Println("No unread messages to triage.")
		return nil
	}
	fmt.Printf("Fetched %d unread message(s).\n", len(added))

	for _, id := range wf.IDs() {
		if err := triageOne(ctx, wf, id, stdin); err != nil {
			return err
		}
	}
	return nil
}

// acquireToken resolves a usable credential: the persisted slot, a refresh,
// or failing both an interactive authorization exchange.
func acquireToken(ctx context.Context, store *credential.Store, oauthCfg *oauth2.Config, logger *slog.Logger, stdin *bufio.Reader) (*oauth2.Token, error) {
	tok, err := store.Token(ctx)
	if err == nil {
		return tok, nil
	}
	if !fault.IsAuth(err) {
		return nil, err
	}
	logger.Warn("no usable credential; starting authorization", "reason", err)

	flow := credential.NewFlow(credential.OAuthExchanger{Config: oauthCfg}, store, nil)
	fmt.Printf("Visit this URL to authorize access:\n\n  %s\n\nPaste the authorization code: ", flow.Start())
	line, err := stdin.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	tok, err = flow.SubmitCode(ctx, strings.TrimSpace(line))
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// triageOne walks a single message through summary, drafting, and the
// send/skip/refresh/edit prompt loop.
func triageOne(ctx context.Context, wf *triage.Workflow, id gmail.MessageID, stdin *bufio.Reader) error {
	rec, ok := wf.Record(id)
	if !ok {
		return nil
	}
	fmt.Printf("\n--- %s\nFrom:    %s\nSubject: %s\n", rec.Message.ID, rec.Message.Sender, rec.Message.Subject)

	instruction := prompt(stdin, "Reply instruction (blank for a polite acknowledgement): ")
	if instruction == "" {
		instruction = "Write a brief, polite acknowledgement."
	}
	userContext := prompt(stdin, "Extra context (optional): ")

	if err := wf.Advance(ctx, id, instruction, userContext); err != nil {
		return fmt.Errorf("advance %s: %w", id, err)
	}

	for {
		rec, _ = wf.Record(id)
		fmt.Printf("\nSummary:\n%s\n\nDraft:\n%s\n", rec.Summary, rec.Draft)

		switch prompt(stdin, "[s]end, s[k]ip, [r]efresh, [e]dit, [q]uit: ") {
		case "s":
			res, err := wf.Send(ctx, id)
			if err != nil {
				fmt.Printf("Send failed: %v\nThe draft is unchanged; choose an action again.\n", err)
				var unknown *fault.SendOutcomeUnknown
				if errors.As(err, &unknown) {
					fmt.Println("WARNING: the send outcome is unknown. Check your sent mail before retrying; a retry may deliver a duplicate.")
				}
				continue
			}
			if res.LabelWarning != nil {
				fmt.Printf("Sent %s, but relabeling was incomplete: %v\n", res.ID, res.LabelWarning)
			} else {
				fmt.Printf("Sent %s.\n", res.ID)
			}
			return nil
		case "k":
			if err := wf.Skip(id); err != nil {
				return err
			}
			fmt.Println("Skipped.")
			return nil
		case "r":
			instruction = prompt(stdin, "New reply instruction: ")
			userContext = prompt(stdin, "Extra context (optional): ")
			if err := wf.Refresh(ctx, id, instruction, userContext); err != nil {
				return fmt.Errorf("refresh %s: %w", id, err)
			}
		case "e":
			fmt.Println("Enter the replacement draft; finish with a single '.' line:")
			if err := wf.EditDraft(id, readBody(stdin)); err != nil {
				fmt.Printf("Edit rejected: %v\n", err)
			}
		case "q":
			return nil
		}
	}
}

func prompt(stdin *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func readBody(stdin *bufio.Reader) string {
	var lines []string
	for {
		line, err := stdin.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." || (err != nil && trimmed == "") {
			break
		}
		lines = append(lines, trimmed)
		if err != nil {
			break
		}
	}
	return strings.Join(lines, "\n")
}
