// chat is a line-oriented terminal client for the messaging backend.
//
// Plain lines are sent to the open conversation. Commands:
//
//	/list              show the conversation directory
//	/open <id>         open a conversation by id (or list index)
//	/new <userId>      start or resume a conversation with a user
//	/image <path>      send an image file
//	/close             close the open conversation
//	/quit              exit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Vasu1712/scenyx-messaging/internal/api"
	"github.com/Vasu1712/scenyx-messaging/internal/chat"
	"github.com/Vasu1712/scenyx-messaging/internal/config"
	"github.com/Vasu1712/scenyx-messaging/internal/models"
	"github.com/Vasu1712/scenyx-messaging/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	var verbose bool
	flagSet := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "backend REST root")
	flagSet.StringVar(&cfg.PushURL, "push-url", cfg.PushURL, "push channel URL (default derived from --base-url)")
	flagSet.StringVar(&cfg.Token, "token", cfg.Token, "session token")
	flagSet.BoolVar(&cfg.OptimisticSends, "optimistic", cfg.OptimisticSends, "show sends before the server confirms them")
	flagSet.DurationVar(&cfg.TypingWindow, "typing-window", cfg.TypingWindow, "idle time before a typing burst ends")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.Changed("base-url") && !flagSet.Changed("push-url") && os.Getenv("CHAT_PUSH_URL") == "" {
		if cfg.PushURL, err = config.PushURLFor(cfg.BaseURL); err != nil {
			return err
		}
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.Token == "" {
		return errors.New("a session token is required (--token or CHAT_TOKEN)")
	}
	selfID, err := api.SubjectFromToken(cfg.Token)
	if err != nil {
		return err
	}

	tokens := api.NewTokenStore(cfg.Token)
	client, err := api.NewClient(api.Config{BaseURL: cfg.BaseURL, Tokens: tokens, Logger: logger})
	if err != nil {
		return err
	}
	push, err := ws.NewManager(ws.Config{URL: cfg.PushURL, Logger: logger})
	if err != nil {
		return err
	}
	session, err := chat.NewSession(chat.Config{
		SelfID:            selfID,
		Tokens:            tokens,
		OptimisticSends:   cfg.OptimisticSends,
		TypingWindow:      cfg.TypingWindow,
		PeerTypingTimeout: cfg.PeerTypingTimeout,
		PageSize:          cfg.PageSize,
		HistorySize:       cfg.HistorySize,
		RequestTimeout:    cfg.RequestTimeout,
		Logger:            logger,
	}, client, push)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	term := &terminal{session: session, out: os.Stdout, shown: make(map[string]struct{})}
	session.OnChange(term.changed)
	if err := session.Start(ctx, cfg.Token); err != nil {
		return err
	}
	fmt.Fprintf(term.out, "signed in as %s\n", selfID)
	term.list()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := term.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

type terminal struct {
	session *chat.Session
	out     io.Writer

	mu         sync.Mutex
	shown      map[string]struct{}
	peerTyping bool
}

func (t *terminal) handle(ctx context.Context, line string) bool {
	command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	var err error
	switch command {
	case "":
	case "/quit":
		return true
	case "/list":
		t.list()
	case "/open":
		err = t.open(ctx, arg)
	case "/new":
		var conv models.Conversation
		conv, err = t.session.StartConversation(ctx, arg)
		if err == nil {
			t.printf("opened %s\n", conv.ID)
		}
	case "/close":
		t.session.CloseConversation()
	case "/image":
		err = t.sendImage(ctx, arg)
	default:
		t.session.InputChanged()
		_, err = t.session.SendText(ctx, line)
	}
	if err != nil && !errors.Is(err, chat.ErrStaleResponse) {
		t.printf("! %v\n", err)
	}
	return false
}

func (t *terminal) open(ctx context.Context, arg string) error {
	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		convs := t.session.Conversations()
		if n < 1 || n > len(convs) {
			return fmt.Errorf("no conversation #%d", n)
		}
		id = convs[n-1].ID
	}
	return t.session.OpenConversation(ctx, id)
}

func (t *terminal) sendImage(ctx context.Context, path string) error {
	if path == "" {
		return chat.ErrNoImage
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = t.session.SendImage(ctx, chat.Image{
		FileName:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        f,
	})
	return err
}

func (t *terminal) list() {
	convs := t.session.Conversations()
	t.printf("%d conversations, %d unread\n", len(convs), t.session.UnreadTotal())
	for i, conv := range convs {
		partner, _ := conv.Partner(t.session.SelfID())
		preview := ""
		if conv.LastMessage != nil {
			preview = conv.LastMessage.Preview()
		}
		badge := ""
		if conv.UnreadCount > 0 {
			badge = fmt.Sprintf(" (%d)", conv.UnreadCount)
		}
		t.printf("%3d. %s%s  %s  [%s]\n", i+1, partner.DisplayName(), badge, preview, conv.ID)
	}
}

func (t *terminal) changed(change chat.Change) {
	switch change {
	case chat.ChangeTimeline:
		t.printNewMessages()
	case chat.ChangeTyping:
		typing := t.session.PeerTyping()
		t.mu.Lock()
		changed := typing != t.peerTyping
		t.peerTyping = typing
		t.mu.Unlock()
		if changed && typing {
			t.printf("... typing\n")
		}
	}
}

func (t *terminal) printNewMessages() {
	selfID := t.session.SelfID()
	for _, msg := range t.session.Messages() {
		key := msg.ID
		if key == "" {
			key = msg.ClientID
		}
		t.mu.Lock()
		_, seen := t.shown[key]
		if !seen && !msg.Pending() {
			t.shown[key] = struct{}{}
		}
		t.mu.Unlock()
		if seen || msg.Pending() {
			continue
		}
		who := msg.Sender.Username
		if who == "" {
			who = msg.SenderID()
		}
		if !msg.IsInbound(selfID) {
			who = "you"
		}
		body := msg.Content
		if msg.Kind == models.KindImage {
			body = "[image] " + msg.ImageURL
		}
		if msg.State == models.StateFailed {
			body += " (failed)"
		}
		t.printf("%s %s: %s\n", msg.CreatedAt.Local().Format("15:04"), who, body)
	}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
