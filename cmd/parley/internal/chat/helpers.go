package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/parley/cmd/parley/internal"
	"github.com/tinyland-inc/parley/pkg/analytics"
	"github.com/tinyland-inc/parley/pkg/api"
	"github.com/tinyland-inc/parley/pkg/connection"
	"github.com/tinyland-inc/parley/pkg/logger"
	"github.com/tinyland-inc/parley/pkg/moderation"
	"github.com/tinyland-inc/parley/pkg/notify"
	"github.com/tinyland-inc/parley/pkg/thread"
)

func chatCmd(with string, debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	internal.ApplyLogConfig(cfg)
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cred, err := internal.LoadCredential()
	if err != nil {
		return err
	}
	tokens := cred.TokenSource()

	agg := analytics.NewAggregator(cfg.Analytics.Capacity)
	if cfg.Analytics.SinkPath != "" {
		agg.SetSink(cfg.Server.APIBase+cfg.Analytics.SinkPath, tokens)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reporter, err := analytics.NewReporter(agg, cfg.Analytics.ReportSchedule); err == nil {
		go reporter.Run(ctx)
	} else {
		logger.WarnCF("chat", "Report schedule disabled", map[string]any{"error": err.Error()})
	}

	mod := moderation.NewClient(
		cfg.Server.APIBase+cfg.Moderation.Path,
		tokens,
		moderation.RetryPolicy{
			MaxAttempts: cfg.Moderation.MaxAttempts,
			BaseDelay:   cfg.ModerationRetryBase(),
		},
		agg,
		moderation.WithHTTPClient(&http.Client{Timeout: cfg.ModerationTimeout()}),
		moderation.WithExtraEmergencyKeywords(cfg.Moderation.ExtraEmergencyKeywords),
	)

	server := api.NewClient(cfg.Server.APIBase, tokens)

	mgr := connection.NewManager(connection.Options{
		URL:                  cfg.Server.WSURL,
		ReconnectBase:        cfg.ReconnectBase(),
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		Tokens:               tokens,
	})
	defer mgr.Disconnect()

	bus := notify.NewBus()
	defer bus.Close()

	session := thread.NewSession(cred.UserID, cred.DisplayName, server, mgr, mod, bus, thread.Options{
		PollInterval:   cfg.PollInterval(),
		TypingDebounce: cfg.TypingDebounce(),
		BadgeReset:     cfg.BadgeReset(),
	})
	defer session.Close()

	if err := mgr.Connect(ctx, cred.UserID); err != nil {
		// Live push is an enhancement; polling still covers delivery.
		logger.WarnCF("chat", "Channel unavailable, falling back to polling", map[string]any{
			"error": err.Error(),
		})
	}
	session.Start(ctx)

	go printNotifications(ctx, bus)

	if with != "" {
		if err := openCounterpart(ctx, session, with); err != nil {
			return err
		}
	}

	fmt.Printf("%s Interactive chat (Ctrl+C to exit, /help for commands)\n\n", internal.Logo)
	runRepl(ctx, session, agg)
	return nil
}

func openCounterpart(ctx context.Context, session *thread.Session, counterpartID string) error {
	if err := session.SelectCounterpart(ctx, counterpartID); err != nil {
		return fmt.Errorf("opening conversation with %s: %w", counterpartID, err)
	}
	view := session.View()
	if view.ThreadID == "" {
		fmt.Printf("No prior conversation with %s; your first message starts one.\n", counterpartID)
	} else {
		printMessages(view)
	}
	return nil
}

func printNotifications(ctx context.Context, bus *notify.Bus) {
	for {
		n, ok := bus.Consume(ctx)
		if !ok {
			return
		}
		switch n.Kind {
		case notify.KindIncomingMessage:
			fmt.Printf("\n📨 %s: %s\n", n.SenderID, n.Text)
		case notify.KindConnectivity:
			if n.Connected {
				fmt.Println("\n🟢 Connected")
			} else {
				fmt.Println("\n🔴 Disconnected")
			}
		case notify.KindReauthRequired:
			fmt.Println("\n⚠️  Session expired. Run 'parley onboard' to sign in again.")
		case notify.KindError:
			fmt.Printf("\n⚠️  %s\n", n.Text)
		}
	}
}

func runRepl(ctx context.Context, session *thread.Session, agg *analytics.Aggregator) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s > ", internal.Logo),
		HistoryFile:     filepath.Join(os.TempDir(), ".parley_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(ctx, session, agg, input); quit {
				fmt.Println("Goodbye!")
				return
			}
			continue
		}

		sendMessage(ctx, session, input)
	}
}

// handleCommand runs one slash command; returns true to quit.
func handleCommand(ctx context.Context, session *thread.Session, agg *analytics.Aggregator, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println("  /to <user-id>   open a conversation")
		fmt.Println("  /refresh        re-fetch the message list")
		fmt.Println("  /alt <n>        take the n-th suggested rephrasing")
		fmt.Println("  /stats          moderation statistics")
		fmt.Println("  /quit           exit")
	case "/to":
		if len(fields) < 2 {
			fmt.Println("Usage: /to <user-id>")
			return false
		}
		if err := openCounterpart(ctx, session, fields[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	case "/refresh":
		if err := session.Refresh(ctx); err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		printMessages(session.View())
	case "/alt":
		if len(fields) < 2 {
			fmt.Println("Usage: /alt <n>")
			return false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			fmt.Println("Usage: /alt <n>")
			return false
		}
		alt := session.PickAlternative(n - 1)
		if alt == "" {
			fmt.Println("No such alternative.")
			return false
		}
		fmt.Printf("Sending alternative: %s\n", alt)
		sendMessage(ctx, session, alt)
	case "/stats":
		printStats(agg)
	default:
		fmt.Printf("Unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func sendMessage(ctx context.Context, session *thread.Session, content string) {
	view := session.View()
	if view.CounterpartID == "" {
		fmt.Println("No conversation open. Use /to <user-id> first.")
		return
	}

	session.SetCompose(content)
	if err := session.Send(ctx, content); err != nil {
		logger.DebugCF("chat", "Send failed", map[string]any{"error": err.Error()})
	}

	view = session.View()
	if view.Feedback != nil {
		fb := view.Feedback
		fmt.Printf("\n🛑 Not sent: %s\n", fb.Explanation)
		for _, tip := range fb.Tips {
			fmt.Printf("   tip: %s\n", tip)
		}
		for i, alt := range fb.Alternatives {
			fmt.Printf("   [%d] %s\n", i+1, alt)
		}
		if len(fb.Alternatives) > 0 {
			fmt.Println("Pick one with /alt <n>, or rewrite your message.")
		}
		return
	}
	if view.Badge == thread.BadgePassed || view.Badge == thread.BadgeNone {
		fmt.Println("✓ sent")
	}
}

func printMessages(view thread.Snapshot) {
	if len(view.Messages) == 0 {
		fmt.Println("(no messages yet)")
		return
	}
	for _, m := range view.Messages {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Content)
	}
}

func printStats(agg *analytics.Aggregator) {
	stats := agg.Stats()
	fmt.Println("Moderation, last 24h:")
	fmt.Printf("  total %d, passed %d, blocked %d, errors %d, emergency %d\n",
		stats.Last24h.Total, stats.Last24h.Passed, stats.Last24h.Blocked,
		stats.Last24h.Errors, stats.Last24h.Emergency)
	fmt.Printf("  block rate %.1f%%, error rate %.1f%%, avg latency %.0fms\n",
		stats.Last24h.BlockRate, stats.Last24h.ErrorRate, stats.Last24h.AvgLatencyMs)
	fmt.Println("All time:")
	fmt.Printf("  total %d, passed %d, blocked %d, errors %d\n",
		stats.AllTime.Total, stats.AllTime.Passed, stats.AllTime.Blocked, stats.AllTime.Errors)

	blocked := agg.RecentBlocked(3)
	if len(blocked) > 0 {
		fmt.Println("Recent blocks:")
		for _, ev := range blocked {
			fmt.Printf("  %s (%d chars)\n", ev.Timestamp.Local().Format("Jan 2 15:04"), ev.MessageLength)
		}
	}
}
