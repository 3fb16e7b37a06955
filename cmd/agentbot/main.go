// Command agentbot is the chat-bot surface (spec §6): a Telegram
// long-polling loop that maps each chat to its own session, gates
// write-shaped tool calls behind an inline-button approval with a TTL,
// and enforces an allow-list, an admin sub-list, and a per-chat
// cooldown on non-command messages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northfield-labs/agentloop/pkg/budget"
	"github.com/northfield-labs/agentloop/pkg/classify"
	"github.com/northfield-labs/agentloop/pkg/config"
	"github.com/northfield-labs/agentloop/pkg/eventlog"
	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/scheduler"
	"github.com/northfield-labs/agentloop/pkg/session"
	"github.com/northfield-labs/agentloop/pkg/telegram"
	"github.com/northfield-labs/agentloop/pkg/tool"
	"github.com/northfield-labs/agentloop/pkg/tool/calc"
	"github.com/northfield-labs/agentloop/pkg/tool/cmdexec"
	"github.com/northfield-labs/agentloop/pkg/tool/fsops"
)

func main() {
	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.Telegram.BotToken == "" {
		fmt.Fprintln(os.Stderr, "Error: TELEGRAM_BOT_TOKEN is not set")
		os.Exit(1)
	}

	logFile, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	bot := &Bot{
		cfg:      cfg,
		root:     root,
		client:   telegram.New(cfg.Telegram.BotToken),
		store:    session.New(cfg.DataDir + "/sessions"),
		registry: tool.NewRegistry(append(fsops.Tools(), calc.Tool(), cmdexec.Tool())...),
		logger:   slog.New(eventlog.NewHandler(logFile)),
		pending:  map[string]*pendingApproval{},
		lastSeen: map[int64]time.Time{},
	}

	bot.run(context.Background())
}

// pendingApproval is a single outstanding write-tool approval, keyed
// by a fresh id embedded in the inline button's callback_data.
type pendingApproval struct {
	result chan bool
}

// Bot holds everything one long-polling run needs across updates.
type Bot struct {
	cfg      *config.Config
	root     string
	client   *telegram.Client
	store    *session.Store
	registry *tool.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingApproval
	lastSeen map[int64]time.Time
}

func (b *Bot) run(ctx context.Context) {
	var offset int64

	for {
		updates, err := b.client.Poll(ctx, offset, 30)
		if err != nil {
			b.logger.Error("error", "errorClass", string(classify.Classify(err)), "message", err.Error())
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1

			if u.CallbackID != "" {
				b.handleCallback(ctx, u)
				continue
			}

			go b.handleMessage(ctx, u)
		}
	}
}

func (b *Bot) handleCallback(ctx context.Context, u telegram.Update) {
	action, key, ok := strings.Cut(u.Text, ":")
	if !ok {
		return
	}

	b.mu.Lock()
	p, exists := b.pending[key]
	if exists {
		delete(b.pending, key)
	}
	b.mu.Unlock()

	if !exists {
		_ = b.client.AnswerCallback(ctx, u.CallbackID, "This approval has expired.")
		return
	}

	approved := action == "approve"
	select {
	case p.result <- approved:
	default:
	}
	_ = b.client.AnswerCallback(ctx, u.CallbackID, "")
}

func (b *Bot) handleMessage(ctx context.Context, u telegram.Update) {
	if allowed := b.cfg.Telegram.AllowedChatIDs; allowed != nil && !allowed[u.ChatID] {
		return
	}

	sessionID := fmt.Sprintf("tg-%d", u.ChatID)
	text := strings.TrimSpace(u.Text)

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, u.ChatID, sessionID, text)
		return
	}

	if !b.checkCooldown(u.ChatID) {
		return
	}

	b.runTurn(ctx, u.ChatID, sessionID, text, policy.PurposeDefault)
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, sessionID, text string) {
	switch {
	case text == "/start" || text == "/help":
		b.reply(ctx, chatID, "Commands: /start /help, /id, /reset, /dev <text>. Send any other text for a normal turn.")
	case text == "/id":
		b.reply(ctx, chatID, fmt.Sprintf("chat id: %d\nsession id: %s", chatID, sessionID))
	case text == "/reset":
		if err := b.store.Delete(sessionID); err != nil {
			b.reply(ctx, chatID, "❗ Error: "+err.Error())
			return
		}
		b.reply(ctx, chatID, "Session reset.")
	case strings.HasPrefix(text, "/dev "):
		if !b.isAdmin(chatID) {
			b.reply(ctx, chatID, "❗ Error: /dev requires admin access")
			return
		}
		b.runTurn(ctx, chatID, sessionID, strings.TrimPrefix(text, "/dev "), policy.PurposeDev)
	default:
		b.reply(ctx, chatID, "Unknown command. Try /help.")
	}
}

func (b *Bot) isAdmin(chatID int64) bool {
	return b.cfg.Telegram.AdminChatIDs != nil && b.cfg.Telegram.AdminChatIDs[chatID]
}

func (b *Bot) checkCooldown(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if last, ok := b.lastSeen[chatID]; ok {
		window := time.Duration(b.cfg.Telegram.RateLimitSeconds) * time.Second
		if now.Sub(last) < window {
			return false
		}
	}
	b.lastSeen[chatID] = now
	return true
}

func (b *Bot) runTurn(ctx context.Context, chatID int64, sessionID, text string, purpose policy.Purpose) {
	sess, err := b.store.GetOrCreate(sessionID)
	if err != nil {
		b.reply(ctx, chatID, "❗ Error: "+err.Error())
		return
	}
	sess.Messages = append(sess.Messages, message.User(text))

	env := &tool.Environment{Root: b.root, Purpose: purpose, Policy: b.cfg.Policy}
	approve := b.approvalFor(chatID)

	result, err := scheduler.Run(ctx, b.cfg.Router, b.registry, env, b.logger, approve, scheduler.Request{
		Messages: sess.Messages,
		Purpose:  purpose,
		Limits: budget.Limits{
			MaxSteps:     10,
			MaxToolCalls: 20,
		},
		SessionID: sessionID,
	})
	if err != nil {
		b.logger.Error("error", "session", sessionID, "errorClass", string(classify.Classify(err)), "message", err.Error())
		b.reply(ctx, chatID, "❗ Error: "+err.Error())
		return
	}

	sess.Messages = result.Messages
	if _, err := b.store.Save(sess); err != nil {
		b.reply(ctx, chatID, "❗ Error: "+err.Error())
		return
	}

	reply := result.Final.Text
	if b.cfg.Telegram.ShowUsage {
		reply += fmt.Sprintf("\n\n(%d tokens)", result.UsageTotal.TotalTokens)
		if rate, ok := b.cfg.CostRates[result.Final.Provider]; ok {
			usd := (float64(result.UsageTotal.InputTokens)*rate.InPerMillion +
				float64(result.UsageTotal.OutputTokens)*rate.OutPerMillion) / 1_000_000
			reply += fmt.Sprintf(" ≈ $%.4f", usd)
		}
	}
	b.reply(ctx, chatID, reply)
}

// approvalFor returns a scheduler.Approve that auto-approves every
// non-write call (reads, calculator, run_cmd) and gates writes behind an
// inline-button prompt with the configured TTL.
// Non-admin chats can never approve a write.
func (b *Bot) approvalFor(chatID int64) scheduler.Approve {
	return func(ctx context.Context, call message.ToolCall) (bool, error) {
		kind := policy.ClassifyTool(call.Name)
		if kind != policy.KindWrite {
			return true, nil
		}
		if !b.isAdmin(chatID) {
			return false, nil
		}

		key := uuid.NewString()
		ttl := time.Duration(b.cfg.Telegram.ApprovalTTLSeconds) * time.Second
		p := &pendingApproval{result: make(chan bool, 1)}

		b.mu.Lock()
		b.pending[key] = p
		b.mu.Unlock()

		defer func() {
			b.mu.Lock()
			delete(b.pending, key)
			b.mu.Unlock()
		}()

		if err := b.client.SendWithButtons(ctx, chatID, fmt.Sprintf("Approve %s?", call.Name), []telegram.Button{
			{Text: "✅ Approve", CallbackData: "approve:" + key},
			{Text: "🚫 Deny", CallbackData: "deny:" + key},
		}); err != nil {
			return false, err
		}

		select {
		case approved := <-p.result:
			return approved, nil
		case <-time.After(ttl):
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.Send(ctx, chatID, text); err != nil {
		b.logger.Error("error", "errorClass", string(classify.Classify(err)), "message", err.Error())
	}
}
