// Package notify sends operator-facing trade and health notifications over
// Telegram. It is a side channel only: nothing in the trading runtime
// blocks on delivery.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/types"
)

// Notifier is the operator notification side-channel. A nil Notifier (or
// one built with no token) is a no-op, so callers never guard every send.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New constructs a Notifier. If token is empty, the returned Notifier is a
// harmless no-op so callers can construct unconditionally.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		return &Notifier{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: init telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("📱 operator notifier initialized")
	return &Notifier{api: api, chatID: chatID}, nil
}

func (n *Notifier) enabled() bool {
	return n != nil && n.api != nil
}

// TradeOpened announces a newly recorded trade.
func (n *Notifier) TradeOpened(rec *types.TradeRecord) {
	if !n.enabled() {
		return
	}
	msg := fmt.Sprintf(`✅ *TRADE OPENED*

📊 %s — %s
🎯 Engine: *%s*
💵 Entry: *%s¢*
📦 Size: *$%s*
🎲 Confidence: *%.0f%%*`,
		rec.MarketID, rec.Direction,
		rec.Engine,
		rec.EntryPrice.Mul(decimal.NewFromInt(100)).StringFixed(1),
		rec.SizeUSD.StringFixed(2),
		rec.Confidence*100,
	)
	n.sendMarkdown(msg)
}

// TradeResolved announces a settled trade's outcome.
func (n *Notifier) TradeResolved(rec *types.TradeRecord) {
	if !n.enabled() {
		return
	}
	emoji := "📈"
	if rec.Outcome == types.OutcomeLoss {
		emoji = "📉"
	}
	sign := "+"
	if rec.RealizedPnL.IsNegative() {
		sign = ""
	}
	msg := fmt.Sprintf(`%s *TRADE RESOLVED*

📊 %s — %s
💵 P&L: *%s$%s*`,
		emoji, rec.MarketID, rec.Outcome,
		sign, rec.RealizedPnL.StringFixed(2),
	)
	n.sendMarkdown(msg)
}

// RiskGateTripped announces a cooldown or daily-cap trip for an engine.
func (n *Notifier) RiskGateTripped(engine types.Engine, reason string) {
	if !n.enabled() {
		return
	}
	n.sendMarkdown(fmt.Sprintf("🛑 *RISK GATE TRIPPED*\n\n🎯 Engine: *%s*\n📝 %s", engine, reason))
}

// Error announces an unrecoverable or noteworthy runtime error.
func (n *Notifier) Error(err error) {
	if !n.enabled() || err == nil {
		return
	}
	n.sendMarkdown(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

// Startup announces the bot coming online.
func (n *Notifier) Startup(mode string, bankroll decimal.Decimal) {
	if !n.enabled() {
		return
	}
	msg := fmt.Sprintf(`🚀 *BOT STARTED*

📊 Mode: *%s*
💰 Bankroll: *$%s*`, mode, bankroll.StringFixed(2))
	n.sendMarkdown(msg)
}

func (n *Notifier) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram notification")
	}
}
