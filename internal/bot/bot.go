package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/myakuari-bot/internal/analysis"
	"github.com/raine/myakuari-bot/internal/imageproc"
	"github.com/raine/myakuari-bot/internal/quota"
	"github.com/raine/myakuari-bot/internal/storage"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// QuotaService gates analyses per user.
type QuotaService interface {
	OnForeground(userID int64) (quota.State, error)
	TryConsume(userID int64) (quota.Source, error)
	EarnCredit(ctx context.Context, userID int64) (quota.EarnOutcome, error)
	Status(userID int64) (quota.State, error)
}

// AttemptLog records analysis attempts.
type AttemptLog interface {
	RecordAttempt(userID int64, outcome string, imageCount int) (*storage.Attempt, error)
	RecentAttempts(userID int64, limit int) ([]storage.Attempt, error)
}

// ImageProcessor normalizes an uploaded image.
type ImageProcessor interface {
	Process(raw []byte) (*imageproc.Blob, error)
}

// Deps are the collaborators the bot needs.
type Deps struct {
	Analyzer   analysis.Analyzer
	Quota      QuotaService
	Attempts   AttemptLog
	Processor  ImageProcessor
	Downloader *ImageDownloader
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg         BotAPI
	state      BotState
	analyzer   analysis.Analyzer
	quota      QuotaService
	attempts   AttemptLog
	processor  ImageProcessor
	downloader *ImageDownloader
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, deps Deps) *Bot {
	bot := &Bot{
		tg:         tg,
		analyzer:   deps.Analyzer,
		quota:      deps.Quota,
		attempts:   deps.Attempts,
		processor:  deps.Processor,
		downloader: deps.Downloader,
	}
	if bot.downloader == nil {
		bot.downloader = NewImageDownloader()
	}

	bot.state = bot.NewBotState()
	return bot
}

// Shutdown stops every session worker.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	if update.CallbackQuery != nil {
		userId = update.CallbackQuery.From.ID
	} else if update.Message != nil && update.Message.From != nil {
		userId = update.Message.From.ID
	} else {
		return
	}

	session := b.state.getUserSession(userId)

	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          "callback",
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	message := update.Message
	log.Info().Int64("userId", userId).Str("text", message.Text).Int("photos", len(message.Photo)).Msg("got message")

	switch {
	case len(message.Photo) > 0:
		send(SessionMessage{Type: "photo", Ctx: ctx, Message: message})
	case message.Document != nil:
		send(SessionMessage{Type: "document", Ctx: ctx, Message: message})
	default:
		send(SessionMessage{Type: "text", Ctx: ctx, Message: message})
	}
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case "callback":
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case "photo":
		b.handlePhotoMessage(ctx, session, msg.Message)
	case "document":
		b.handleDocumentMessage(ctx, session, msg.Message)
	case "text":
		b.handleTextMessage(ctx, session, msg.Message)
	case "analysis_complete":
		b.handleAnalysisComplete(session, msg.Analysis)
	}
}

// handleTextMessage treats commands as commands and anything else as the
// relationship description.
func (b *Bot) handleTextMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		session.reply(MsgStartPrompt)
		return
	}
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, session, text)
		return
	}
	b.handleFreeText(session, text)
}

func (b *Bot) handleCommand(ctx context.Context, session *UserSession, text string) {
	command, _ := parseCommand(text)
	// Commands in groups arrive as /analyze@botname
	command, _, _ = strings.Cut(command, "@")

	switch command {
	case "/start", "/help":
		session.reply(MsgWelcome, analysis.MaxImages, analysis.MaxFreeTextRunes)
	case "/analyze":
		b.handleAnalyzeCommand(ctx, session)
	case "/clear":
		session.resetInput()
		session.replyAndRemoveCustomKeyboard(MsgInputCleared)
	case "/status":
		b.handleStatusCommand(session)
	case "/bonus":
		b.handleBonusCommand(ctx, session)
	case "/result":
		b.handleResultCommand(session)
	default:
		session.reply(MsgUnknownCommand)
	}
}

// handleCallbackQuery handles inline keyboard button presses.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.tg.Request(callback); err != nil {
		log.Debug().Err(err).Msg("failed to answer callback")
	}

	switch query.Data {
	case callbackBonus:
		b.handleBonusCommand(ctx, session)
	case callbackAnalyze:
		b.handleAnalyzeCommand(ctx, session)
	}
}
