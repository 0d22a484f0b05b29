package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/myakuari-bot/internal/ads"
	"github.com/raine/myakuari-bot/internal/analysis"
	"github.com/raine/myakuari-bot/internal/quota"
)

const (
	callbackBonus   = "bonus:earn"
	callbackAnalyze = "analyze:run"

	recentAttemptsShown = 5
)

// handleFreeText stores the relationship description, replacing any earlier one.
// Called from session worker - no locking needed for reads.
func (b *Bot) handleFreeText(session *UserSession, text string) {
	truncated := analysis.TruncateFreeText(text)
	session.mu.Lock()
	session.input.FreeText = truncated
	session.mu.Unlock()

	if truncated != text {
		session.reply(MsgTextTruncated, analysis.MaxFreeTextRunes)
		return
	}
	session.reply(MsgTextSaved, session.ImageCount(), analysis.MaxImages)
}

// handleAnalyzeCommand validates the input, spends quota and starts the
// analysis in the background. At most one analysis per session is in flight.
func (b *Bot) handleAnalyzeCommand(ctx context.Context, session *UserSession) {
	if session.IsBusy() {
		session.reply(MsgAnalysisBusy)
		return
	}

	input := session.input.Snapshot()
	if err := input.Validate(); err != nil {
		b.recordAttempt(session.userId, err, len(input.Images))
		session.replyText(localizeError(err))
		return
	}

	if _, err := b.quota.OnForeground(session.userId); err != nil {
		session.replyWithError(err)
		return
	}
	source, err := b.quota.TryConsume(session.userId)
	if err != nil {
		b.recordAttempt(session.userId, err, len(input.Images))
		if errors.Is(err, quota.ErrQuotaExhausted) {
			msg := tgbotapi.NewMessage(session.userId, formatReplyText(MsgQuotaExhausted))
			msg.ParseMode = tgbotapi.ModeMarkdown
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(BtnEarnBonus, callbackBonus)),
			)
			session.replyWithMessage(msg)
			return
		}
		session.replyWithError(err)
		return
	}

	log.Info().
		Int64("userId", session.userId).
		Str("source", string(source)).
		Int("imageCount", len(input.Images)).
		Msg("starting analysis")

	session.setBusy(true)
	typingCtx, cancel := context.WithCancel(ctx)
	session.inFlight.typingCancel = cancel
	go session.startTypingLoop(typingCtx)

	session.reply(MsgAnalyzing)
	go b.runAnalysis(ctx, session, input)
}

// runAnalysis runs off the worker and posts its outcome back through the inbox.
func (b *Bot) runAnalysis(ctx context.Context, session *UserSession, input analysis.Input) {
	started := time.Now()
	outcome := &AnalysisOutcome{ImageCount: len(input.Images)}

	defer func() {
		if r := recover(); r != nil {
			outcome.Result = nil
			outcome.Err = fmt.Errorf("analysis panicked: %v", r)
		}
		outcome.Took = time.Since(started)
		session.Send(SessionMessage{
			Type:     "analysis_complete",
			Ctx:      ctx,
			Analysis: outcome,
		})
	}()

	outcome.Result, outcome.Err = b.analyzer.Analyze(ctx, input)
}

// handleAnalysisComplete applies the analysis outcome on the worker.
func (b *Bot) handleAnalysisComplete(session *UserSession, outcome *AnalysisOutcome) {
	session.stopTyping()
	session.setBusy(false)

	if outcome == nil {
		return
	}
	b.recordAttempt(session.userId, outcome.Err, outcome.ImageCount)

	if outcome.Err != nil {
		log.Warn().Err(outcome.Err).
			Int64("userId", session.userId).
			Dur("took", outcome.Took).
			Str("outcome", outcomeOf(outcome.Err)).
			Msg("analysis failed")
		session.replyText(localizeError(outcome.Err))
		return
	}

	session.lastResult = outcome.Result
	session.resetInput()
	session.replyText(formatResult(outcome.Result))
}

func (b *Bot) handleResultCommand(session *UserSession) {
	if session.lastResult == nil {
		session.reply(MsgNoResult)
		return
	}
	session.replyText(formatResult(session.lastResult))
}

func (b *Bot) handleStatusCommand(session *UserSession) {
	st, err := b.quota.Status(session.userId)
	if err != nil {
		session.replyWithError(err)
		return
	}

	session.mu.Lock()
	input := session.input
	session.mu.Unlock()

	var history string
	if b.attempts != nil {
		attempts, err := b.attempts.RecentAttempts(session.userId, recentAttemptsShown)
		if err != nil {
			log.Warn().Err(err).Int64("userId", session.userId).Msg("failed to load attempt history")
		} else {
			history = formatAttempts(attempts)
		}
	}

	session.replyText(formatStatus(st, input, session.IsBusy(), history))
}

// handleBonusCommand earns one extra credit through the rewarded-ad flow.
func (b *Bot) handleBonusCommand(ctx context.Context, session *UserSession) {
	outcome, err := b.quota.EarnCredit(ctx, session.userId)
	if err != nil {
		if !errors.Is(err, quota.ErrAdNotReady) {
			log.Error().Err(err).Int64("userId", session.userId).Msg("earning credit failed")
		}
		session.replyText(localizeError(err))
		return
	}

	st, err := b.quota.Status(session.userId)
	if err != nil {
		session.replyWithError(err)
		return
	}

	switch outcome {
	case quota.EarnRewarded:
		session.reply(MsgBonusRewarded, st.Total())
	case quota.EarnNoFill:
		session.reply(MsgBonusNoFill, st.Total())
	case quota.EarnSkipped:
		session.reply(MsgBonusSkipped)
	}
}

// PresentSponsor sends a sponsor slot to the user's chat. It implements
// ads.Presenter.
func (b *Bot) PresentSponsor(ctx context.Context, userID int64, slot ads.Slot) error {
	msg := tgbotapi.NewMessage(userID, formatSponsor(slot))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if slot.Link != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(BtnSponsorLink, slot.Link)),
		)
	}
	_, err := b.tg.Send(msg)
	return err
}

func (b *Bot) recordAttempt(userID int64, err error, imageCount int) {
	if b.attempts == nil {
		return
	}
	if _, recErr := b.attempts.RecordAttempt(userID, outcomeOf(err), imageCount); recErr != nil {
		log.Warn().Err(recErr).Int64("userId", userID).Msg("failed to record attempt")
	}
}
