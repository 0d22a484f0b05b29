package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/myakuari-bot/internal/analysis"
	"github.com/raine/myakuari-bot/internal/imageproc"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	// Message data (only one is set based on Type)
	Message       *tgbotapi.Message
	CallbackQuery *tgbotapi.CallbackQuery
	Text          string

	// For analysis_complete messages
	Analysis *AnalysisOutcome
}

// AnalysisOutcome is what the background analysis posts back to the worker.
type AnalysisOutcome struct {
	Result     *analysis.Result
	Err        error
	ImageCount int
	Took       time.Duration
}

// MessageSender abstracts the ability to send Telegram messages.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MessageHandler is the interface for processing session messages.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage)
}

// InputState is the analysis input the user is collecting.
type InputState struct {
	FreeText string
	Images   []imageproc.Blob
}

// Snapshot copies the input so the background analysis never shares the
// slice the worker keeps mutating.
func (in InputState) Snapshot() analysis.Input {
	images := make([]imageproc.Blob, len(in.Images))
	copy(images, in.Images)
	return analysis.Input{FreeText: in.FreeText, Images: images}
}

// InFlightState tracks the single outstanding analysis.
type InFlightState struct {
	// Busy is set while an analysis is outstanding. A second submission is
	// rejected, not queued.
	Busy         bool
	StartedAt    time.Time
	typingCancel context.CancelFunc
}

// UserSession represents a user's session with the bot.
//
// Threading model:
//   - Each session has a dedicated worker goroutine that processes messages sequentially
//   - Input, in-flight and result state are touched only from the worker, without locks
//   - The analysis itself runs on its own goroutine and reports back through the inbox
type UserSession struct {
	userId int64
	sender MessageSender
	mu     sync.Mutex // For thread-safe accessors

	// Worker channel for sequential message processing
	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler // Set after construction to avoid circular deps

	input      InputState
	inFlight   InFlightState
	lastResult *analysis.Result
}

// --- Thread-safe accessors ---

// IsBusy returns true while an analysis is outstanding.
func (s *UserSession) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight.Busy
}

// ImageCount returns the number of images collected so far.
func (s *UserSession) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.input.Images)
}

func (s *UserSession) setBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight.Busy = busy
	if busy {
		s.inFlight.StartedAt = time.Now()
	}
}

func (s *UserSession) addImage(blob imageproc.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input.Images = append(s.input.Images, blob)
}

// resetInput drops collected text and images. The last result is kept.
func (s *UserSession) resetInput() {
	log.Info().Int64("userId", s.userId).Msg("reset analysis input")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = InputState{}
}

func (s *UserSession) stopTyping() {
	if s.inFlight.typingCancel != nil {
		s.inFlight.typingCancel()
		s.inFlight.typingCancel = nil
	}
}

func (s *UserSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Send()
	return s._reply(formatReplyText(MsgUnexpectedErr, escapeMarkdown(err.Error())), false)
}

// sendTypingAction sends a "typing" chat action to show the user that the bot is processing.
// The typing indicator automatically expires after ~5 seconds in Telegram.
func (s *UserSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.userId, tgbotapi.ChatTyping)
	// Use Request instead of Send because sendChatAction returns a boolean, not a Message
	_, err := s.sender.Request(action)
	if err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Msg("failed to send typing action")
	}
}

// startTypingLoop sends a typing action every 4 seconds until the context is cancelled.
func (s *UserSession) startTypingLoop(ctx context.Context) {
	s.sendTypingAction()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTypingAction()
		}
	}
}

func (s *UserSession) replyWithMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	msg.ChatID = s.userId
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Interface("msg", msg).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Info().Int64("userId", s.userId).Int("messageId", sent.MessageID).Msg("sent message")
	}

	return sent
}

func (s *UserSession) _reply(text string, removeReplyKeyboard bool) tgbotapi.Message {
	msg := tgbotapi.MessageConfig{
		Text:      text,
		ParseMode: tgbotapi.ModeMarkdown,
	}

	if removeReplyKeyboard {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}

	return s.replyWithMessage(msg)
}

func (s *UserSession) reply(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...), false)
}

// replyText sends already formatted text as-is.
func (s *UserSession) replyText(text string) tgbotapi.Message {
	return s._reply(text, false)
}

// replyAndRemoveCustomKeyboard sends a text as reply while removing any
// existing custom reply keyboard.
func (s *UserSession) replyAndRemoveCustomKeyboard(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...), true)
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *UserSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *UserSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

func (s *UserSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

func (s *UserSession) processMessage(msg SessionMessage) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Int64("userId", s.userId).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("userId", s.userId).Msg("session handler not set")
		return
	}

	s.handler.HandleSessionMessage(msg.Ctx, s, msg)
}

// Send queues a message for processing by the worker.
// This is non-blocking - it returns immediately after queuing.
func (s *UserSession) Send(msg SessionMessage) {
	// A stopped worker never drains the inbox again
	if s.ctx.Err() != nil {
		if msg.Done != nil {
			close(msg.Done)
		}
		return
	}
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits for it to be processed.
func (s *UserSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	<-msg.Done
}

// Stop stops the worker and waits for it to finish.
func (s *UserSession) Stop() {
	s.cancel()
	s.wg.Wait()
}
