package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/myakuari-bot/internal/analysis"
)

// handlePhotoMessage adds the largest size of a photo to the input. A caption
// is taken as the description.
func (b *Bot) handlePhotoMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	// Telegram lists sizes smallest first
	photo := message.Photo[len(message.Photo)-1]
	if b.addImage(ctx, session, photo.FileID, int64(photo.FileSize)) && message.Caption != "" {
		b.handleFreeText(session, strings.TrimSpace(message.Caption))
	}
}

// handleDocumentMessage accepts images sent as files, which Telegram does not
// recompress.
func (b *Bot) handleDocumentMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	doc := message.Document
	if !strings.HasPrefix(doc.MimeType, "image/") {
		session.reply(MsgUnsupportedDocument)
		return
	}
	if b.addImage(ctx, session, doc.FileID, int64(doc.FileSize)) && message.Caption != "" {
		b.handleFreeText(session, strings.TrimSpace(message.Caption))
	}
}

// addImage downloads, normalizes and stores one image. Returns true if the
// image was added.
func (b *Bot) addImage(ctx context.Context, session *UserSession, fileID string, fileSize int64) bool {
	if session.ImageCount() >= analysis.MaxImages {
		session.replyText(localizeError(analysis.ErrTooManyImages))
		return false
	}
	if fileSize > b.downloader.MaxSize() {
		session.reply(MsgImageDownloadTooLarge)
		return false
	}

	data, err := b.downloader.DownloadFromTelegramFileID(ctx, b.tg.GetFileDirectURL, fileID)
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Str("fileID", fileID).Msg("image download failed")
		session.replyText(localizeError(err))
		return false
	}

	blob, err := b.processor.Process(data)
	if err != nil {
		log.Warn().Err(err).Int64("userId", session.userId).Int("bytes", len(data)).Msg("image rejected")
		session.replyText(localizeError(err))
		return false
	}

	session.addImage(*blob)
	log.Info().
		Int64("userId", session.userId).
		Int("width", blob.Width).
		Int("height", blob.Height).
		Int("quality", blob.Quality).
		Int("bytes", len(blob.Data)).
		Msg("image added")

	session.reply(MsgImageAdded, session.ImageCount(), analysis.MaxImages)
	return true
}
