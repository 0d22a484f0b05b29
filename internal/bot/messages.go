package bot

import (
	"errors"
	"fmt"

	"github.com/raine/myakuari-bot/internal/analysis"
	"github.com/raine/myakuari-bot/internal/imageproc"
	"github.com/raine/myakuari-bot/internal/quota"
)

// =============================================================================
// General messages
// =============================================================================

const (
	MsgWelcome = `
		💘 *脈ありチェッカー*へようこそ！

		二人の写真（最大%d枚）と関係の説明（%d文字まで）を送ってください。
		準備ができたら /analyze で脈あり度を判定します。

		/clear 入力をリセット
		/status 残り回数を確認
		/bonus ボーナス回数を獲得
		/result 前回の結果を表示`
	MsgStartPrompt    = "写真か関係の説明を送ってください。準備ができたら /analyze"
	MsgUnknownCommand = "不明なコマンドです。/start で使い方を確認できます。"
	MsgUnexpectedErr  = `予期しないエラーが発生しました: %s`
	MsgInputCleared   = "入力をリセットしました。"
)

// =============================================================================
// Input messages
// =============================================================================

const (
	MsgTextSaved             = "説明を保存しました。（画像 %d/%d枚）\n/analyze で判定します。"
	MsgTextTruncated         = "説明が長すぎるため、先頭の%d文字だけを使います。"
	MsgImageAdded            = "画像を追加しました（%d/%d枚）。"
	MsgImageDownloadTooLarge = "ファイルが大きすぎます。別の画像を送ってください。"
	MsgUnsupportedDocument   = "画像ファイルのみ対応しています。"
)

// =============================================================================
// Analysis messages
// =============================================================================

const (
	MsgAnalyzing      = "分析中です…しばらくお待ちください 💭"
	MsgAnalysisBusy   = "前回の分析がまだ終わっていません。結果をお待ちください。"
	MsgNoResult       = "まだ結果がありません。/analyze で判定しましょう。"
	MsgQuotaExhausted = "今日の無料分析は使い切りました。ボーナスを獲得すると、もう一度分析できます。"
)

// =============================================================================
// Bonus messages
// =============================================================================

const (
	MsgBonusRewarded = "🎁 ボーナスを獲得しました！残り分析回数: %d"
	MsgBonusNoFill   = "🎁 現在表示できる広告がないため、ボーナスをプレゼントしました！残り分析回数: %d"
	MsgBonusSkipped  = "最後まで確認されなかったため、ボーナスは付与されませんでした。"
)

// =============================================================================
// Buttons
// =============================================================================

const (
	BtnEarnBonus   = "🎁 ボーナスを獲得"
	BtnSponsorLink = "詳しく見る"
)

// =============================================================================
// Error messages
// =============================================================================

const (
	MsgErrNoInput          = "写真か関係の説明を少なくとも一つ入力してください。"
	MsgErrTooManyImages    = "画像は最大%d枚までです。/clear でリセットできます。"
	MsgErrImageTooLarge    = "画像を十分に圧縮できませんでした。別の画像を試してください。"
	MsgErrUnsupportedImage = "この画像形式には対応していません。JPEG・PNG・GIF・WebP を送ってください。"
	MsgErrImageDimensions  = "画像の解像度が大きすぎます。縮小してから送ってください。"
	MsgErrDownload         = "画像のダウンロードに失敗しました。もう一度送ってください。"
	MsgErrQuotaExhausted   = "分析回数が残っていません。/bonus でボーナスを獲得してください。"
	MsgErrAdNotReady       = "広告を準備中です。少し待ってからもう一度 /bonus を試してください。"
	MsgErrSerialization    = "リクエストの作成に失敗しました。入力を変えてもう一度お試しください。"
	MsgErrTransport        = "サーバーに接続できませんでした。通信状況を確認してもう一度お試しください。"
	MsgErrEmptyResponse    = "サーバーから空の応答が返されました。しばらくしてからもう一度お試しください。"
	MsgErrMalformed        = "サーバーの応答を読み取れませんでした。しばらくしてからもう一度お試しください。"
	MsgErrAPI              = "分析サービスでエラーが発生しました（%d %s）。しばらくしてからもう一度お試しください。"
	MsgErrShape            = "分析結果が見つかりませんでした。もう一度お試しください。"
	MsgErrSchema           = "分析結果の形式が正しくありませんでした。もう一度お試しください。"
	MsgErrUnexpected       = "予期しないエラーが発生しました。もう一度お試しください。"
)

// localizeError turns any error from the analysis flow into a user-facing
// message. Every error maps to some message.
func localizeError(err error) string {
	var (
		transportErr *analysis.TransportError
		envelopeErr  *analysis.EnvelopeError
		shapeErr     *analysis.ShapeError
		schemaErr    *analysis.SchemaError
	)

	switch {
	case errors.Is(err, analysis.ErrNoInput):
		return MsgErrNoInput
	case errors.Is(err, analysis.ErrTooManyImages):
		return fmt.Sprintf(MsgErrTooManyImages, analysis.MaxImages)
	case errors.Is(err, imageproc.ErrImageTooLarge):
		return MsgErrImageTooLarge
	case errors.Is(err, imageproc.ErrImageDimensions):
		return MsgErrImageDimensions
	case errors.Is(err, imageproc.ErrUnsupportedImage):
		return MsgErrUnsupportedImage
	case errors.Is(err, ErrDownloadTooLarge):
		return MsgImageDownloadTooLarge
	case errors.Is(err, quota.ErrQuotaExhausted):
		return MsgErrQuotaExhausted
	case errors.Is(err, quota.ErrAdNotReady):
		return MsgErrAdNotReady
	case errors.Is(err, analysis.ErrSerialization):
		return MsgErrSerialization
	case errors.Is(err, analysis.ErrEmptyResponse):
		return MsgErrEmptyResponse
	case errors.As(err, &transportErr):
		return MsgErrTransport
	case errors.As(err, &envelopeErr):
		if envelopeErr.Malformed {
			return MsgErrMalformed
		}
		return fmt.Sprintf(MsgErrAPI, envelopeErr.Code, escapeMarkdown(envelopeErr.Status))
	case errors.As(err, &shapeErr):
		return MsgErrShape
	case errors.As(err, &schemaErr):
		return MsgErrSchema
	case errors.Is(err, ErrDownloadFailed):
		return MsgErrDownload
	}
	return MsgErrUnexpected
}

// outcomeOf names an attempt's outcome for the attempt log.
func outcomeOf(err error) string {
	var (
		transportErr *analysis.TransportError
		envelopeErr  *analysis.EnvelopeError
		shapeErr     *analysis.ShapeError
		schemaErr    *analysis.SchemaError
	)

	switch {
	case err == nil:
		return "success"
	case errors.Is(err, analysis.ErrNoInput):
		return "input_error"
	case errors.Is(err, analysis.ErrTooManyImages):
		return "too_many_images"
	case errors.Is(err, quota.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, analysis.ErrSerialization):
		return "serialization_error"
	case errors.Is(err, analysis.ErrEmptyResponse):
		return "empty_response"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &envelopeErr):
		return "envelope_error"
	case errors.As(err, &shapeErr):
		return "shape_error"
	case errors.As(err, &schemaErr):
		return "schema_error"
	}
	return "unexpected_error"
}

// outcomeLabels are the status screen names for attempt outcomes.
var outcomeLabels = map[string]string{
	"success":             "成功",
	"input_error":         "入力なし",
	"too_many_images":     "画像が多すぎる",
	"quota_exhausted":     "回数切れ",
	"serialization_error": "リクエストエラー",
	"empty_response":      "空の応答",
	"transport_error":     "通信エラー",
	"envelope_error":      "サービスエラー",
	"shape_error":         "結果なし",
	"schema_error":        "形式エラー",
	"unexpected_error":    "エラー",
}
