package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raine/myakuari-bot/internal/ads"
	"github.com/raine/myakuari-bot/internal/analysis"
	"github.com/raine/myakuari-bot/internal/quota"
	"github.com/raine/myakuari-bot/internal/storage"
)

const meterWidth = 10

// possibilityMeter draws a 10-cell bar for a 1-100 score.
func possibilityMeter(score int) string {
	filled := (score + meterWidth/2) / meterWidth
	filled = max(0, min(meterWidth, filled))
	return strings.Repeat("❤️", filled) + strings.Repeat("🤍", meterWidth-filled)
}

// verdict is a one-line summary of the score band.
func verdict(score int) string {
	switch {
	case score >= 80:
		return "かなり脈あり！"
	case score >= 60:
		return "脈ありの可能性大"
	case score >= 40:
		return "これからに期待"
	case score >= 20:
		return "もう少し距離を縮めよう"
	}
	return "まずは友達から"
}

func formatResult(r *analysis.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "💘 *脈あり度: %d%%*  %s\n", r.CouplePossibility, verdict(r.CouplePossibility))
	sb.WriteString(possibilityMeter(r.CouplePossibility))
	sb.WriteString("\n")
	if r.Confidence != nil {
		fmt.Fprintf(&sb, "信頼度: %d%%\n", *r.Confidence)
	}

	section := func(title, body string) {
		if body == "" {
			return
		}
		fmt.Fprintf(&sb, "\n*%s*\n%s\n", title, escapeMarkdown(body))
	}
	section("判定理由", r.JudgmentReason)
	section("アドバイス", r.ImprovementSuggestion)
	section("応援メッセージ", r.EncouragementMessage)

	return strings.TrimSpace(sb.String())
}

func formatStatus(st quota.State, input InputState, busy bool, history string) string {
	var sb strings.Builder
	sb.WriteString("📊 *ステータス*\n")
	fmt.Fprintf(&sb, "無料分析: %d回\n", st.RemainingFree)
	fmt.Fprintf(&sb, "ボーナス: %d回\n", st.ExtraCredits)
	fmt.Fprintf(&sb, "入力中の画像: %d/%d枚\n", len(input.Images), analysis.MaxImages)
	fmt.Fprintf(&sb, "説明: %d/%d文字\n", utf8.RuneCountInString(input.FreeText), analysis.MaxFreeTextRunes)
	if busy {
		sb.WriteString("⏳ 分析中\n")
	}
	if history != "" {
		sb.WriteString("\n*最近の分析*\n")
		sb.WriteString(history)
	}
	return strings.TrimSpace(sb.String())
}

func formatAttempts(attempts []storage.Attempt) string {
	var sb strings.Builder
	for _, a := range attempts {
		label, ok := outcomeLabels[a.Outcome]
		if !ok {
			label = a.Outcome
		}
		fmt.Fprintf(&sb, "• %s %s（画像%d枚）\n", a.CreatedAt.Local().Format("01/02 15:04"), label, a.ImageCount)
	}
	return sb.String()
}

func formatSponsor(slot ads.Slot) string {
	return "📣 *スポンサー*\n\n" + escapeMarkdown(slot.Text)
}
