package dialogue

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/Kantei/internal/models"
)

// User-facing texts.
const (
	textMediaOpeningPrefix = "🎬 当てっこゲームをしましょう！\n"
	textTellMeMore         = "🤔 うーん、まだピンときていません。もう少しヒントを教えてもらえますか？"
	textConfirmPrompt      = "この作品で合っていますか？「はい」か「いいえ」でお答えください。"
	textRejectedFallback   = "失礼しました！別の作品かもしれませんね。登場人物や放送時期など、覚えていることを教えてください。"
	textRejectedPrefix     = "失礼しました！🙇\n"
	textRepeatedGuess      = "🤔 先ほど違うと言われた作品しか思い浮かびません…。別の手がかりを教えてもらえますか？その作品で合っている場合は、作品名を送ってください。"
	textRatingPrompt       = "この作品の満足度を1〜5の数字で教えてください⭐"
	textCancelled          = "🛑 鑑定を中止しました。また画像を送ってくださいね。"
	textGaveUp             = "ごめんなさい、今回は特定できませんでした😢 作品名がわかったら、また画像と一緒に教えてくださいね。"
	textSellComplete       = "📦 出品文ができました！そのままフリマアプリに貼り付けて使えます。"
	// TextPersistenceFailure is sent when the conversation state could not be saved.
	TextPersistenceFailure = "申し訳ありません、エラーが発生しました。少し時間をおいてもう一度お試しください。"
)

func mediaOpeningText(question string) string {
	return textMediaOpeningPrefix + question
}

// mediaCard renders a finalized candidate for the confirmation stage.
func mediaCard(m *models.MediaInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 「%s」ではありませんか？", m.Title)
	if m.Subtitle != "" {
		fmt.Fprintf(&b, "\n📺 %s", m.Subtitle)
	}
	if m.Year > 0 {
		fmt.Fprintf(&b, "\n📅 %d年", m.Year)
	}
	if m.ArtistOrCast != "" {
		fmt.Fprintf(&b, "\n👥 %s", m.ArtistOrCast)
	}
	if len(m.Genres) > 0 {
		fmt.Fprintf(&b, "\n🏷️ %s", strings.Join(m.Genres, " / "))
	}
	if m.Score > 0 {
		fmt.Fprintf(&b, "\n⭐ %.1f", m.Score)
	}
	if m.Synopsis != "" {
		fmt.Fprintf(&b, "\n\n%s", m.Synopsis)
	}
	if m.Trivia != "" {
		fmt.Fprintf(&b, "\n\n💡 %s", m.Trivia)
	}
	if m.ExternalURL != "" {
		fmt.Fprintf(&b, "\n\n🔗 %s", m.ExternalURL)
		if m.ExternalSource != "" {
			fmt.Fprintf(&b, " (%s)", m.ExternalSource)
		}
	}
	return b.String()
}

func confirmAgainText(m *models.MediaInfo) string {
	return fmt.Sprintf("「%s」で合っていれば「はい」、違う場合は「いいえ」と送ってください。", m.Title)
}

func mediaCompletedText(m *models.MediaInfo) string {
	return fmt.Sprintf("✅ 「%s」を視聴記録に保存しました！", m.Title)
}

// listingText renders a finished marketplace listing.
func listingText(l *models.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【タイトル】\n%s", l.Title)
	if l.Category != "" {
		fmt.Fprintf(&b, "\n\n【カテゴリ】\n%s", l.Category)
	}
	if l.Condition != "" {
		fmt.Fprintf(&b, "\n\n【商品の状態】\n%s", l.Condition)
	}
	if l.Description != "" {
		fmt.Fprintf(&b, "\n\n【説明】\n%s", l.Description)
	}
	return b.String()
}
