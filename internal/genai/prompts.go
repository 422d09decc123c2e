package genai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/Kantei/internal/models"
)

const classifyPrompt = `この画像がどの用途に当てはまるか1語で答えてください。

help  : スマートフォンの操作で困っている画面（エラー表示、設定画面、ログイン、警告ダイアログ、アップデート通知など）
media : 見ているコンテンツ（テレビ番組、映画、アニメ、スポーツ中継、動画配信、ライブ、ポスター、CDジャケット、本の表紙など）
sell  : フリマに出品したい品物（家電、ガジェット、衣類、バッグ、本、ゲーム機、フィギュアなどを撮影した写真）

出力は help / media / sell のいずれか1語のみ。`

const identifyPrompt = `あなたは映画・テレビ・アニメ・音楽・スポーツに詳しい鑑定士です。
画像に映っている作品を、当てっこゲームのようにユーザーとの会話で特定します。

ルール:
- 作品に心当たりがあっても、この時点では答えを言わないこと。
- 画像から読み取れる手がかり（人物の外見、背景、文字、色使い）を整理すること。
- 具体的な作品名を挙げた確認の質問を1つ、豆知識を1つ添えて楽しく聞くこと。
- 推測した作品は media_candidate に入れること（ユーザーには見せない内部情報）。

JSONのみで回答:
{
  "visual_clues": "画像から読み取れる手がかり",
  "question": "ユーザーへの最初の質問",
  "media_candidate": {
    "media_type": "anime|movie|tv_show|sports|music|book|other",
    "title": "推測した作品名",
    "subtitle": "キャラクター名・エピソード名",
    "artist_or_cast": "出演者・声優",
    "year": 2000,
    "trivia": "作品の豆知識"
  }
}
推測できない場合、media_candidate は null。`

const analyzeProductPrompt = `あなたはフリマアプリの出品を手伝うアシスタントです。
ユーザーが売りたい品物の写真を送ってきました。出品に必要な情報を画像から読み取ってください。

JSONのみで回答:
{
  "image_summary": "見た目の説明（色、形、ロゴ、型番などの文字）",
  "extracted_info": {
    "category": "推定カテゴリ",
    "product_name": "推定商品名（型番を含む）",
    "features": "特徴"
  },
  "first_question": "写真からは分からない一番大事な情報を尋ねる質問を1つ"
}
質問は「これは〇〇ですね！」と分かったことを伝えてから、型番・サイズ・ブランド・購入時期などを1つだけ聞くこと。`

func marshalForPrompt(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func continueIdentificationPrompt(in MediaTurn) string {
	var b strings.Builder
	b.WriteString("あなたは映画・テレビ・アニメに詳しい鑑定士です。当てっこゲームのように会話で作品を特定しています。\n\n")
	b.WriteString("現在の状況:\n")
	fmt.Fprintf(&b, "画像の手がかり: %s\n", in.VisualSummary)
	if in.Candidate != nil {
		fmt.Fprintf(&b, "現在の推測: %s\n", marshalForPrompt(in.Candidate))
	} else {
		b.WriteString("現在の推測: なし\n")
	}
	if len(in.Rejected) > 0 {
		fmt.Fprintf(&b, "ユーザーが否定した作品（再提案禁止）: %s\n", marshalForPrompt(in.Rejected))
	}
	fmt.Fprintf(&b, "会話履歴: %s\n", marshalForPrompt(models.LastTurns(in.History, MediaHistoryTurns)))
	fmt.Fprintf(&b, "ユーザーの最新の返答: %q\n\n", in.Reply)
	b.WriteString(`判断ルール:
1. 返答が推測を肯定している（「はい」「そう」「正解」「合ってる」など）なら確定する（形式A）。
2. 返答がヒント（キャラ名、作品名の一部など）なら知識で補い、「〇〇ですね！」と確認する質問をする（形式B）。
3. 返答が否定している（「違う」「いいえ」など）なら、別の作品を推測して質問する（形式B）。否定された作品は二度と出さない。
4. 質問には豆知識を添え、2〜3往復での特定を目指す。

形式A（確定）:
{"identified": true, "data": {"media_type": "...", "title": "...", "subtitle": "...", "artist_or_cast": "...", "year": 1979, "trivia": "..."}}

形式B（継続）:
{"identified": false, "visual_clues": "更新した手がかり", "question": "次の質問", "media_candidate": {"media_type": "...", "title": "...", "subtitle": "...", "artist_or_cast": "...", "year": 0, "trivia": "..."}}
新しい推測がなければ media_candidate は null。JSONのみで回答。`)
	return b.String()
}

func continueSellingPrompt(in SellTurn) string {
	var b strings.Builder
	b.WriteString("あなたはフリマアプリの出品を手伝うアシスタントです。ユーザーの返答をもとに出品情報を更新してください。\n\n")
	fmt.Fprintf(&b, "画像の特徴: %s\n", in.ImageSummary)
	fmt.Fprintf(&b, "これまでの情報: %s\n", marshalForPrompt(in.Info))
	fmt.Fprintf(&b, "会話履歴: %s\n", marshalForPrompt(models.LastTurns(in.History, SellHistoryTurns)))
	fmt.Fprintf(&b, "ユーザーの返答: %q\n\n", in.Reply)
	b.WriteString(`やること:
1. 返答から新しい情報（状態、サイズ、購入時期、型番など）を取り出し extracted_info を更新する。
2. 出品文を書けるだけの情報（商品名、カテゴリ、おおよその状態）が揃ったか is_sufficient で判定する。
3. 足りなければ next_question に次の質問を1つ書く。前の返答を受け止めてから聞くこと。
4. 揃っていれば listing に出品文を書く。無理に質問を続けないこと。

JSONのみで回答:
{
  "extracted_info": {},
  "is_sufficient": false,
  "next_question": "次の質問",
  "listing": {"title": "出品タイトル", "description": "商品説明", "category": "カテゴリ", "condition": "状態"}
}`)
	return b.String()
}
