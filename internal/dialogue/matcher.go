package dialogue

import (
	"strings"
	"unicode"
)

// Confirmation is the reading of a reply on the confirmation stage.
type Confirmation int

const (
	// ConfirmUnclear means the reply neither accepts nor rejects the candidate.
	ConfirmUnclear Confirmation = iota
	ConfirmYes
	ConfirmNo
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmYes:
		return "yes"
	case ConfirmNo:
		return "no"
	default:
		return "unclear"
	}
}

// affirmations are whole replies accepted as a "yes" after normalisation.
var affirmations = map[string]struct{}{
	"はい": {}, "はいそうです": {}, "はいあってます": {}, "はい正解": {},
	"うん": {}, "うんうん": {}, "そう": {}, "そうです": {}, "そうだよ": {}, "そうそう": {},
	"正解": {}, "せいかい": {}, "合ってる": {}, "あってる": {}, "合ってます": {}, "あってます": {},
	"その通り": {}, "そのとおり": {}, "それです": {}, "それ": {},
	"yes": {}, "y": {}, "yeah": {}, "yep": {}, "correct": {}, "right": {}, "thatsright": {}, "exactly": {},
	"thatsit": {}, "thatstheone": {},
}

// Word-level tokens for replies made of several words. English words are
// matched whole; Japanese runs must split entirely into agreement tokens and
// particles.
var (
	yesWords = map[string]struct{}{
		"yes": {}, "y": {}, "yeah": {}, "yep": {}, "yup": {}, "ya": {}, "ok": {}, "okay": {}, "sure": {},
		"correct": {}, "right": {}, "exactly": {}, "indeed": {}, "absolutely": {}, "definitely": {},
		"true": {}, "bingo": {}, "perfect": {},
	}
	fillerWords = map[string]struct{}{
		"thats": {}, "that": {}, "it": {}, "its": {}, "is": {}, "this": {}, "the": {}, "one": {},
		"so": {}, "totally": {}, "very": {}, "much": {}, "thanks": {}, "thank": {}, "you": {}, "ty": {},
		"100": {}, "lol": {}, "oh": {},
	}
	noWords = map[string]struct{}{
		"no": {}, "n": {}, "nope": {}, "nah": {}, "not": {}, "wrong": {}, "incorrect": {},
		"isnt": {}, "nothing": {}, "never": {}, "neither": {},
	}
	jaYesTokens = []string{
		"はい", "ええ", "うん", "うむ", "そう", "そうそう", "正解", "せいかい",
		"合ってる", "あってる", "合ってます", "あってます", "その通り", "そのとおり", "それ",
		"オッケー", "おっけー", "オーケー", "了解", "間違いない", "まちがいない",
	}
	jaParticles = []string{"です", "だよ", "ですよ", "ですね", "よ", "ね"}
	// jaNoPrefixes only count at the start of a Japanese run.
	jaNoPrefixes = []string{"いや", "ノー"}

	// jaNoMarkers count anywhere in a Japanese run.
	jaNoMarkers = []string{
		"いいえ", "違", "ちが", "ちゃう", "ではな", "じゃな", "ではありません", "じゃありません",
		"間違って", "まちがって", "ハズレ", "はずれ", "外れ", "ブブー",
	}
)

// cancelWords end the current session regardless of its stage.
var cancelWords = map[string]struct{}{
	"キャンセル": {}, "やめる": {}, "やめます": {}, "やめて": {}, "中止": {}, "終了": {},
	"cancel": {}, "stop": {}, "quit": {},
}

// foldRune maps full-width ASCII to its half-width form and lower-cases it.
func foldRune(r rune) rune {
	if r >= '！' && r <= '～' {
		r = r - '！' + '!'
	}
	return unicode.ToLower(r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

// normalizeReply lower-cases s, folds full-width ASCII and drops spaces,
// punctuation and symbols such as emoji.
func normalizeReply(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		r = foldRune(r)
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// replyWords splits s on spaces, punctuation and symbols. Apostrophes inside
// a word are dropped so "that's" becomes "thats".
func replyWords(s string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		r = foldRune(r)
		switch {
		case isApostrophe(r):
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}

func isASCIIWord(w string) bool {
	for _, r := range w {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// splitJapanese reports whether w is made up entirely of jaYesTokens and
// jaParticles, and whether at least one agreement token was found.
func splitJapanese(w string) (ok, agreed bool) {
	if w == "" {
		return true, false
	}
	for _, tok := range jaYesTokens {
		if strings.HasPrefix(w, tok) {
			if ok, _ := splitJapanese(w[len(tok):]); ok {
				return true, true
			}
		}
	}
	for _, tok := range jaParticles {
		if strings.HasPrefix(w, tok) {
			if ok, agreed := splitJapanese(w[len(tok):]); ok {
				return true, agreed
			}
		}
	}
	return false, false
}

func hasJapaneseNegation(w string) bool {
	for _, p := range jaNoPrefixes {
		if strings.HasPrefix(w, p) {
			return true
		}
	}
	for _, m := range jaNoMarkers {
		if strings.Contains(w, m) {
			return true
		}
	}
	return false
}

// ClassifyConfirmation reads a reply to the "is this correct?" prompt. Any
// negation token makes it a "no". It is a "yes" only when it holds an
// agreement token and nothing besides agreement and filler words. Everything
// else is unclear.
func ClassifyConfirmation(reply string) Confirmation {
	if _, ok := affirmations[normalizeReply(reply)]; ok {
		return ConfirmYes
	}

	words := replyWords(reply)
	agreed, other := false, false
	for _, w := range words {
		if isASCIIWord(w) {
			if _, ok := noWords[w]; ok {
				return ConfirmNo
			}
			if _, ok := yesWords[w]; ok {
				agreed = true
				continue
			}
			if _, ok := fillerWords[w]; !ok {
				other = true
			}
			continue
		}
		if ok, yes := splitJapanese(w); ok {
			agreed = agreed || yes
			continue
		}
		if hasJapaneseNegation(w) {
			return ConfirmNo
		}
		other = true
	}
	if agreed && !other {
		return ConfirmYes
	}
	return ConfirmUnclear
}

// IsStrictAffirmation reports whether reply reads as an unambiguous "yes".
func IsStrictAffirmation(reply string) bool {
	return ClassifyConfirmation(reply) == ConfirmYes
}

// IsCancel reports whether reply asks to abandon the session.
func IsCancel(reply string) bool {
	_, ok := cancelWords[normalizeReply(reply)]
	return ok
}

// mentionsTitle reports whether reply names title, ignoring case, spacing
// and punctuation.
func mentionsTitle(reply, title string) bool {
	t := normalizeReply(title)
	if len([]rune(t)) < 2 {
		return false
	}
	return strings.Contains(normalizeReply(reply), t)
}
