package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConfirmation(t *testing.T) {
	tests := []struct {
		reply string
		want  Confirmation
	}{
		{"はい", ConfirmYes},
		{"はい！", ConfirmYes},
		{" はい。 ", ConfirmYes},
		{"そうです", ConfirmYes},
		{"YES", ConfirmYes},
		{"Ｙｅｓ", ConfirmYes},
		{"yes!!", ConfirmYes},
		{"That's right", ConfirmYes},
		{"正解👍", ConfirmYes},
		{"Yes, that's right", ConfirmYes},
		{"yes correct", ConfirmYes},
		{"はい、合ってます", ConfirmYes},
		{"はい合ってます！", ConfirmYes},
		{"OK", ConfirmYes},
		{"okay, thanks", ConfirmYes},
		{"うん、そう", ConfirmYes},
		{"ええ", ConfirmYes},
		{"そうそう、それです", ConfirmYes},
		{"間違いないです", ConfirmYes},
		{"いいえ", ConfirmNo},
		{"no", ConfirmNo},
		{"No.", ConfirmNo},
		{"nope", ConfirmNo},
		{"no, it's something else", ConfirmNo},
		{"that's wrong", ConfirmNo},
		{"it isn't", ConfirmNo},
		{"yes... no wait", ConfirmNo},
		{"違います", ConfirmNo},
		{"ちがう", ConfirmNo},
		{"はい、でも違う作品です", ConfirmNo},
		{"いや、続編のほう", ConfirmNo},
		{"それじゃない", ConfirmNo},
		{"yes but the sequel", ConfirmUnclear},
		{"たぶんそう", ConfirmUnclear},
		{"よ", ConfirmUnclear},
		{"Mobile Suit Gundam", ConfirmUnclear},
		{"it's the 1979 one?", ConfirmUnclear},
		{"", ConfirmUnclear},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyConfirmation(tt.reply))
			assert.Equal(t, tt.want == ConfirmYes, IsStrictAffirmation(tt.reply))
		})
	}
}

func TestMentionsTitle(t *testing.T) {
	assert.True(t, mentionsTitle("No wait, it IS Mobile Suit Gundam", "Mobile Suit Gundam"))
	assert.True(t, mentionsTitle("mobile-suit gundam, 1979", "Mobile Suit Gundam"))
	assert.True(t, mentionsTitle("やっぱり君の名は。です", "君の名は。"))
	assert.False(t, mentionsTitle("a robot anime", "Mobile Suit Gundam"))
	assert.False(t, mentionsTitle("anything", "X"))
}

func TestIsCancel(t *testing.T) {
	assert.True(t, IsCancel("キャンセル"))
	assert.True(t, IsCancel("Cancel."))
	assert.True(t, IsCancel("ＳＴＯＰ"))
	assert.True(t, IsCancel("やめて！"))
	assert.False(t, IsCancel("キャンセルしないで"))
	assert.False(t, IsCancel("don't stop"))
}

func TestReplyWords(t *testing.T) {
	assert.Equal(t, []string{"yes", "thats", "right"}, replyWords("Yes, that's right!"))
	assert.Equal(t, []string{"はい", "合ってます"}, replyWords("はい、合ってます"))
	assert.Empty(t, replyWords(" 👍 "))
}

func TestNormalizeReply(t *testing.T) {
	assert.Equal(t, "thatsright", normalizeReply("That's  right!"))
	assert.Equal(t, "abc123", normalizeReply("ＡＢＣ１２３"))
	assert.Equal(t, "はい", normalizeReply("はい〜♪"))
}
