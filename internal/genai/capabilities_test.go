package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

// scriptedGenerator returns out/err and records every request.
type scriptedGenerator struct {
	out  string
	err  error
	reqs []Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	g.reqs = append(g.reqs, req)
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("capability call without deadline")
	}
	return g.out, g.err
}

func newCaps(out string, err error) (*Capabilities, *scriptedGenerator) {
	g := &scriptedGenerator{out: out, err: err}
	return NewCapabilities(g, time.Second, nil), g
}

var testImage = &models.Image{Data: []byte("img"), MIMEType: "image/png"}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line fence", "```json {\"a\":1}```", `{"a":1}`},
		{"whitespace", "  media \n", "media"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
		want models.IntentLabel
	}{
		{"media", "media", nil, models.IntentMedia},
		{"sell with noise", "Answer: SELL.", nil, models.IntentSell},
		{"help", "help", nil, models.IntentHelp},
		{"garbage", "I cannot tell", nil, models.IntentHelp},
		{"error", "", errors.New("timeout"), models.IntentHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps, gen := newCaps(tt.out, tt.err)
			assert.Equal(t, tt.want, caps.ClassifyIntent(context.Background(), testImage))
			require.Len(t, gen.reqs, 1)
			assert.Equal(t, int32(50), gen.reqs[0].MaxTokens)
			assert.True(t, gen.reqs[0].DisableThinking)
			assert.Same(t, testImage, gen.reqs[0].Image)
		})
	}
}

func TestStartIdentification(t *testing.T) {
	t.Run("full opening", func(t *testing.T) {
		caps, _ := newCaps("```json\n"+`{"visual_clues":"red-and-white robot, cockpit view","question":"Is this a Gundam series?","media_candidate":{"media_type":"anime","title":"Mobile Suit Gundam","year":"1979"}}`+"\n```", nil)
		op, err := caps.StartIdentification(context.Background(), testImage)
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, "red-and-white robot, cockpit view", op.VisualSummary)
		assert.Equal(t, "Is this a Gundam series?", op.Question)
		require.NotNil(t, op.Candidate)
		assert.Equal(t, "Mobile Suit Gundam", op.Candidate.Title)
		assert.Equal(t, 1979, op.Candidate.Year)
		assert.Equal(t, models.MediaTypeAnime, op.Candidate.MediaType)
	})

	t.Run("defaults and null candidate", func(t *testing.T) {
		caps, _ := newCaps(`{"media_candidate":null}`, nil)
		op, err := caps.StartIdentification(context.Background(), testImage)
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, DefaultVisualSummary, op.VisualSummary)
		assert.Equal(t, DefaultMediaQuestion, op.Question)
		assert.Nil(t, op.Candidate)
	})

	t.Run("unparseable", func(t *testing.T) {
		caps, _ := newCaps("not json", nil)
		op, err := caps.StartIdentification(context.Background(), testImage)
		assert.NoError(t, err)
		assert.Nil(t, op)
	})

	t.Run("call error", func(t *testing.T) {
		caps, _ := newCaps("", errors.New("boom"))
		_, err := caps.StartIdentification(context.Background(), testImage)
		assert.Error(t, err)
	})
}

func TestContinueIdentification(t *testing.T) {
	in := MediaTurn{
		VisualSummary: "robot",
		History:       []models.Turn{{Speaker: models.SpeakerAssistant, Text: "q1"}, {Speaker: models.SpeakerUser, Text: "yes"}},
		Reply:         "yes",
		Candidate:     &models.MediaInfo{Title: "Mobile Suit Gundam"},
		Rejected:      []string{"Macross"},
	}

	tests := []struct {
		name     string
		out      string
		want     Outcome
		check    func(t *testing.T, r MediaResult)
		wantCall func(t *testing.T, req Request)
	}{
		{
			name: "finalized",
			out:  `{"identified":true,"data":{"media_type":"anime","title":"Mobile Suit Gundam","year":1979}}`,
			want: OutcomeFinalized,
			check: func(t *testing.T, r MediaResult) {
				require.NotNil(t, r.Final)
				assert.Equal(t, "Mobile Suit Gundam", r.Final.Title)
				assert.Equal(t, 1979, r.Final.Year)
			},
			wantCall: func(t *testing.T, req Request) {
				assert.True(t, req.JSON)
				assert.Nil(t, req.Image)
				assert.Contains(t, req.Prompt, "Macross")
				assert.Contains(t, req.Prompt, "Mobile Suit Gundam")
			},
		},
		{
			name: "finalized without title",
			out:  `{"identified":true,"data":{"title":""}}`,
			want: OutcomeUnparseable,
		},
		{
			name: "continuation keeps prior summary",
			out:  `{"identified":false,"question":"Is it Zeta?","media_candidate":{"title":"Zeta Gundam"}}`,
			want: OutcomeContinue,
			check: func(t *testing.T, r MediaResult) {
				assert.Equal(t, "robot", r.VisualSummary)
				assert.Equal(t, "Is it Zeta?", r.Question)
				require.NotNil(t, r.Candidate)
				assert.Equal(t, "Zeta Gundam", r.Candidate.Title)
				assert.Equal(t, models.MediaTypeOther, r.Candidate.MediaType)
			},
		},
		{
			name: "continuation without candidate",
			out:  `{"identified":false,"visual_clues":"robot, space","question":"Which decade?","media_candidate":null}`,
			want: OutcomeContinue,
			check: func(t *testing.T, r MediaResult) {
				assert.Equal(t, "robot, space", r.VisualSummary)
				assert.Nil(t, r.Candidate)
			},
		},
		{name: "continuation without question", out: `{"identified":false}`, want: OutcomeUnparseable},
		{name: "not json", out: "sorry", want: OutcomeUnparseable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps, gen := newCaps(tt.out, nil)
			r, err := caps.ContinueIdentification(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Outcome)
			if tt.check != nil {
				tt.check(t, r)
			}
			if tt.wantCall != nil {
				tt.wantCall(t, gen.reqs[0])
			}
		})
	}

	t.Run("call error", func(t *testing.T) {
		caps, _ := newCaps("", errors.New("network"))
		_, err := caps.ContinueIdentification(context.Background(), in)
		assert.Error(t, err)
	})
}

func TestContinueIdentificationTruncatesHistory(t *testing.T) {
	var history []models.Turn
	for i := 0; i < 10; i++ {
		history = append(history, models.Turn{Speaker: models.SpeakerUser, Text: "turn-" + string(rune('a'+i))})
	}
	caps, gen := newCaps(`{"identified":false,"question":"q"}`, nil)
	_, err := caps.ContinueIdentification(context.Background(), MediaTurn{History: history, Reply: "x"})
	require.NoError(t, err)
	prompt := gen.reqs[0].Prompt
	assert.False(t, strings.Contains(prompt, "turn-d"))
	assert.True(t, strings.Contains(prompt, "turn-e"))
	assert.True(t, strings.Contains(prompt, "turn-j"))
}

func TestAnalyzeProduct(t *testing.T) {
	caps, gen := newCaps(`{"image_summary":"black vacuum cleaner","extracted_info":{"product_name":"Dyson V8"},"first_question":""}`, nil)
	op, err := caps.AnalyzeProduct(context.Background(), testImage)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, "black vacuum cleaner", op.ImageSummary)
	assert.Equal(t, "Dyson V8", op.Info["product_name"])
	assert.Equal(t, DefaultProductQuestion, op.Question)
	assert.InDelta(t, 0.5, gen.reqs[0].Temperature, 1e-6)

	caps, _ = newCaps("nope", nil)
	op, err = caps.AnalyzeProduct(context.Background(), testImage)
	assert.NoError(t, err)
	assert.Nil(t, op)
}

func TestContinueSelling(t *testing.T) {
	in := SellTurn{ImageSummary: "vacuum", Info: map[string]any{"product_name": "Dyson V8"}, Reply: "3年使いました"}

	t.Run("sufficient", func(t *testing.T) {
		caps, _ := newCaps(`{"extracted_info":{"product_name":"Dyson V8","used_years":3},"is_sufficient":true,"listing":{"title":"Dyson V8 コードレス掃除機","description":"3年使用","category":"家電","condition":"やや傷や汚れあり"}}`, nil)
		r, err := caps.ContinueSelling(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFinalized, r.Outcome)
		require.NotNil(t, r.Listing)
		assert.Equal(t, "Dyson V8 コードレス掃除機", r.Listing.Title)
		assert.EqualValues(t, 3, r.Info["used_years"])
	})

	t.Run("needs more", func(t *testing.T) {
		caps, _ := newCaps(`{"is_sufficient":false,"next_question":"付属品はありますか？"}`, nil)
		r, err := caps.ContinueSelling(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, OutcomeContinue, r.Outcome)
		assert.Equal(t, "付属品はありますか？", r.Question)
		assert.Equal(t, in.Info, r.Info)
	})

	t.Run("sufficient without listing and no question", func(t *testing.T) {
		caps, _ := newCaps(`{"is_sufficient":true}`, nil)
		r, err := caps.ContinueSelling(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnparseable, r.Outcome)
	})
}
