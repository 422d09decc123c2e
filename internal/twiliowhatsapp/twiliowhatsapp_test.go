package twiliowhatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "whatsapp:+8190", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(WithFromWhats("+1"))
	assert.ErrorIs(t, err, ErrCredentialsNotSet)

	_, err = NewClient(WithAccountSID("AC1"), WithAuthToken("tok"))
	assert.ErrorIs(t, err, ErrFromNotSet)

	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+14155238886"))
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", c.fromWhats)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "whatsapp:+8190", Address("+8190"))
	assert.Equal(t, "whatsapp:+8190", Address("whatsapp:+8190"))
}

func TestClient_FetchMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+1"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	data, mime, err := c.FetchMedia(context.Background(), srv.URL+"/media/1", 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), data)
	assert.Equal(t, "image/jpeg", mime)

	_, _, err = c.FetchMedia(context.Background(), srv.URL+"/media/1", 4)
	assert.ErrorIs(t, err, ErrMediaTooLarge)

	bad, err := NewClient(WithAccountSID("AC1"), WithAuthToken("wrong"), WithFromWhats("+1"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	_, _, err = bad.FetchMedia(context.Background(), srv.URL+"/media/1", 1024)
	assert.Error(t, err)
}
