package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

func sampleEmail() *model.RenderedEmail {
	return &model.RenderedEmail{
		CampaignID:    1,
		To:            "x@y.com",
		From:          model.Address{Email: "a@b.com", Name: "Acme"},
		ReplyTo:       "reply@b.com",
		Subject:       "Hi Sam",
		HTML:          "<p>Welcome Sam</p>",
		Text:          "Welcome Sam",
		TrackingToken: "eEB5LmNvbTox",
	}
}

func TestSendGridSenderPostsPayload(t *testing.T) {
	var got sgMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Message-Id", "abc")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewSendGridSender("SG.key", srv.URL+"/", time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), sampleEmail()))

	require.Len(t, got.Personalizations, 1)
	p := got.Personalizations[0]
	assert.Equal(t, "x@y.com", p.To[0].Email)
	assert.Equal(t, "Hi Sam", p.Subject)
	assert.Equal(t, "1", p.CustomArgs["campaign_id"])
	assert.Equal(t, "eEB5LmNvbTox", p.CustomArgs["tracking_token"])
	assert.Equal(t, "Acme", got.From.Name)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "reply@b.com", got.ReplyTo.Email)
	require.Len(t, got.Content, 2)
	assert.Equal(t, "text/plain", got.Content[0].Type)
	assert.Equal(t, "text/html", got.Content[1].Type)
	assert.True(t, got.TrackingSettings.OpenTracking.Enable)
}

func TestSendGridSenderLogsProviderMessageID(t *testing.T) {
	messageID := "abc"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if messageID != "" {
			w.Header().Set("X-Message-Id", messageID)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	s, err := NewSendGridSender("SG.key", srv.URL, time.Second, logger.New(&buf, "debug", "json"))
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), sampleEmail()))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["message_id"])
	assert.Equal(t, float64(http.StatusAccepted), entry["status_code"])

	buf.Reset()
	messageID = ""
	require.NoError(t, s.Send(context.Background(), sampleEmail()))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "", entry["message_id"])
}

func TestSendGridSenderUntrackedEmail(t *testing.T) {
	email := sampleEmail()
	email.TrackingToken = ""
	email.Text = ""

	s, err := NewSendGridSender("SG.key", "http://unused", time.Second, nil)
	require.NoError(t, err)
	msg := s.payload(email)

	assert.False(t, msg.TrackingSettings.ClickTracking.Enable)
	assert.NotContains(t, msg.Personalizations[0].CustomArgs, "tracking_token")
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "text/html", msg.Content[0].Type)
}

func TestSendGridSenderRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad from"}]}`))
	}))
	defer srv.Close()

	s, err := NewSendGridSender("SG.key", srv.URL, time.Second, nil)
	require.NoError(t, err)

	err = s.Send(context.Background(), sampleEmail())
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad from")
}

func TestSendGridSenderRequiresKey(t *testing.T) {
	_, err := NewSendGridSender("", "https://api.sendgrid.com", time.Second, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPostmarkSender(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"x@y.com","MessageID":"m-1","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	s, err := NewPostmarkSender("server-token", "", time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, s.WithBaseURL(srv.URL).Send(context.Background(), sampleEmail()))

	assert.Equal(t, "x@y.com", body["To"])
	assert.Equal(t, "Acme <a@b.com>", body["From"])
	assert.Equal(t, "Hi Sam", body["Subject"])
	assert.Equal(t, true, body["TrackOpens"])
	assert.Equal(t, "HtmlOnly", body["TrackLinks"])
}

func TestPostmarkSenderUntrackedEmail(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"x@y.com","MessageID":"m-2","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	email := sampleEmail()
	email.TrackingToken = ""

	s, err := NewPostmarkSender("server-token", "", time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, s.WithBaseURL(srv.URL).Send(context.Background(), email))

	assert.NotEqual(t, true, body["TrackOpens"])
	assert.Equal(t, "None", body["TrackLinks"])
	metadata, _ := body["Metadata"].(map[string]any)
	assert.NotContains(t, metadata, "tracking_token")
}

func TestPostmarkSenderErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer srv.Close()

	s, err := NewPostmarkSender("server-token", "", time.Second, nil)
	require.NoError(t, err)
	err = s.WithBaseURL(srv.URL).Send(context.Background(), sampleEmail())
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestMemorySender(t *testing.T) {
	m := NewMemorySender()
	boom := errors.New("mailbox full")
	m.FailFor["bad@y.com"] = boom

	require.NoError(t, m.Send(context.Background(), sampleEmail()))
	bad := sampleEmail()
	bad.To = "Bad@Y.com"
	assert.ErrorIs(t, m.Send(context.Background(), bad), boom)

	require.Len(t, m.Sent(), 1)
	assert.Equal(t, "x@y.com", m.Sent()[0].To)
}

func TestInstrumentPassesThrough(t *testing.T) {
	m := NewMemorySender()
	s := Instrument(m, "memory", metrics.New())
	require.NoError(t, s.Send(context.Background(), sampleEmail()))
	assert.Len(t, m.Sent(), 1)

	assert.Same(t, m, Instrument(m, "memory", nil))
}
