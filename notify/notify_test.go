package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"webuntis-notifier/diff"
	"webuntis-notifier/pkg/timetable"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sentAt = time.Date(2025, 9, 15, 6, 30, 0, 0, time.UTC)

func teacherChange() diff.Classification {
	old := timetable.LessonInfo{
		Status: timetable.StatusRegular,
		Datetime: civil.DateTime{
			Date: civil.Date{Year: 2025, Month: 9, Day: 15},
			Time: civil.Time{Hour: 7, Minute: 45},
		},
		Subject: "Math", SubjectStatus: timetable.StatusRegular,
		Teacher: "Smith", TeacherStatus: timetable.StatusRegular,
		Room: "101", RoomStatus: timetable.StatusRegular,
	}
	updated := old
	updated.Teacher = "Jones"
	updated.SubstitutionText = "Jones covers"
	updated.Texts = []string{"bring book", "page 12"}
	return diff.Diff(old, updated).Classifications[0]
}

func TestLessonMessage(t *testing.T) {
	c := teacherChange()
	require.Equal(t, diff.TeacherChanged, c.Kind)

	m := LessonMessage(c, sentAt)
	assert.Equal(t, "Teacher Changed", m.Title)
	assert.Equal(t, ColorLesson, m.Color)
	assert.Equal(t, sentAt, m.Timestamp)

	want := "(2025-09-15 07:45)\n" +
		"**Teacher changed from Smith (Regular) to Jones (Regular).**\n" +
		"**Substitution Text:** Jones covers\n" +
		"**Text #1:** bring book\n" +
		"**Text #2:** page 12\n"
	assert.Equal(t, want, m.Body)

	assert.Equal(t, []Field{
		{Name: "Subject", Value: "Math"},
		{Name: "Teacher", Value: "Jones"},
		{Name: "Room", Value: "101"},
		{Name: "Time", Value: "07:45"},
	}, m.Fields)
}

func TestErrorMessage(t *testing.T) {
	m := ErrorMessage("Internal Error", errors.New("fetch day: timeout"), sentAt)
	assert.Equal(t, "Internal Error", m.Title)
	assert.Equal(t, "fetch day: timeout", m.Body)
	assert.Equal(t, ColorError, m.Color)
	assert.Equal(t, Color(0xe41811), ColorError)
	assert.Equal(t, "#9217ed", ColorLesson.Hex())
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "https://discord.com/api/webhooks/123456789012345678/abcDEF_-123"},
		{url: "http://discord.com/api/webhooks/1/tok", wantErr: true},
		{url: "https://example.com/api/webhooks/1/tok", wantErr: true},
		{url: "https://discord.com/api/webhooks/abc/tok", wantErr: true},
		{url: "https://discord.com/api/webhooks/-1/tok", wantErr: true},
		{url: "https://discord.com/api/webhooks/1", wantErr: true},
		{url: "https://discord.com/api/webhooks/1/tok/extra", wantErr: true},
		{url: "https://discord.com/api/hooks/1/tok", wantErr: true},
		{url: "https://discord.com/api/webhooks/1/tok?wait=true", wantErr: true},
		{url: "https://discord.com/api/webhooks/1/tok#frag", wantErr: true},
		{url: "https://discord.com/api/webhooks/1/to.k", wantErr: true},
	}
	for _, tt := range tests {
		err := ValidateWebhookURL(tt.url)
		if tt.wantErr {
			assert.Error(t, err, tt.url)
		} else {
			assert.NoError(t, err, tt.url)
		}
	}
}

func testDiscord(t *testing.T, handler http.HandlerFunc) *DiscordProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	d, err := NewDiscordProvider("https://discord.com/api/webhooks/1/token", discardLogger())
	require.NoError(t, err)
	d.endpoint = srv.URL
	d.delay = time.Millisecond
	return d
}

func TestDiscordSend(t *testing.T) {
	var got map[string]any
	d := testDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, d.Send(context.Background(), LessonMessage(teacherChange(), sentAt)))

	assert.Equal(t, "WebUntis", got["username"])
	assert.Equal(t, discordAvatarURL, got["avatar_url"])
	embeds := got["embeds"].([]any)
	require.Len(t, embeds, 1)
	e := embeds[0].(map[string]any)
	assert.Equal(t, "Teacher Changed", e["title"])
	assert.Equal(t, float64(ColorLesson), e["color"])
	assert.Equal(t, "2025-09-15T06:30:00Z", e["timestamp"])
	fields := e["fields"].([]any)
	require.Len(t, fields, 4)
	assert.Equal(t, map[string]any{"name": "Time", "value": "07:45", "inline": true}, fields[3])
}

func TestDiscordSendRetries(t *testing.T) {
	t.Run("server error retried", func(t *testing.T) {
		var calls atomic.Int32
		d := testDiscord(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		require.NoError(t, d.Send(context.Background(), ErrorMessage("Internal Error", errors.New("x"), sentAt)))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("bad request not retried", func(t *testing.T) {
		var calls atomic.Int32
		d := testDiscord(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		})
		require.Error(t, d.Send(context.Background(), ErrorMessage("Internal Error", errors.New("x"), sentAt)))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestRenderHTML(t *testing.T) {
	m := Message{
		Title:     "Room <Changed>",
		Body:      "(2025-09-15 07:45)\n**Room changed from 101 to B&2 (Changed).**\n**Notes:** bring <script>\n",
		Color:     ColorLesson,
		Fields:    []Field{{Name: "Room", Value: "B&2"}},
		Timestamp: sentAt,
	}
	html := renderHTML(m)

	assert.Contains(t, html, "<h1>Room &lt;Changed&gt;</h1>")
	assert.Contains(t, html, "<strong>Room changed from 101 to B&amp;2 (Changed).</strong><br>")
	assert.Contains(t, html, "<strong>Notes:</strong> bring &lt;script&gt;<br>")
	assert.Contains(t, html, "<td>B&amp;2</td>")
	assert.Contains(t, html, "#9217ed")
	assert.NotContains(t, html, "<script>")
}

func TestBoldMarkers(t *testing.T) {
	tests := map[string]string{
		"plain":           "plain",
		"**a** and **b**": "<strong>a</strong> and <strong>b</strong>",
		"**unterminated":  "**unterminated",
		"x **y** z **":    "x <strong>y</strong> z **",
		"****":            "<strong></strong>",
	}
	for in, want := range tests {
		assert.Equal(t, want, boldMarkers(in), in)
	}
}

func TestSanitizeEmailHeader(t *testing.T) {
	assert.Equal(t, "a@b.cBcc: evil@x", sanitizeEmailHeader("a@b.c\r\nBcc: evil@x"))
	assert.Equal(t, "Subject ok", sanitizeEmailHeader("Subject\x00 ok\x7f"))
}

func TestMimeMessage(t *testing.T) {
	raw := mimeMessage("parent@example.com\nBcc: x@y", ErrorMessage("Internal Error\r\nX-Evil: 1", errors.New("boom"), sentAt))
	headers, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, 4, strings.Count(headers, "\r\n")+1, "exactly four header lines: %q", headers)
	assert.Contains(t, headers, "Subject: [WebUntis] Internal ErrorX-Evil: 1")
	assert.Contains(t, body, "boom")
}

func TestBrevoSend(t *testing.T) {
	var req brevoSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.Header.Get("api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	b := NewBrevoProvider("key-123", "bot@example.com", "Timetable", "parent@example.com", discardLogger())
	b.endpoint = srv.URL
	b.delay = time.Millisecond

	require.NoError(t, b.Send(context.Background(), LessonMessage(teacherChange(), sentAt)))
	assert.Equal(t, "[WebUntis] Teacher Changed", req.Subject)
	assert.Equal(t, []brevoContact{{Email: "parent@example.com"}}, req.To)
	assert.Equal(t, "Timetable", req.Sender.Name)
	assert.Contains(t, req.HTML, "<strong>Text #2:</strong> page 12")
}

func TestGmailSend(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/send"), r.URL.Path)
		var msg struct {
			Raw string `json:"raw"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		raw = msg.Raw
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"m1"}`)
	}))
	defer srv.Close()

	g, err := DialGmail(context.Background(), "parent@example.com", discardLogger(),
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	require.NoError(t, g.Send(context.Background(), ErrorMessage("Internal Error", errors.New("boom"), sentAt)))
	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "To: parent@example.com\r\n")
	assert.Contains(t, string(decoded), "Subject: [WebUntis] Internal Error\r\n")
}

type failingProvider struct{ calls int }

func (*failingProvider) Name() string { return "failing" }

func (f *failingProvider) Send(context.Context, Message) error {
	f.calls++
	return errors.New("unreachable")
}

func TestDispatcher(t *testing.T) {
	mock := NewMockProvider(discardLogger())
	failing := &failingProvider{}
	d := New(discardLogger(), failing, mock)
	d.now = func() time.Time { return sentAt }
	ctx := context.Background()

	err := d.LessonChanged(ctx, teacherChange())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: unreachable")

	require.Error(t, d.InternalError(ctx, errors.New("timeout")))
	require.Error(t, d.Fatal(ctx, errors.New("too many failures")))

	sent := mock.Sent()
	require.Len(t, sent, 3, "a failing provider must not stop the others")
	assert.Equal(t, "Teacher Changed", sent[0].Title)
	assert.Equal(t, "Internal Error", sent[1].Title)
	assert.Equal(t, "timeout", sent[1].Body)
	assert.Equal(t, "shutting down: too many failures", sent[2].Body)
	assert.Equal(t, 3, failing.calls)
}

func TestDispatcherWithoutProviders(t *testing.T) {
	d := New(discardLogger())
	assert.NoError(t, d.InternalError(context.Background(), errors.New("x")))
}
