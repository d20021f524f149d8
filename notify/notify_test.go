package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	var calls atomic.Int32
	m := Multi{
		NotifierFunc(func(context.Context, Message) error { calls.Add(1); return errA }),
		nil,
		NotifierFunc(func(context.Context, Message) error { calls.Add(1); return nil }),
	}

	err := m.Notify(context.Background(), Message{Kind: KindAccountRegistered})
	require.ErrorIs(t, err, errA)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOnlyFiltersKinds(t *testing.T) {
	var got []Kind
	n := Only(NotifierFunc(func(_ context.Context, m Message) error {
		got = append(got, m.Kind)
		return nil
	}), KindAccountLocked)

	require.NoError(t, n.Notify(context.Background(), Message{Kind: KindAccountRegistered}))
	require.NoError(t, n.Notify(context.Background(), Message{Kind: KindAccountLocked}))
	assert.Equal(t, []Kind{KindAccountLocked}, got)
}

func TestDispatcherDeliversAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var mu sync.Mutex
	var delivered []string

	target := NotifierFunc(func(_ context.Context, m Message) error {
		if m.Email == "bad@example.com" {
			return errors.New("smtp down")
		}
		mu.Lock()
		delivered = append(delivered, m.Email)
		mu.Unlock()
		return nil
	})

	d := NewDispatcher(target, DispatcherConfig{Workers: 1, QueueSize: 4}, zap.New(core))
	assert.True(t, d.Send(Message{Kind: KindAccountRegistered, Email: "a@example.com"}))
	assert.True(t, d.Send(Message{Kind: KindAccountRegistered, Email: "bad@example.com"}))
	d.Close()

	assert.False(t, d.Send(Message{Email: "late@example.com"}), "send after close must be rejected")
	assert.Equal(t, []string{"a@example.com"}, delivered)
	assert.Equal(t, uint64(1), d.Failed())
	assert.Equal(t, 1, logs.FilterMessage("notification failed").Len())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	target := NotifierFunc(func(context.Context, Message) error {
		started <- struct{}{}
		<-release
		return nil
	})

	d := NewDispatcher(target, DispatcherConfig{Workers: 1, QueueSize: 1}, nil)
	require.True(t, d.Send(Message{Email: "1"}))
	<-started
	require.True(t, d.Send(Message{Email: "2"}))
	assert.False(t, d.Send(Message{Email: "3"}))
	assert.Equal(t, uint64(1), d.Dropped())

	close(release)
	d.Close()
}

func TestTelegramSendsHTMLMessage(t *testing.T) {
	var gotPath string
	var gotBody telegramRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{BotToken: "T0K", ChatID: "42", APIURL: srv.URL}, srv.Client(), nil)
	require.NoError(t, err)

	err = tg.Notify(context.Background(), Message{
		Kind:       KindAccountRegistered,
		Email:      "alice@example.com",
		Name:       "Alice <admin>",
		SourceAddr: "10.0.0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, "/botT0K/sendMessage", gotPath)
	assert.Equal(t, "42", gotBody.ChatID)
	assert.Equal(t, "HTML", gotBody.ParseMode)
	assert.Contains(t, gotBody.Text, "alice@example.com")
	assert.Contains(t, gotBody.Text, "Alice &lt;admin&gt;")
	assert.Contains(t, gotBody.Text, "<code>10.0.0.1</code>")
}

func TestTelegramAPIErrorAndBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{
		BotToken:     "x",
		ChatID:       "1",
		APIURL:       srv.URL,
		MinRequests:  2,
		FailureRatio: 0.5,
		OpenTimeout:  time.Minute,
	}, srv.Client(), nil)
	require.NoError(t, err)

	msg := Message{Kind: KindAccountLocked, Email: "a@example.com", LockCount: 3, Permanent: true}
	err = tg.Notify(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")

	_ = tg.Notify(context.Background(), msg)
	assert.Equal(t, gobreaker.StateOpen, tg.State())

	err = tg.Notify(context.Background(), msg)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the API")
}

func TestNewTelegramRequiresCredentials(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: "1"}, nil, nil)
	require.Error(t, err)
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublishesToKindTopic(t *testing.T) {
	w := &recordingWriter{}
	k := NewKafkaWithWriter(w, "")
	until := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)

	require.NoError(t, k.Notify(context.Background(), Message{Kind: KindAccountRegistered, AccountID: "acc-1", Email: "a@example.com"}))
	require.NoError(t, k.Notify(context.Background(), Message{Kind: KindAccountLocked, AccountID: "acc-1", Email: "a@example.com", LockCount: 1, LockedUntil: &until}))
	require.NoError(t, k.Notify(context.Background(), Message{Kind: "other"}))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, TopicAccountRegistered, w.msgs[0].Topic)
	assert.Equal(t, TopicAccountLocked, w.msgs[1].Topic)
	assert.Equal(t, "acc-1", string(w.msgs[1].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &env))
	assert.Equal(t, "guardian", env.Source)
	assert.Equal(t, string(KindAccountLocked), env.EventType)

	var data lockedData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.LockCount)
	require.NotNil(t, data.LockedUntil)
	assert.True(t, until.Equal(*data.LockedUntil))
}

func TestKafkaWrapsWriterError(t *testing.T) {
	k := NewKafkaWithWriter(&recordingWriter{err: errors.New("broker gone")}, "svc")
	err := k.Notify(context.Background(), Message{Kind: KindAccountRegistered, AccountID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicAccountRegistered)
}

func TestNewKafkaRequiresBrokers(t *testing.T) {
	_, err := NewKafka(KafkaConfig{})
	require.Error(t, err)
}

// fakeSMTP speaks just enough SMTP for one plain-text delivery.
func fakeSMTP(t *testing.T, conn net.Conn, data chan<- string) {
	t.Helper()
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			_ = tp.PrintfLine("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM"), strings.HasPrefix(cmd, "RCPT TO"):
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			data <- string(body)
			_ = tp.PrintfLine("250 queued")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func TestEmailSendsWelcomeOnRegistration(t *testing.T) {
	e, err := NewEmail(EmailConfig{Host: "localhost", FromAddress: "noreply@example.com", FromName: "Guardian"})
	require.NoError(t, err)

	data := make(chan string, 1)
	e.dial = func(context.Context, string) (net.Conn, error) {
		client, server := net.Pipe()
		go fakeSMTP(t, server, data)
		return client, nil
	}

	err = e.Notify(context.Background(), Message{Kind: KindAccountRegistered, Email: "alice@example.com", Name: "Alice", SourceAddr: "10.0.0.1"})
	require.NoError(t, err)

	body := <-data
	assert.Contains(t, body, "To: alice@example.com")
	assert.Contains(t, body, "From: Guardian <noreply@example.com>")
	assert.Contains(t, body, "Hello Alice")
	assert.Contains(t, body, "10.0.0.1")
}

func TestEmailIgnoresOtherKinds(t *testing.T) {
	e, err := NewEmail(EmailConfig{Host: "localhost", FromAddress: "noreply@example.com"})
	require.NoError(t, err)
	e.dial = func(context.Context, string) (net.Conn, error) {
		t.Fatal("no connection expected")
		return nil, nil
	}
	require.NoError(t, e.Notify(context.Background(), Message{Kind: KindAccountLocked, Email: "a@example.com"}))
}
