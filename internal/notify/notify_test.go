package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func event(typ domain.EventType) domain.Event {
	return domain.NewEvent(typ, domain.TopicRegistry, common.HexToAddress("0x60"), 3, 1000)
}

func TestNotifierFiltersByType(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{string(domain.EventMarketCreated)}, slog.Default())
	require.True(t, n.Enabled())

	err := n.Consume(context.Background(), []domain.Event{
		event(domain.EventSwap),
		event(domain.EventMarketCreated),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{string(domain.EventMarketCreated)}, rec.titles)
}

func TestNotifierReportsSenderFailure(t *testing.T) {
	bad := &recordingSender{err: errors.New("down")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.Consume(context.Background(), []domain.Event{event(domain.EventSwap)})
	require.Error(t, err)
	assert.Len(t, good.titles, 1)
}

func TestFormatEvent(t *testing.T) {
	ev := event(domain.EventSwap).
		WithAmount("out", big.NewInt(90)).
		WithAmount("in", big.NewInt(100)).
		WithAttr("market", "0xm")
	got := FormatEvent(ev)
	assert.True(t, strings.HasPrefix(got, "topic: registry\n"))
	assert.Less(t, strings.Index(got, "in: 100"), strings.Index(got, "out: 90"))
	assert.Contains(t, got, "market: 0xm")
}

func TestSenders(t *testing.T) {
	var got []map[string]string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
		if strings.Contains(r.URL.Path, "fail") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("tok", "42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "title", "body"))

	require.NoError(t, NewDiscordSender(srv.URL+"/hook").Send(context.Background(), "title", "body"))
	assert.Error(t, NewDiscordSender(srv.URL+"/fail").Send(context.Background(), "title", "body"))

	require.Len(t, got, 3)
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Contains(t, got[1]["content"], "**title**")
}

func TestDiscordContentFitsLimit(t *testing.T) {
	short := discordContent("market.created", "ok")
	assert.Equal(t, "**market.created**\n```\nok\n```", short)

	long := discordContent("governance.params_updated", strings.Repeat("é", 3000))
	assert.LessOrEqual(t, len(long), discordContentLimit)
	assert.True(t, utf8.ValidString(long))
	assert.True(t, strings.HasSuffix(long, "…\n```"))
}
