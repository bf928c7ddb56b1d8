package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankdogbe328/signals-sub000/internal/db"
	"github.com/frankdogbe328/signals-sub000/internal/notify"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := notify.Multi{a, nil, b}
	m.Notify(context.Background(), notify.Event{Kind: notify.KindWarning, AttemptID: "x"})
	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)
}

func TestQueue_DeliversBeforeClose(t *testing.T) {
	rec := &recorder{}
	q := notify.NewQueue(rec, 8)
	for i := 0; i < 5; i++ {
		q.Notify(context.Background(), notify.Event{Kind: notify.KindWarning})
	}
	require.NoError(t, q.Close(context.Background()))
	assert.Len(t, rec.all(), 5)

	// no panic sending after close
	q.Notify(context.Background(), notify.Event{Kind: notify.KindWarning})
	assert.Len(t, rec.all(), 5)
}

func TestWebhook_ClientCredentials(t *testing.T) {
	var (
		mu       sync.Mutex
		gotAuth  string
		gotEvent notify.Event
		posts    int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		posts++
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotEvent)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wh := notify.NewWebhook(notify.WebhookConfig{
		URL:          srv.URL + "/results",
		TokenURL:     srv.URL + "/token",
		ClientID:     "examd",
		ClientSecret: "s3cret",
		Timeout:      2 * time.Second,
	})
	ctx := context.Background()
	wh.Notify(ctx, notify.Event{Kind: notify.KindWarning, AttemptID: "a1"})
	wh.Notify(ctx, notify.Event{Kind: notify.KindResultReady, AttemptID: "a1", Score: 4, TotalMarks: 5, Percentage: 80, Letter: "A"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, posts, "only result-ready is posted")
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "a1", gotEvent.AttemptID)
	assert.Equal(t, 4, gotEvent.Score)
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	wh := notify.NewWebhook(notify.WebhookConfig{URL: srv.URL})
	err := wh.Post(context.Background(), notify.Event{Kind: notify.KindResultReady})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502"))
}

func TestEventLog_SQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file:notify_eventlog?mode=memory&cache=shared")
	require.NoError(t, err)
	defer conn.Close()

	el := notify.NewEventLog(conn, "")
	at := time.Unix(1_700_000_000, 0)
	el.Notify(ctx, notify.Event{Kind: notify.KindCritical, AttemptID: "a1", Message: "finalize failed", At: at})
	el.Notify(ctx, notify.Event{Kind: notify.KindResultReady, AttemptID: "a1", At: at.Add(time.Second)})
	el.Notify(ctx, notify.Event{Kind: notify.KindWarning, AttemptID: "a2", At: at})

	rows, err := el.List(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, notify.KindCritical, rows[0].Kind)
	assert.Equal(t, notify.KindResultReady, rows[1].Kind)
	assert.Less(t, rows[0].Seq, rows[1].Seq)
	assert.Equal(t, at.Unix(), rows[0].CreatedAt)
	assert.Contains(t, rows[0].Data, "finalize failed")
}
