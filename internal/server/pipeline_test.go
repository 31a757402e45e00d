package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/cursor"
	"github.com/daisyzhou/dota-stalker/internal/mailbox"
	"github.com/daisyzhou/dota-stalker/internal/processor"
	"github.com/daisyzhou/dota-stalker/internal/queue"
	"github.com/daisyzhou/dota-stalker/internal/roster"
	"github.com/daisyzhou/dota-stalker/internal/steam"
	"github.com/daisyzhou/dota-stalker/internal/stream"
)

// fakeSteamAPI serves the three endpoints the pipeline touches: one recent
// match for the bootstrap, one new match past the cursor, then an empty
// feed.
func fakeSteamAPI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/IDOTA2Match_570/GetMatchHistory/V001/":
			w.Write([]byte(`{"result":{"status":1,"matches":[{"match_id":1,"match_seq_num":100}]}}`))
		case "/IDOTA2Match_570/GetMatchHistoryBySequenceNum/V001/":
			if r.URL.Query().Get("start_at_match_seq_num") == "101" {
				w.Write([]byte(`{"result":{"status":1,"matches":[
					{"match_id":555,"match_seq_num":101,"players":[{"account_id":42},{}]}
				]}}`))
				return
			}
			w.Write([]byte(`{"result":{"status":1}}`))
		case "/ISteamUser/GetPlayerSummaries/v0002/":
			w.Write([]byte(`{"response":{"players":[{"personaname":"dendi"}]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestPipelineEndToEnd(t *testing.T) {
	upstream := fakeSteamAPI(t)
	defer upstream.Close()

	logger, _ := zap.NewDevelopment()

	client := steam.NewClient(upstream.URL, "test-key", 5*time.Second, logger)
	resolver := steam.NewResolver(upstream.URL, "test-key", 5*time.Second, time.Minute, logger)

	q := queue.NewMemoryQueue(64)
	defer q.Close()

	streamer := stream.New(client, cursor.New(), q, stream.Config{
		PollInterval: 5 * time.Millisecond,
	}, logger)
	if err := streamer.Start(); err != nil {
		t.Fatalf("starting streamer: %v", err)
	}
	defer streamer.Stop()

	const trackedID64 = uint64(76561197960265728 + 42)
	mb := mailbox.New()
	ros := roster.New([]uint64{trackedID64})

	proc := processor.New(q, ros, resolver, mb, nil, processor.Config{
		Workers:       1,
		MatchLinkBase: "http://www.dotabuff.com/matches/",
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proc.Run(ctx)

	handler := NewRouter(NewServer(mb, ros, resolver, nil, logger), logger)

	want := "dendi just finished match http://www.dotabuff.com/matches/555"
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, body := get(t, handler, "/poll")
		if body == want {
			break
		}
		if body != "NONE" {
			t.Fatalf("unexpected poll body %q", body)
		}
		if time.Now().After(deadline) {
			t.Fatal("notification never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The slot was cleared by the successful poll
	_, body := get(t, handler, "/poll")
	if body != "NONE" {
		t.Errorf("expected NONE after delivery, got %q", body)
	}
}
