package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/tier"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func testPrompt() promotion.Prompt {
	return promotion.Prompt{
		ID:          "p-1",
		Key:         "01HX",
		AgentID:     "team.alpha",
		Tier:        tier.Context,
		AccessCount: 7,
		BonusDays:   70,
		Preview:     "run migrations first",
	}
}

func TestNATSSinkPublishes(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()

	sink := NewNATSSink(nc, "")
	if got := sink.Subject("team.alpha"); got != "tiermem.prompts.team_alpha" {
		t.Errorf("subject = %q", got)
	}

	sub, err := nc.SubscribeSync(sink.Subject("team.alpha"))
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	if err := sink.Notify(context.Background(), testPrompt()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}

	var got struct {
		Key         string `json:"key"`
		Tier        string `json:"tier"`
		AccessCount int    `json:"access_count"`
		Text        string `json:"text"`
	}
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Key != "01HX" || got.Tier != "context" || got.AccessCount != 7 {
		t.Errorf("message = %+v", got)
	}
	if !strings.Contains(got.Text, "accessed 7 times") {
		t.Errorf("text = %q", got.Text)
	}
}

func TestNATSSinkCancelledContext(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewNATSSink(nc, "x").Notify(ctx, testPrompt()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core), "user")

	if err := sink.Notify(context.Background(), testPrompt()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	entries := logs.FilterMessage("tier promotion available").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["audience"] != "user" || fields["key"] != "01HX" || fields["access_count"] != int64(7) {
		t.Errorf("fields = %v", fields)
	}
}

type sinkFunc func(context.Context, promotion.Prompt) error

func (f sinkFunc) Notify(ctx context.Context, p promotion.Prompt) error { return f(ctx, p) }

func TestFanoutIndependentSinks(t *testing.T) {
	boom := errors.New("boom")
	var delivered int
	f := Fanout{
		sinkFunc(func(context.Context, promotion.Prompt) error { return boom }),
		nil,
		sinkFunc(func(context.Context, promotion.Prompt) error { delivered++; return nil }),
	}

	if err := f.Notify(context.Background(), testPrompt()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}

	if err := (Fanout{}).Notify(context.Background(), testPrompt()); err != nil {
		t.Errorf("empty fanout: %v", err)
	}
}
