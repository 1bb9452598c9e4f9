package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/hitoshi/kindred/internal/bus"
)

// --- モック定義 ---

type recordingNotifier struct {
	mu     sync.Mutex
	got    []Notification
	failOn string
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.UserID == r.failOn {
		return errors.New("push gateway unavailable")
	}
	r.got = append(r.got, n)
	return nil
}

type nopCloser struct{ closed *int }

func (c nopCloser) Close() error { *c.closed++; return nil }

type fakeSubscriber struct {
	subjects []string
	durables []string
	failOn   string
	closed   int
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, subj, durable string, fn func(context.Context, []byte) error) (io.Closer, error) {
	if subj == f.failOn {
		return nil, errors.New("stream unavailable")
	}
	f.subjects = append(f.subjects, subj)
	f.durables = append(f.durables, durable)
	return nopCloser{closed: &f.closed}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- テスト ---

func TestConsumer_Start_SubscribesBothSubjects(t *testing.T) {
	sub := &fakeSubscriber{}
	c := NewConsumer(sub, &recordingNotifier{}, discardLogger(), 0)

	closers, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if len(closers) != 2 {
		t.Fatalf("closers = %d, want 2", len(closers))
	}
	if sub.subjects[0] != bus.SubjectMatchCreate || sub.subjects[1] != bus.SubjectLikeSent {
		t.Errorf("subjects = %v", sub.subjects)
	}
	if sub.durables[0] != DurableMatchCreated || sub.durables[1] != DurableLikeSent {
		t.Errorf("durables = %v", sub.durables)
	}
}

// TestConsumer_Start_ClosesOnFailure は途中の購読失敗で開始済みの購読が閉じられることを検証する。
func TestConsumer_Start_ClosesOnFailure(t *testing.T) {
	sub := &fakeSubscriber{failOn: bus.SubjectLikeSent}
	c := NewConsumer(sub, &recordingNotifier{}, discardLogger(), 0)

	if _, err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if sub.closed != 1 {
		t.Errorf("closed = %d, want 1", sub.closed)
	}
}

func TestConsumer_HandleMatchCreated_NotifiesBothUsers(t *testing.T) {
	n := &recordingNotifier{}
	c := NewConsumer(&fakeSubscriber{}, n, discardLogger(), 1)

	err := c.HandleMatchCreated(context.Background(), []byte(`{"match_id":"m1","user_a":"alice","user_b":"bob"}`))
	if err != nil {
		t.Fatalf("HandleMatchCreated error: %v", err)
	}

	if len(n.got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(n.got))
	}
	sort.Slice(n.got, func(i, j int) bool { return n.got[i].UserID < n.got[j].UserID })
	if n.got[0].UserID != "alice" || n.got[0].OtherUserID != "bob" || n.got[0].MatchID != "m1" {
		t.Errorf("alice notification = %+v", n.got[0])
	}
	if n.got[1].UserID != "bob" || n.got[1].OtherUserID != "alice" || n.got[1].Kind != KindMatch {
		t.Errorf("bob notification = %+v", n.got[1])
	}
}

func TestConsumer_HandleMatchCreated_PartialFailureRequestsRedelivery(t *testing.T) {
	n := &recordingNotifier{failOn: "bob"}
	c := NewConsumer(&fakeSubscriber{}, n, discardLogger(), 0)

	err := c.HandleMatchCreated(context.Background(), []byte(`{"match_id":"m1","user_a":"alice","user_b":"bob"}`))
	if err == nil {
		t.Fatal("expected error so the event is redelivered")
	}
	if len(n.got) != 1 || n.got[0].UserID != "alice" {
		t.Errorf("notifications = %+v", n.got)
	}
}

func TestConsumer_DropsUndecodableEvents(t *testing.T) {
	var buf bytes.Buffer
	n := &recordingNotifier{}
	c := NewConsumer(&fakeSubscriber{}, n, slog.New(slog.NewJSONHandler(&buf, nil)), 0)

	tests := []struct {
		name string
		fn   func(context.Context, []byte) error
		data string
	}{
		{"match not json", c.HandleMatchCreated, `not json`},
		{"match missing user", c.HandleMatchCreated, `{"match_id":"m1","user_a":"alice"}`},
		{"like not json", c.HandleLikeSent, `{`},
		{"like missing recipient", c.HandleLikeSent, `{"from_user_id":"alice"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(context.Background(), []byte(tt.data)); err != nil {
				t.Errorf("error = %v, want nil (ack and drop)", err)
			}
		})
	}
	if len(n.got) != 0 {
		t.Errorf("notifications = %+v, want none", n.got)
	}
	if buf.Len() == 0 {
		t.Error("expected warn logs for dropped events")
	}
}

func TestConsumer_HandleLikeSent_NotifiesRecipient(t *testing.T) {
	n := &recordingNotifier{}
	c := NewConsumer(&fakeSubscriber{}, n, discardLogger(), 0)

	err := c.HandleLikeSent(context.Background(), []byte(`{"from_user_id":"alice","to_user_id":"bob","comment":"nice photo"}`))
	if err != nil {
		t.Fatalf("HandleLikeSent error: %v", err)
	}
	if len(n.got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.got))
	}
	got := n.got[0]
	if got.UserID != "bob" || got.OtherUserID != "alice" || got.Kind != KindLike || got.Comment != "nice photo" {
		t.Errorf("notification = %+v", got)
	}
}

func TestLogNotifier_WritesStructuredLog(t *testing.T) {
	var buf bytes.Buffer
	ln := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := ln.Notify(context.Background(), Notification{UserID: "bob", Kind: KindLike}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"user_id":"bob"`)) {
		t.Errorf("log = %s", buf.String())
	}
}
