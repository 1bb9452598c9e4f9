package interaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/kindred/internal/bus"
	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/repository"
)

// --- モック ---

const (
	me    = "11111111-1111-1111-1111-111111111111"
	other = "22222222-2222-2222-2222-222222222222"
	match = "33333333-3333-3333-3333-333333333333"
)

type mockUserRepo struct {
	repository.UserRepository
	users map[string]bool
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.users[id] {
		return &model.User{ID: id}, nil
	}
	return nil, nil
}

type mockInteractionRepo struct {
	repository.InteractionRepository
	recorded []*model.Interaction
	recordFn func(in *model.Interaction) (*model.Match, error)
}

func (m *mockInteractionRepo) Record(ctx context.Context, in *model.Interaction) (*model.Match, error) {
	m.recorded = append(m.recorded, in)
	if m.recordFn != nil {
		return m.recordFn(in)
	}
	return nil, nil
}

type mockMatchRepo struct {
	repository.MatchRepository
	match    *model.Match
	messages []model.Message
	created  []*model.Message
	readBy   []string
	gotLimit int
}

func (m *mockMatchRepo) FindByID(ctx context.Context, id string) (*model.Match, error) {
	if m.match != nil && m.match.ID == id {
		return m.match, nil
	}
	return nil, nil
}
func (m *mockMatchRepo) ListMessages(ctx context.Context, matchID string, limit int) ([]model.Message, error) {
	m.gotLimit = limit
	return m.messages, nil
}
func (m *mockMatchRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	msg.ID = "msg-1"
	m.created = append(m.created, msg)
	return nil
}
func (m *mockMatchRepo) MarkRead(ctx context.Context, matchID, readerID string) error {
	m.readBy = append(m.readBy, readerID)
	return nil
}

type recordingPublisher struct {
	subjects []string
	events   []any
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, v any) error {
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, v)
	return p.err
}

type fixture struct {
	svc          *Service
	interactions *mockInteractionRepo
	matches      *mockMatchRepo
	publisher    *recordingPublisher
}

func newFixture() *fixture {
	f := &fixture{
		interactions: &mockInteractionRepo{},
		matches:      &mockMatchRepo{},
		publisher:    &recordingPublisher{},
	}
	users := &mockUserRepo{users: map[string]bool{me: true, other: true}}
	f.svc = NewService(users, f.interactions, f.matches, f.publisher, nil)
	f.svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func apiErrorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func strPtr(s string) *string { return &s }

// --- テスト ---

func TestService_Interact_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  InteractRequest
		want string
	}{
		{"unknown action", InteractRequest{TargetUserID: other, Action: "SUPERLIKE"}, model.ErrCodeInvalidAction},
		{"lowercase action", InteractRequest{TargetUserID: other, Action: "like"}, model.ErrCodeInvalidAction},
		{"self", InteractRequest{TargetUserID: me, Action: "LIKE"}, model.ErrCodeSelfInteraction},
		{"bad id", InteractRequest{TargetUserID: "not-a-uuid", Action: "PASS"}, model.ErrCodeInvalidInput},
		{"unknown user", InteractRequest{TargetUserID: match, Action: "LIKE"}, model.ErrCodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Interact(context.Background(), me, tt.req)
			if got := apiErrorCode(err); got != tt.want {
				t.Errorf("code = %q, want %q (err=%v)", got, tt.want, err)
			}
			if len(f.interactions.recorded) != 0 {
				t.Error("nothing should be recorded")
			}
		})
	}
}

// TestService_Interact_LikeSent は片方向のLIKEがSENTになりイベントが発行されることを検証する。
func TestService_Interact_LikeSent(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Interact(context.Background(), me, InteractRequest{
		TargetUserID: other,
		Action:       "LIKE",
		Context:      &model.InteractionContext{Type: "image", ID: "img-1"},
		Comment:      strPtr("<b>Nice</b> photo"),
	})
	if err != nil {
		t.Fatalf("Interact error: %v", err)
	}
	if res.Status != model.InteractionSent || res.MatchID != "" {
		t.Errorf("result = %+v", res)
	}

	rec := f.interactions.recorded[0]
	if rec.Comment == nil || *rec.Comment != "Nice photo" {
		t.Errorf("comment = %v", rec.Comment)
	}
	if rec.Context == nil || rec.Context.ID != "img-1" {
		t.Errorf("context = %v", rec.Context)
	}

	if len(f.publisher.subjects) != 1 || f.publisher.subjects[0] != bus.SubjectLikeSent {
		t.Fatalf("published = %v", f.publisher.subjects)
	}
	ev := f.publisher.events[0].(bus.LikeSent)
	if ev.Comment != "Nice photo" || ev.ToUserID != other {
		t.Errorf("event = %+v", ev)
	}
}

// TestService_Interact_PassDropsComment はPASSではコメントと対象を保存しないことを検証する。
func TestService_Interact_PassDropsComment(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Interact(context.Background(), me, InteractRequest{
		TargetUserID: other,
		Action:       "PASS",
		Comment:      strPtr("meh"),
	})
	if err != nil {
		t.Fatalf("Interact error: %v", err)
	}
	if res.Status != model.InteractionSent {
		t.Errorf("status = %q", res.Status)
	}
	if rec := f.interactions.recorded[0]; rec.Comment != nil || rec.Context != nil {
		t.Errorf("PASS should not keep comment/context: %+v", rec)
	}
	if len(f.publisher.subjects) != 0 {
		t.Errorf("PASS should not publish, got %v", f.publisher.subjects)
	}
}

// TestService_Interact_Match は相互LIKEでMATCHとマッチIDが返ることを検証する。
func TestService_Interact_Match(t *testing.T) {
	f := newFixture()
	f.interactions.recordFn = func(in *model.Interaction) (*model.Match, error) {
		return &model.Match{ID: match, UserA: me, UserB: other}, nil
	}
	f.publisher.err = errors.New("nats down")

	res, err := f.svc.Interact(context.Background(), me, InteractRequest{TargetUserID: other, Action: "LIKE"})
	if err != nil {
		t.Fatalf("publish failures must not fail the request: %v", err)
	}
	if res.Status != model.InteractionMatch || res.MatchID != match {
		t.Errorf("result = %+v", res)
	}
	if len(f.publisher.subjects) != 2 || f.publisher.subjects[1] != bus.SubjectMatchCreate {
		t.Errorf("published = %v", f.publisher.subjects)
	}
}

// TestService_Messages_MembershipAndRead は参加者のみが閲覧でき、既読化されることを検証する。
func TestService_Messages_MembershipAndRead(t *testing.T) {
	f := newFixture()
	f.matches.match = &model.Match{ID: match, UserA: me, UserB: other}
	f.matches.messages = []model.Message{{ID: "m1", Text: "hi"}}

	msgs, err := f.svc.Messages(context.Background(), me, match, 1000)
	if err != nil {
		t.Fatalf("Messages error: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("messages = %v", msgs)
	}
	if f.matches.gotLimit != maxMessageLimit {
		t.Errorf("limit = %d, want clamp to %d", f.matches.gotLimit, maxMessageLimit)
	}
	if len(f.matches.readBy) != 1 || f.matches.readBy[0] != me {
		t.Errorf("readBy = %v", f.matches.readBy)
	}

	outsider := "44444444-4444-4444-4444-444444444444"
	if _, err := f.svc.Messages(context.Background(), outsider, match, 0); apiErrorCode(err) != model.ErrCodeMatchNotFound {
		t.Errorf("outsider error = %v, want MATCH_NOT_FOUND", err)
	}
	if _, err := f.svc.Messages(context.Background(), me, "garbage", 0); apiErrorCode(err) != model.ErrCodeMatchNotFound {
		t.Errorf("bad id error = %v, want MATCH_NOT_FOUND", err)
	}
}

func TestService_SendMessage(t *testing.T) {
	f := newFixture()
	f.matches.match = &model.Match{ID: match, UserA: me, UserB: other}

	msg, err := f.svc.SendMessage(context.Background(), other, match, "  hello <i>there</i> ")
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if msg.Text != "hello there" || msg.SenderID != other || msg.ID != "msg-1" {
		t.Errorf("message = %+v", msg)
	}

	if _, err := f.svc.SendMessage(context.Background(), me, match, "<script>x</script>"); apiErrorCode(err) != model.ErrCodeInvalidInput {
		t.Errorf("empty error = %v, want INVALID_INPUT", err)
	}
	if len(f.matches.created) != 1 {
		t.Errorf("created = %d, want 1", len(f.matches.created))
	}
}

func TestNopPublisher(t *testing.T) {
	if err := (NopPublisher{}).Publish(context.Background(), "x", nil); err != nil {
		t.Errorf("NopPublisher error: %v", err)
	}
}
