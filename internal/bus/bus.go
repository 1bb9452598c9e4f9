// Package bus はNATS JetStreamを使ったドメインイベントの配信を提供する。
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// イベントのサブジェクト
const (
	StreamName         = "KINDRED"
	SubjectMatchCreate = "kindred.match.created"
	SubjectLikeSent    = "kindred.like.sent"
)

// MatchCreated は相互LIKEでマッチが成立したことを表す。
type MatchCreated struct {
	MatchID   string    `json:"match_id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
}

// LikeSent はLIKEが送られたことを表す。
type LikeSent struct {
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Comment    string    `json:"comment,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Bus はNATS JetStream接続をラップする。
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New はNATSに接続し、イベント用ストリームを用意する。
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}

	b := &Bus{conn: nc, js: js}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("bus: stream info: %w", err)
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"kindred.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("bus: add stream: %w", err)
	}
	return nil
}

// Close は接続をドレインして閉じる。
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish はvをJSONにエンコードしてサブジェクトに発行する。
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("bus: nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode: %w", err)
	}

	if _, err := b.js.Publish(subj, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subj, err)
	}
	return nil
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Subscribe はdurableコンシューマを作成し、メッセージごとにfnを呼ぶ。
// fnがエラーを返した場合はNakし再配送させる。
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("bus: nil bus")
	}
	if fn == nil {
		return nil, errors.New("bus: nil handler")
	}

	sub, err := b.js.Subscribe(subj, Handler(ctx, fn), nats.Durable(durable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subj, err)
	}

	s := &subscription{sub: sub}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

// Acker はメッセージの確認応答を表す。
type Acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
}

// Handler はfnの結果に応じてAck/Nakするメッセージハンドラを返す。
func Handler(ctx context.Context, fn func(ctx context.Context, data []byte) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		dispatch(ctx, msg.Data, msg, fn)
	}
}

func dispatch(ctx context.Context, data []byte, ack Acker, fn func(ctx context.Context, data []byte) error) {
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := fn(handlerCtx, data); err != nil {
		_ = ack.Nak()
		return
	}
	_ = ack.Ack()
}

// Decode はJSONイベントをvにデコードする。
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bus: decode: %w", err)
	}
	return nil
}
