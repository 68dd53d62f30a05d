package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bookfeedhq/bookfeed-go/backend"
	"github.com/bookfeedhq/bookfeed-go/projection"
)

// Service sends and follows private chat messages.
type Service struct {
	store    backend.DocStore
	resolver *Resolver
	log      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger. Default slog.Default().
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// NewService creates a chat service over store, resolving conversations
// through resolver.
func NewService(store backend.DocStore, resolver *Resolver, opts ...ServiceOption) *Service {
	s := &Service{store: store, resolver: resolver, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage appends a message from senderID to the conversation between
// the two users, creating the conversation on first contact.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID, text string) error {
	conv, err := s.resolver.Resolve(ctx, senderID, receiverID)
	if err != nil {
		return err
	}

	_, err = s.store.Create(ctx, messagesCollection(conv.ID), map[string]any{
		"user_id":    senderID,
		"text":       text,
		"created_at": backend.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("saving chat message: %w", err)
	}
	return nil
}

// SubscribeToMessages follows the conversation between the two users,
// delivering the full ordered message history on every change. The returned
// disposer stops the feed.
func (s *Service) SubscribeToMessages(ctx context.Context, userA, userB string, cb func([]Message)) (func(), error) {
	conv, err := s.resolver.Resolve(ctx, userA, userB)
	if err != nil {
		return nil, err
	}

	return projection.Subscribe(ctx, s.store, messagesCollection(conv.ID),
		backend.Query{OrderBy: "created_at"},
		func(ctx context.Context, doc backend.Document) (Message, error) {
			return Message{
				ID:        doc.ID,
				UserID:    doc.Str("user_id"),
				Text:      doc.Str("text"),
				CreatedAt: doc.Time("created_at"),
			}, nil
		},
		cb,
		projection.WithLogger(s.log),
	)
}
