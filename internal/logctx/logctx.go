// Package logctx enriches slog records with request-scoped application
// context: the acting user and the operation in progress. Wrap the base
// handler once at process setup and every log line emitted with a prepared
// context carries the attributes.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if ud, ok := ctx.Value(userDataKey{}).(*UserData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("user_id", ud.UserID),
			slog.String("email", ud.Email),
		))
	}

	if od, ok := ctx.Value(opDataKey{}).(*OpData); ok {
		r.AddAttrs(slog.Group("op",
			slog.String("name", od.Name),
			slog.String("collection", od.Collection),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type userDataKey struct{}

type UserData struct {
	UserID string
	Email  string
}

func WithUserData(ctx context.Context, data *UserData) context.Context {
	return context.WithValue(ctx, userDataKey{}, data)
}

type opDataKey struct{}

type OpData struct {
	Name       string
	Collection string
}

func WithOpData(ctx context.Context, data *OpData) context.Context {
	return context.WithValue(ctx, opDataKey{}, data)
}
