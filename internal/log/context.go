// Package log keeps a logrus entry in the context so fields added by an
// outer call (the pid being served, the span being traced) reach every
// log line below it.
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type entryContextKeyType int

const _entryContextKey entryContextKeyType = iota

var (
	// L is the entry used when the context carries none.
	L = logrus.NewEntry(logrus.StandardLogger())

	// G is an alias for GetEntry.
	G = GetEntry

	// S is an alias for SetEntry.
	S = SetEntry
)

// GetEntry returns the entry stored in ctx, or [L] bound to ctx.
//
// A stored entry may reference a parent of ctx; call [UpdateContext] after
// deriving a context whose values (such as a new span) should reach the hook.
func GetEntry(ctx context.Context) *logrus.Entry {
	if e := fromContext(ctx); e != nil {
		return e
	}
	return L.WithContext(ctx)
}

// SetEntry adds fields to the entry of ctx and stores the result in a child
// context. Both are returned.
func SetEntry(ctx context.Context, fields logrus.Fields) (context.Context, *logrus.Entry) {
	e := GetEntry(ctx)
	if len(fields) > 0 {
		e = e.WithFields(fields)
	}
	return WithContext(ctx, e)
}

// UpdateContext rebinds the entry of ctx to ctx itself.
func UpdateContext(ctx context.Context) context.Context {
	ctx, _ = WithContext(ctx, GetEntry(ctx))
	return ctx
}

// WithContext stores a copy of entry bound to the returned context.
func WithContext(ctx context.Context, entry *logrus.Entry) (context.Context, *logrus.Entry) {
	entry = entry.WithContext(ctx)
	return context.WithValue(ctx, _entryContextKey, entry), entry
}

func fromContext(ctx context.Context) *logrus.Entry {
	e, _ := ctx.Value(_entryContextKey).(*logrus.Entry)
	return e
}
