package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxCallingNumber
)

func WithIdentity(ctx context.Context, userID, callingNumber string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxCallingNumber, callingNumber)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func CallingNumber(ctx context.Context) (string, error) {
	v := ctx.Value(ctxCallingNumber)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("calling_number not in context")
}
