package remote

import "context"

type contextKey string

const bearerKey contextKey = "remoteBearer"

// WithBearer returns a context whose collaborator calls carry token
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

// Bearer returns the token stored by WithBearer, if any
func Bearer(ctx context.Context) string {
	token, _ := ctx.Value(bearerKey).(string)
	return token
}
