package goIdentity

import "context"

type clientIPContextKey struct{}
type authTokenContextKey struct{}
type userTokenContextKey struct{}
type accessTokenContextKey struct{}
type aclTokenContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine records
// it on audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithAuthToken attaches a user or agent authToken. Session-bound
// operations (get, logOut, changePassword, TOTP enrollment,
// verifyAuthToken) read it from ctx.
func WithAuthToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, authTokenContextKey{}, tok)
}

// WithUserToken attaches the userToken minted by Users.VerifyAuthToken.
// Group operations read it from ctx.
func WithUserToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, userTokenContextKey{}, tok)
}

// WithAccessToken attaches the accessToken returned by
// Groups.RequestAccessForMember.
func WithAccessToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, accessTokenContextKey{}, tok)
}

// WithACLToken attaches the aclToken minted by Groups.VerifyAccessToken.
// Agent administration reads it from ctx.
func WithACLToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, aclTokenContextKey{}, tok)
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPContextKey{})
}

func authTokenFromContext(ctx context.Context) string {
	return stringFromContext(ctx, authTokenContextKey{})
}

func userTokenFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userTokenContextKey{})
}

func accessTokenFromContext(ctx context.Context) string {
	return stringFromContext(ctx, accessTokenContextKey{})
}

func aclTokenFromContext(ctx context.Context) string {
	return stringFromContext(ctx, aclTokenContextKey{})
}
