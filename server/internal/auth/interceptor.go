package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Checker validates API keys. The zero value allows everything.
type Checker struct {
	enabled bool
	header  string
	key     string
}

// NewChecker returns a Checker. If mode != "apikey" or key == "", every
// request is allowed (useful for local development with auth disabled).
func NewChecker(mode, header, key string) Checker {
	return Checker{
		enabled: mode == "apikey" && key != "",
		header:  strings.ToLower(header),
		key:     key,
	}
}

// Enabled reports whether keys are enforced.
func (c Checker) Enabled() bool { return c.enabled }

func (c Checker) valid(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.key)) == 1
}

func (c Checker) checkContext(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(c.header)
	if len(vals) == 0 || !c.valid(vals[0]) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

// APIKeyInterceptor returns a gRPC UnaryServerInterceptor that enforces API key
// authentication on every incoming call. A missing, empty, or incorrect key
// returns codes.Unauthenticated.
//
// gRPC normalises metadata keys to lowercase; header is lowercased to match.
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	c := NewChecker(mode, header, key)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := c.checkContext(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// APIKeyStreamInterceptor is the streaming counterpart of APIKeyInterceptor
// (the health service's Watch is a server stream).
func APIKeyStreamInterceptor(mode, header, key string) grpc.StreamServerInterceptor {
	c := NewChecker(mode, header, key)
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := c.checkContext(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
