package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"anamnesis-transcript-service/internal/observability/metrics"
)

// ConsultationHeader is the metadata key carrying the consultation id.
const ConsultationHeader = "x-consultation-id"

// UnaryServerInterceptor returns a gRPC unary interceptor for logging.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		callEvent(info.FullMethod, err).
			Str("method", info.FullMethod).
			Str("consultationId", consultationFrom(ctx)).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor for metrics and logging.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordStreamStart()

		err := handler(srv, ss)

		duration := time.Since(start)
		success := err == nil
		m.RecordStreamEnd(success, duration.Seconds())

		st, _ := status.FromError(err)
		callEvent(info.FullMethod, err).
			Str("method", info.FullMethod).
			Str("consultationId", consultationFrom(ss.Context())).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Bool("success", success).
			Msg("gRPC stream completed")

		return err
	}
}

// Health probes are frequent; keep them out of info logs.
func callEvent(method string, err error) *zerolog.Event {
	switch {
	case err != nil:
		return log.Warn()
	case strings.HasPrefix(method, "/grpc.health."):
		return log.Debug()
	default:
		return log.Info()
	}
}

func consultationFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ConsultationHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}
