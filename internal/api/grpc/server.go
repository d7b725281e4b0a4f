package grpcapi

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/observability/logging"
	"anamnesis-transcript-service/internal/observability/metrics"
	"anamnesis-transcript-service/internal/service/record"
	"anamnesis-transcript-service/internal/service/session"
)

// defaultMimeType is used when a PushAudio stream sets no x-mime-type.
const defaultMimeType = "audio/l16"

type Server struct {
	registry *session.Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// stopTimeout bounds how long the end of a PushAudio stream waits for the
	// channel's last window to be transcribed.
	stopTimeout time.Duration
}

var _ RecordServiceServer = (*Server)(nil)

// fieldRequest is the JSON shape of the unary requests.
type fieldRequest struct {
	ConsultationID string            `json:"consultationId"`
	SectionID      string            `json:"sectionId"`
	FieldID        string            `json:"fieldId"`
	Patch          record.FieldPatch `json:"patch"`
}

func (r fieldRequest) path() models.FieldPath {
	return models.FieldPath{SectionID: r.SectionID, FieldID: r.FieldID}
}

// Register creates the RecordService and registers it on g.
func Register(g *grpc.Server, reg *session.Registry, m *metrics.Metrics) *Server {
	s := NewServer(reg, m)
	g.RegisterService(&ServiceDesc, s)
	return s
}

// NewServer creates the RecordService implementation.
func NewServer(reg *session.Registry, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Server{
		registry:    reg,
		metrics:     m,
		log:         logging.WithComponent("grpc-record-service"),
		stopTimeout: 45 * time.Second,
	}
}

func (s *Server) decode(ctx context.Context, in *structpb.Struct) (fieldRequest, *session.Session, error) {
	var req fieldRequest
	if in != nil {
		if err := fromStruct(in, &req); err != nil {
			return req, nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
		}
	}
	if req.ConsultationID == "" {
		req.ConsultationID = metadataValue(ctx, MetadataConsultationID)
	}
	if strings.TrimSpace(req.ConsultationID) == "" {
		return req, nil, status.Error(codes.InvalidArgument, "consultationId is required")
	}
	sess, err := s.registry.Get(req.ConsultationID)
	if err != nil {
		return req, nil, toStatus(err)
	}
	return req, sess, nil
}

func (s *Server) GetRecord(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, sess, err := s.decode(ctx, in)
	if err != nil {
		return nil, err
	}
	return toStruct(sess.Record())
}

func (s *Server) ConfirmField(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, sess, err := s.decode(ctx, in)
	if err != nil {
		return nil, err
	}
	d, err := sess.ConfirmField(ctx, req.path())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(d)
}

func (s *Server) UpdateField(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, sess, err := s.decode(ctx, in)
	if err != nil {
		return nil, err
	}
	d, err := sess.UpdateField(ctx, req.path(), req.Patch)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(d)
}

func (s *Server) SetFocus(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	req, sess, err := s.decode(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := sess.SetFocus(req.path()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// PushAudio feeds one channel of a consultation from a client stream. The
// consultation is opened when needed. When the stream ends the channel is
// finished so the last window is transcribed before the response is sent.
func (s *Server) PushAudio(stream AudioStream) error {
	ctx := stream.Context()
	consultationID := strings.TrimSpace(metadataValue(ctx, MetadataConsultationID))
	if consultationID == "" {
		return status.Error(codes.InvalidArgument, MetadataConsultationID+" metadata is required")
	}
	ch, err := models.ParseChannel(metadataValue(ctx, MetadataChannel))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	mimeType := metadataValue(ctx, MetadataMimeType)
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	sess, _, err := s.registry.Open(ctx, consultationID)
	if err != nil {
		return toStatus(err)
	}
	pr, err := sess.PushRecorder(ch, mimeType)
	if err != nil {
		return toStatus(err)
	}

	log := logging.WithChannel("grpc-record-service", consultationID, string(ch))
	log.Info().Str("mimeType", mimeType).Msg("Audio stream started")

	var total, frames int
	var recvErr error
	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			recvErr = err
			break
		}
		n, err := pr.Write(frame.GetValue())
		if err != nil {
			recvErr = status.Errorf(codes.Aborted, "channel stopped: %v", err)
			break
		}
		total += n
		frames++
		s.metrics.RecordAudioReceived(n)
	}

	// The stream context may already be gone; finishing the channel must not
	// depend on it.
	stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := sess.StopChannel(stopCtx, ch); err != nil && !errors.Is(err, session.ErrChannelNotActive) {
		log.Warn().Err(err).Msg("Channel did not finish cleanly")
	}

	log.Info().Int("bytes", total).Int("frames", frames).Err(recvErr).Msg("Audio stream ended")
	if recvErr != nil {
		return recvErr
	}

	resp, err := toStruct(map[string]any{
		"consultationId": consultationID,
		"channel":        ch,
		"bytes":          total,
		"frames":         frames,
	})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendAndClose(resp)
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, record.ErrUnknownField),
		errors.Is(err, session.ErrChannelNotActive):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, session.ErrInvalidChannel),
		errors.Is(err, record.ErrInvalidPatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrChannelActive):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
