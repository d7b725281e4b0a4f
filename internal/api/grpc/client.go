package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/service/record"
)

// Client is a RecordService client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, req fieldRequest, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return fromStruct(resp, out)
}

// GetRecord fetches the current record of a consultation.
func (c *Client) GetRecord(ctx context.Context, consultationID string) (*models.RecordState, error) {
	var rec models.RecordState
	if err := c.call(ctx, methodGetRecord, fieldRequest{ConsultationID: consultationID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ConfirmField confirms one field.
func (c *Client) ConfirmField(ctx context.Context, consultationID string, p models.FieldPath) (models.Delta, error) {
	var d models.Delta
	err := c.call(ctx, methodConfirmField, fieldRequest{
		ConsultationID: consultationID,
		SectionID:      p.SectionID,
		FieldID:        p.FieldID,
	}, &d)
	return d, err
}

// UpdateField applies a manual patch to one field.
func (c *Client) UpdateField(ctx context.Context, consultationID string, p models.FieldPath, patch record.FieldPatch) (models.Delta, error) {
	var d models.Delta
	err := c.call(ctx, methodUpdateField, fieldRequest{
		ConsultationID: consultationID,
		SectionID:      p.SectionID,
		FieldID:        p.FieldID,
		Patch:          patch,
	}, &d)
	return d, err
}

// SetFocus sets the focused field. The zero path clears it.
func (c *Client) SetFocus(ctx context.Context, consultationID string, p models.FieldPath) error {
	in, err := toStruct(fieldRequest{ConsultationID: consultationID, SectionID: p.SectionID, FieldID: p.FieldID})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, methodSetFocus, in, new(emptypb.Empty))
}

// AudioSender is the client side of PushAudio.
type AudioSender struct {
	stream grpc.ClientStream
}

// PushAudio opens an audio stream for one channel of a consultation.
func (c *Client) PushAudio(ctx context.Context, consultationID string, ch models.Channel, mimeType string) (*AudioSender, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		MetadataConsultationID, consultationID,
		MetadataChannel, string(ch),
		MetadataMimeType, mimeType,
	)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodPushAudio)
	if err != nil {
		return nil, err
	}
	return &AudioSender{stream: stream}, nil
}

// Send sends one audio frame.
func (a *AudioSender) Send(frame []byte) error {
	return a.stream.SendMsg(wrapperspb.Bytes(frame))
}

// CloseAndRecv ends the stream and waits for the summary, which arrives once
// the channel's last window has been transcribed.
func (a *AudioSender) CloseAndRecv() (map[string]any, error) {
	if err := a.stream.CloseSend(); err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := a.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}
