package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "anamnesis.v1.RecordService"

// Metadata keys of a PushAudio stream.
const (
	MetadataConsultationID = "x-consultation-id"
	MetadataChannel        = "x-channel"
	MetadataMimeType       = "x-mime-type"
)

const (
	methodGetRecord    = "/" + ServiceName + "/GetRecord"
	methodConfirmField = "/" + ServiceName + "/ConfirmField"
	methodUpdateField  = "/" + ServiceName + "/UpdateField"
	methodSetFocus     = "/" + ServiceName + "/SetFocus"
	methodPushAudio    = "/" + ServiceName + "/PushAudio"
)

// RecordServiceServer is the manual-edit and audio-push interface. Requests
// and responses are JSON-shaped google.protobuf.Struct messages; audio frames
// are google.protobuf.BytesValue.
type RecordServiceServer interface {
	GetRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmField(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateField(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFocus(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	PushAudio(AudioStream) error
}

// AudioStream is the server side of PushAudio.
type AudioStream interface {
	Recv() (*wrapperspb.BytesValue, error)
	SendAndClose(*structpb.Struct) error
	grpc.ServerStream
}

type audioStream struct {
	grpc.ServerStream
}

func (s *audioStream) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *audioStream) SendAndClose(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func unaryHandler[Resp any](
	method string,
	call func(RecordServiceServer, context.Context, *structpb.Struct) (Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RecordServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RecordServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func pushAudioHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RecordServiceServer).PushAudio(&audioStream{stream})
}

// ServiceDesc describes RecordService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRecord", Handler: unaryHandler(methodGetRecord, RecordServiceServer.GetRecord)},
		{MethodName: "ConfirmField", Handler: unaryHandler(methodConfirmField, RecordServiceServer.ConfirmField)},
		{MethodName: "UpdateField", Handler: unaryHandler(methodUpdateField, RecordServiceServer.UpdateField)},
		{MethodName: "SetFocus", Handler: unaryHandler(methodSetFocus, RecordServiceServer.SetFocus)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "PushAudio", Handler: pushAudioHandler, ClientStreams: true},
	},
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
