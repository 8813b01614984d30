package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/task"
)

// InvoiceServiceName is the fully-qualified gRPC service name.
const InvoiceServiceName = "invoice.v1.InvoiceService"

// Messages are protobuf well-known types:
//
//	Submit        Struct{files: [{name, mime_type, data(base64)}]} -> StringValue(task id)
//	GetStatus     StringValue(task id) -> Struct{task_id, status, progress, message}
//	GetResult     Struct{task_id, format} -> BytesValue
//	GetValidation StringValue -> Struct{<key>: [warning...]}
//	GetAnomalies  StringValue -> ListValue[Struct{invoice_id, source, flags}]
//	Cancel        StringValue -> Empty
//	WatchStatus   StringValue -> stream Struct (as GetStatus)
type InvoiceServiceServer interface {
	Submit(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	GetStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetResult(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	GetValidation(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetAnomalies(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	Cancel(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	WatchStatus(*wrapperspb.StringValue, grpc.ServerStream) error
}

func unaryHandler[Req any, Resp any](name string, newReq func() Req, call func(InvoiceServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InvoiceServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + InvoiceServiceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(InvoiceServiceServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// InvoiceServiceDesc is the hand-written equivalent of a generated descriptor.
var InvoiceServiceDesc = grpc.ServiceDesc{
	ServiceName: InvoiceServiceName,
	HandlerType: (*InvoiceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Submit", func() *structpb.Struct { return new(structpb.Struct) }, InvoiceServiceServer.Submit),
		unaryHandler("GetStatus", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, InvoiceServiceServer.GetStatus),
		unaryHandler("GetResult", func() *structpb.Struct { return new(structpb.Struct) }, InvoiceServiceServer.GetResult),
		unaryHandler("GetValidation", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, InvoiceServiceServer.GetValidation),
		unaryHandler("GetAnomalies", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, InvoiceServiceServer.GetAnomalies),
		unaryHandler("Cancel", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, InvoiceServiceServer.Cancel),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchStatus",
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				in := new(wrapperspb.StringValue)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(InvoiceServiceServer).WatchStatus(in, stream)
			},
		},
	},
	Metadata: "invoice/v1/invoice.proto",
}

func RegisterInvoiceServiceServer(s grpc.ServiceRegistrar, srv InvoiceServiceServer) {
	s.RegisterService(&InvoiceServiceDesc, srv)
}

// InvoiceService implements InvoiceServiceServer over the coordinator.
type InvoiceService struct {
	tasks  Tasks
	logger *slog.Logger
}

func NewInvoiceService(tasks Tasks, logger *slog.Logger) *InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceService{tasks: tasks, logger: logger}
}

func (s *InvoiceService) Submit(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	files, err := filesFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := s.tasks.Submit(ctx, files)
	if err != nil {
		return nil, s.toStatus("Submit", err)
	}
	s.logger.Info("grpc.submit.ok", "task_id", id, "files", len(files))
	return wrapperspb.String(id), nil
}

func (s *InvoiceService) GetStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	v, err := s.tasks.GetStatus(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus("GetStatus", err)
	}
	return viewToStruct(v)
}

func (s *InvoiceService) GetResult(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	fields := req.GetFields()
	id := fields["task_id"].GetStringValue()
	raw := fields["format"].GetStringValue()
	if raw == "" {
		raw = string(constants.FormatCSV)
	}
	format, ok := constants.ParseExportFormat(raw)
	if !ok {
		return nil, common.InvalidArgumentErrorf("invalid format %q", raw)
	}
	data, err := s.tasks.GetResult(ctx, id, format)
	if err != nil {
		return nil, s.toStatus("GetResult", err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *InvoiceService) GetValidation(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	res, err := s.tasks.GetValidation(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus("GetValidation", err)
	}
	m := make(map[string]interface{}, len(res))
	for key, warnings := range res {
		m[key] = stringsToList(warnings)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, common.InternalError(err.Error())
	}
	return out, nil
}

func (s *InvoiceService) GetAnomalies(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	anomalies, err := s.tasks.GetAnomalies(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus("GetAnomalies", err)
	}
	items := make([]interface{}, 0, len(anomalies))
	for _, a := range anomalies {
		items = append(items, map[string]interface{}{
			"invoice_id": a.InvoiceID,
			"source":     a.Source,
			"flags":      stringsToList(a.Flags),
		})
	}
	out, err := structpb.NewList(items)
	if err != nil {
		return nil, common.InternalError(err.Error())
	}
	return out, nil
}

func (s *InvoiceService) Cancel(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.tasks.Cancel(ctx, req.GetValue()); err != nil {
		return nil, s.toStatus("Cancel", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *InvoiceService) WatchStatus(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	views, stop, err := s.tasks.Subscribe(stream.Context(), req.GetValue())
	if err != nil {
		return s.toStatus("WatchStatus", err)
	}
	defer stop()
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			msg, err := viewToStruct(v)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *InvoiceService) toStatus(method string, err error) error {
	if errors.Is(err, task.ErrShuttingDown) {
		return status.Error(codes.Unavailable, err.Error())
	}
	st := common.ToGRPCError(err)
	if status.Code(st) == codes.Internal {
		s.logger.Error("grpc.call.failed", "method", method, "error", err)
	}
	return st
}

func filesFromStruct(req *structpb.Struct) ([]entity.SourceFile, error) {
	list := req.GetFields()["files"].GetListValue().GetValues()
	files := make([]entity.SourceFile, 0, len(list))
	for i, v := range list {
		f := v.GetStructValue().GetFields()
		name := f["name"].GetStringValue()
		if name == "" {
			return nil, fmt.Errorf("files[%d]: name is required", i)
		}
		data, err := base64.StdEncoding.DecodeString(f["data"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("files[%d]: data must be base64: %v", i, err)
		}
		files = append(files, entity.SourceFile{Name: name, MIMEType: f["mime_type"].GetStringValue(), Data: data})
	}
	return files, nil
}

// FilesToStruct builds a Submit request.
func FilesToStruct(files []entity.SourceFile) (*structpb.Struct, error) {
	items := make([]interface{}, 0, len(files))
	for _, f := range files {
		items = append(items, map[string]interface{}{
			"name":      f.Name,
			"mime_type": f.MIMEType,
			"data":      base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	return structpb.NewStruct(map[string]interface{}{"files": items})
}

func viewToStruct(v entity.StatusView) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"task_id":  v.TaskID,
		"status":   string(v.Status),
		"progress": v.Progress,
		"message":  v.Message,
	})
}

// ViewFromStruct reverses viewToStruct.
func ViewFromStruct(s *structpb.Struct) entity.StatusView {
	f := s.GetFields()
	return entity.StatusView{
		TaskID:   f["task_id"].GetStringValue(),
		Status:   constants.TaskStatus(f["status"].GetStringValue()),
		Progress: int(f["progress"].GetNumberValue()),
		Message:  f["message"].GetStringValue(),
	}
}

func stringsToList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// NewGRPCServer registers the invoice, health and reflection services.
func NewGRPCServer(tasks Tasks, apiKey string, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	auth := apiKeyAuth(apiKey)
	opts = append(opts,
		grpc.ChainUnaryInterceptor(func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			if err := auth(ctx, info.FullMethod); err != nil {
				return nil, err
			}
			return handler(ctx, req)
		}),
		grpc.ChainStreamInterceptor(func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if err := auth(ss.Context(), info.FullMethod); err != nil {
				return err
			}
			return handler(srv, ss)
		}),
	)
	s := grpc.NewServer(opts...)
	RegisterInvoiceServiceServer(s, NewInvoiceService(tasks, logger))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(InvoiceServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s)
	return s, hs
}

// apiKeyAuth guards the invoice service; health and reflection stay open.
func apiKeyAuth(key string) func(ctx context.Context, method string) error {
	prefix := "/" + InvoiceServiceName + "/"
	return func(ctx context.Context, method string) error {
		if key == "" || len(method) < len(prefix) || method[:len(prefix)] != prefix {
			return nil
		}
		md, _ := metadata.FromIncomingContext(ctx)
		for _, got := range md.Get("x-api-key") {
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1 {
				return nil
			}
		}
		return status.Error(codes.Unauthenticated, common.ErrUnauthorized.Error())
	}
}
