package server

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// InvoiceClient calls the invoice service over a client connection.
type InvoiceClient struct {
	cc     grpc.ClientConnInterface
	apiKey string
}

func NewInvoiceClient(cc grpc.ClientConnInterface, apiKey string) *InvoiceClient {
	return &InvoiceClient{cc: cc, apiKey: apiKey}
}

func (c *InvoiceClient) ctx(ctx context.Context) context.Context {
	if c.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "x-api-key", c.apiKey)
}

func method(name string) string { return "/" + InvoiceServiceName + "/" + name }

func (c *InvoiceClient) Submit(ctx context.Context, files []entity.SourceFile) (string, error) {
	in, err := FilesToStruct(files)
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(c.ctx(ctx), method("Submit"), in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *InvoiceClient) GetStatus(ctx context.Context, id string) (entity.StatusView, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.ctx(ctx), method("GetStatus"), wrapperspb.String(id), out); err != nil {
		return entity.StatusView{}, err
	}
	return ViewFromStruct(out), nil
}

func (c *InvoiceClient) GetResult(ctx context.Context, id string, format constants.ExportFormat) ([]byte, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"task_id": id, "format": string(format)})
	if err != nil {
		return nil, err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(c.ctx(ctx), method("GetResult"), in, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *InvoiceClient) GetValidation(ctx context.Context, id string) (entity.ValidationResult, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.ctx(ctx), method("GetValidation"), wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	res := entity.ValidationResult{}
	for key, v := range out.GetFields() {
		warnings := []string{}
		for _, w := range v.GetListValue().GetValues() {
			warnings = append(warnings, w.GetStringValue())
		}
		res[key] = warnings
	}
	return res, nil
}

func (c *InvoiceClient) GetAnomalies(ctx context.Context, id string) ([]entity.Anomaly, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(c.ctx(ctx), method("GetAnomalies"), wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	anomalies := make([]entity.Anomaly, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		f := v.GetStructValue().GetFields()
		a := entity.Anomaly{InvoiceID: f["invoice_id"].GetStringValue(), Source: f["source"].GetStringValue()}
		for _, flag := range f["flags"].GetListValue().GetValues() {
			a.Flags = append(a.Flags, flag.GetStringValue())
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, nil
}

func (c *InvoiceClient) Cancel(ctx context.Context, id string) error {
	return c.cc.Invoke(c.ctx(ctx), method("Cancel"), wrapperspb.String(id), new(emptypb.Empty))
}

// WatchStatus calls fn for every streamed view until the task is terminal.
func (c *InvoiceClient) WatchStatus(ctx context.Context, id string, fn func(entity.StatusView)) error {
	stream, err := c.cc.NewStream(c.ctx(ctx), &InvoiceServiceDesc.Streams[0], method("WatchStatus"))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(id)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(ViewFromStruct(msg))
	}
}
