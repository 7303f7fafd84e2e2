package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName: полное имя gRPC-сервиса.
const ServiceName = "voiceorder.v1.OrderAutomation"

const (
	methodCreateOrder  = "/" + ServiceName + "/CreateOrder"
	methodConfirmOrder = "/" + ServiceName + "/ConfirmOrder"
)

// OrderAutomationServer: серверная сторона сервиса. Тела запросов и ответов
// повторяют JSON HTTP API и передаются как google.protobuf.Struct.
type OrderAutomationServer interface {
	CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ConfirmOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// OrderAutomationServiceDesc описывает сервис для grpc.Server.
var OrderAutomationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderAutomationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler(methodCreateOrder, OrderAutomationServer.CreateOrder)},
		{MethodName: "ConfirmOrder", Handler: unaryHandler(methodConfirmOrder, OrderAutomationServer.ConfirmOrder)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "voiceorder/v1/order_automation.proto",
}

// RegisterOrderAutomationServer регистрирует реализацию на сервере.
func RegisterOrderAutomationServer(s grpc.ServiceRegistrar, srv OrderAutomationServer) {
	s.RegisterService(&OrderAutomationServiceDesc, srv)
}

func unaryHandler(
	fullMethod string,
	call func(OrderAutomationServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderAutomationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderAutomationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderAutomationClient: клиент сервиса.
type OrderAutomationClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderAutomationClient создаёт клиента поверх соединения.
func NewOrderAutomationClient(cc grpc.ClientConnInterface) *OrderAutomationClient {
	return &OrderAutomationClient{cc: cc}
}

// CreateOrder вызывает поиск блюда.
func (c *OrderAutomationClient) CreateOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodCreateOrder, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmOrder вызывает оформление заказа.
func (c *OrderAutomationClient) ConfirmOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodConfirmOrder, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
