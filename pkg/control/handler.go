package control

import (
	"context"

	"github.com/core-tools/hsu-procman/pkg/domain"
	"github.com/core-tools/hsu-procman/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&supervisorServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Start(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.handler.Start(ctx, request.GetValue()); err != nil {
		h.logger.Errorf("Start server handler, name: '%s', error: %v", request.GetValue(), err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Start server handler done, name: '%s'", request.GetValue())
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) Stop(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.handler.Stop(ctx, request.GetValue()); err != nil {
		h.logger.Errorf("Stop server handler, name: '%s', error: %v", request.GetValue(), err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Stop server handler done, name: '%s'", request.GetValue())
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) Restart(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.handler.Restart(ctx, request.GetValue()); err != nil {
		h.logger.Errorf("Restart server handler, name: '%s', error: %v", request.GetValue(), err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Restart server handler done, name: '%s'", request.GetValue())
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) Reload(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := h.handler.Reload(ctx); err != nil {
		h.logger.Errorf("Reload server handler: %v", err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Reload server handler done")
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	statuses, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatusError(err)
	}
	response, err := encodeStatuses(statuses)
	if err != nil {
		h.logger.Errorf("Status server handler, encoding: %v", err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Status server handler done")
	return response, nil
}
