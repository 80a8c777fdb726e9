package control

import (
	"context"

	"github.com/core-tools/hsu-procman/pkg/domain"
	"github.com/core-tools/hsu-procman/pkg/logging"

	"google.golang.org/grpc"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		grpcClient: &supervisorClient{cc: grpcClientConnection},
		logger:     logger,
	}
}

type grpcClientGateway struct {
	grpcClient *supervisorClient
	logger     logging.Logger
}

func (gw *grpcClientGateway) Start(ctx context.Context, name string) error {
	if err := gw.grpcClient.invokeName(ctx, methodStart, name); err != nil {
		gw.logger.Errorf("Start client gateway: %v", err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("Start client gateway done")
	return nil
}

func (gw *grpcClientGateway) Stop(ctx context.Context, name string) error {
	if err := gw.grpcClient.invokeName(ctx, methodStop, name); err != nil {
		gw.logger.Errorf("Stop client gateway: %v", err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("Stop client gateway done")
	return nil
}

func (gw *grpcClientGateway) Restart(ctx context.Context, name string) error {
	if err := gw.grpcClient.invokeName(ctx, methodRestart, name); err != nil {
		gw.logger.Errorf("Restart client gateway: %v", err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("Restart client gateway done")
	return nil
}

func (gw *grpcClientGateway) Reload(ctx context.Context) error {
	if err := gw.grpcClient.Reload(ctx); err != nil {
		gw.logger.Errorf("Reload client gateway: %v", err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("Reload client gateway done")
	return nil
}

func (gw *grpcClientGateway) Status(ctx context.Context) ([]domain.ProcessStatus, error) {
	response, err := gw.grpcClient.Status(ctx)
	if err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return nil, fromStatusError(err)
	}
	gw.logger.Debugf("Status client gateway done")
	return decodeStatuses(response), nil
}
