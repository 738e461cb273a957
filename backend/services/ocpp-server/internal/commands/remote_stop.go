package commands

import (
	"context"

	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// RemoteStopper asks a charge point to end a transaction.
type RemoteStopper struct {
	manager *Manager
}

// NewRemoteStopper wraps a manager.
func NewRemoteStopper(manager *Manager) *RemoteStopper {
	return &RemoteStopper{manager: manager}
}

// RemoteStop sends RemoteStopTransaction. The reply is tracked by the manager.
func (r *RemoteStopper) RemoteStop(ctx context.Context, chargePointID string, transactionNumber int) error {
	_, err := r.manager.Send(ctx, chargePointID, protocol.ActionRemoteStopTransaction,
		protocol.RemoteStopTransactionRequest{TransactionID: transactionNumber})
	return err
}
