package dimse

import (
	"context"
	"fmt"
)

// CEcho performs a C-ECHO exchange (DICOM ping) on an established
// association.
func (a *Association) CEcho(ctx context.Context) error {
	pc, err := a.contextFor(VerificationSOPClass)
	if err != nil {
		return err
	}

	msgID := a.nextMessageID()
	command := buildCommand(func(d *dataset) {
		d.putUID(tagAffectedSOPClass, VerificationSOPClass)
		d.putUint16(tagCommandField, cmdCEchoRQ)
		d.putUint16(tagMessageID, msgID)
		d.putUint16(tagDataSetType, dataSetNull)
	})

	if err := a.sendMessage(pc.id, command, nil); err != nil {
		return fmt.Errorf("failed to send C-ECHO-RQ: %w", err)
	}

	resp, err := a.receiveWithCancel(ctx)
	if err != nil {
		return fmt.Errorf("failed to receive C-ECHO-RSP: %w", err)
	}

	status, ok := resp.command.getUint16(tagStatus)
	if !ok {
		return fmt.Errorf("C-ECHO-RSP missing status")
	}
	if status != statusSuccess {
		return fmt.Errorf("C-ECHO failed with status 0x%04x", status)
	}
	return nil
}

// receiveWithCancel runs receiveMessage while honoring context
// cancellation by aborting the association, which unblocks the read.
func (a *Association) receiveWithCancel(ctx context.Context) (*message, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.Abort()
		case <-done:
		}
	}()
	defer close(done)

	msg, err := a.receiveMessage()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return msg, err
}
