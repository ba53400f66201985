package dimse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// State tracks an association through its lifecycle
type State int

const (
	StateIdle State = iota
	StateAssociating
	StateNegotiated
	StateTransferring
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssociating:
		return "associating"
	case StateNegotiated:
		return "negotiated"
	case StateTransferring:
		return "transferring"
	case StateReleased:
		return "released"
	}
	return "unknown"
}

// ErrNoCommonTransferSyntax means negotiation found no mutually supported
// transfer syntax for a required presentation context. This is a
// configuration error, not a retryable condition.
var ErrNoCommonTransferSyntax = errors.New("no common transfer syntax")

// AssociationConfig holds configuration for one DICOM association
type AssociationConfig struct {
	Host         string
	Port         int
	CallingAET   string
	CalledAET    string
	Timeout      time.Duration
	MaxPDULength uint32

	// TransferSyntaxes is the ordered preference list proposed per
	// presentation context. Defaults to DefaultTransferSyntaxes.
	TransferSyntaxes []string
}

// Association is a DICOM upper layer association. One association serves
// one operation; Echo/Store/Find own its lifetime end-to-end.
type Association struct {
	config AssociationConfig

	mu           sync.Mutex
	state        State
	conn         net.Conn
	contexts     map[byte]acceptedContext
	remoteMaxPDU uint32
	messageID    uint16
}

// NewAssociation creates an unconnected association
func NewAssociation(config AssociationConfig) *Association {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxPDULength == 0 {
		config.MaxPDULength = 16384
	}
	if len(config.TransferSyntaxes) == 0 {
		config.TransferSyntaxes = DefaultTransferSyntaxes
	}

	return &Association{
		config:       config,
		state:        StateIdle,
		remoteMaxPDU: 16384,
	}
}

// State returns the current association state
func (a *Association) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect dials the remote AE and negotiates the association for the given
// abstract syntaxes. On any failure the connection is torn down.
func (a *Association) Connect(ctx context.Context, abstractSyntaxes []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateIdle {
		return fmt.Errorf("connect in state %s", a.state)
	}
	a.state = StateAssociating

	addr := net.JoinHostPort(a.config.Host, fmt.Sprintf("%d", a.config.Port))
	dialer := &net.Dialer{Timeout: a.config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		a.state = StateIdle
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	a.conn = conn

	// Close the socket if the caller is cancelled mid-negotiation so the
	// blocked read fails promptly.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	contexts := make([]proposedContext, 0, len(abstractSyntaxes))
	id := byte(1) // presentation context IDs must be odd
	for _, as := range abstractSyntaxes {
		contexts = append(contexts, proposedContext{
			id:               id,
			abstractSyntax:   as,
			transferSyntaxes: a.config.TransferSyntaxes,
		})
		id += 2
	}

	if err := a.negotiate(contexts); err != nil {
		conn.Close()
		a.conn = nil
		a.state = StateIdle
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	// Record which abstract syntax each accepted context carries
	for _, pc := range contexts {
		if accepted, ok := a.contexts[pc.id]; ok {
			accepted.abstractSyntax = pc.abstractSyntax
			a.contexts[pc.id] = accepted
		}
	}

	a.state = StateNegotiated
	return nil
}

func (a *Association) negotiate(contexts []proposedContext) error {
	body := buildAssociateRQ(a.config.CallingAET, a.config.CalledAET, contexts, a.config.MaxPDULength)

	if err := a.conn.SetDeadline(time.Now().Add(a.config.Timeout)); err != nil {
		return err
	}
	if err := writePDU(a.conn, pduAssociateRQ, body); err != nil {
		return fmt.Errorf("failed to send A-ASSOCIATE-RQ: %w", err)
	}

	resp, err := readPDU(a.conn)
	if err != nil {
		return fmt.Errorf("failed to read association response: %w", err)
	}

	switch resp.pduType {
	case pduAssociateAC:
		ac, err := parseAssociateAC(resp.data)
		if err != nil {
			return err
		}
		if len(ac.contexts) == 0 {
			// Every proposed context refused: a configuration
			// mismatch, not a transient fault.
			return ErrNoCommonTransferSyntax
		}
		a.contexts = ac.contexts
		a.remoteMaxPDU = ac.remoteMaxPDU
		return nil
	case pduAssociateRJ:
		if len(resp.data) < 4 {
			return fmt.Errorf("short A-ASSOCIATE-RJ")
		}
		return &RejectedError{Result: resp.data[1], Source: resp.data[2], Reason: resp.data[3]}
	case pduAbort:
		if len(resp.data) < 4 {
			return &AbortError{}
		}
		return &AbortError{Source: resp.data[2], Reason: resp.data[3]}
	default:
		return fmt.Errorf("unexpected PDU type 0x%02x during negotiation", resp.pduType)
	}
}

// TransferSyntaxFor returns the transfer syntax the remote accepted for
// an abstract syntax. Callers transferring pre-serialized datasets must
// check it against the dataset's own encoding before sending.
func (a *Association) TransferSyntaxFor(abstractSyntax string) (string, error) {
	pc, err := a.contextFor(abstractSyntax)
	if err != nil {
		return "", err
	}
	return pc.transferSyntax, nil
}

// contextFor returns the accepted presentation context for an abstract
// syntax, or ErrNoCommonTransferSyntax if the remote refused it.
func (a *Association) contextFor(abstractSyntax string) (acceptedContext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pc := range a.contexts {
		if pc.abstractSyntax == abstractSyntax {
			return pc, nil
		}
	}
	return acceptedContext{}, fmt.Errorf("%s: %w", abstractSyntax, ErrNoCommonTransferSyntax)
}

// Release performs a graceful A-RELEASE exchange and closes the socket
func (a *Association) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil || a.state == StateReleased {
		a.state = StateReleased
		return nil
	}
	defer func() {
		a.conn.Close()
		a.conn = nil
		a.state = StateReleased
	}()

	if err := a.conn.SetDeadline(time.Now().Add(a.config.Timeout)); err != nil {
		return err
	}
	if err := writePDU(a.conn, pduReleaseRQ, buildReleaseRQ()); err != nil {
		return fmt.Errorf("failed to send A-RELEASE-RQ: %w", err)
	}

	// Wait for A-RELEASE-RP; the socket closes either way
	if resp, err := readPDU(a.conn); err == nil && resp.pduType != pduReleaseRP {
		return fmt.Errorf("unexpected PDU type 0x%02x during release", resp.pduType)
	}
	return nil
}

// Abort sends A-ABORT and closes the socket immediately. Used on
// cancellation paths where a graceful release would block.
func (a *Association) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		a.state = StateReleased
		return
	}
	a.conn.SetDeadline(time.Now().Add(2 * time.Second))
	writePDU(a.conn, pduAbort, buildAbort())
	a.conn.Close()
	a.conn = nil
	a.state = StateReleased
}

// nextMessageID returns a fresh DIMSE message ID
func (a *Association) nextMessageID() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messageID++
	return a.messageID
}

// sendMessage writes one DIMSE message (command set plus optional data
// set) as P-DATA-TF PDUs, fragmented to the remote's max PDU length.
func (a *Association) sendMessage(pcID byte, command []byte, data []byte) error {
	a.mu.Lock()
	conn := a.conn
	maxPDU := a.remoteMaxPDU
	timeout := a.config.Timeout
	a.state = StateTransferring
	a.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("association not established")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	if err := sendFragmented(conn, pcID, command, pdvCommand, maxPDU); err != nil {
		return fmt.Errorf("failed to send command set: %w", err)
	}
	if len(data) > 0 {
		if err := sendFragmented(conn, pcID, data, 0, maxPDU); err != nil {
			return fmt.Errorf("failed to send data set: %w", err)
		}
	}
	return nil
}

func sendFragmented(conn net.Conn, pcID byte, payload []byte, baseFlags byte, maxPDU uint32) error {
	// 6 bytes of PDV overhead per fragment
	chunk := int(maxPDU) - 6
	if chunk < 1 {
		chunk = 4096
	}

	offset := 0
	for {
		end := offset + chunk
		last := false
		if end >= len(payload) {
			end = len(payload)
			last = true
		}
		flags := baseFlags
		if last {
			flags |= pdvLast
		}
		body := buildPDataTF([]pdv{{contextID: pcID, flags: flags, data: payload[offset:end]}})
		if err := writePDU(conn, pduPDataTF, body); err != nil {
			return err
		}
		if last {
			return nil
		}
		offset = end
	}
}

// message is one reassembled DIMSE message
type message struct {
	command *dataset
	data    []byte
}

// receiveMessage reassembles P-DATA-TF fragments into a command set and,
// when the command announces one, a data set.
func (a *Association) receiveMessage() (*message, error) {
	a.mu.Lock()
	conn := a.conn
	timeout := a.config.Timeout
	a.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("association not established")
	}

	var commandBytes, dataBytes []byte
	var cmd *dataset
	commandDone, wantData, dataDone := false, false, false

	for !commandDone || (wantData && !dataDone) {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		raw, err := readPDU(conn)
		if err != nil {
			return nil, err
		}
		switch raw.pduType {
		case pduPDataTF:
			pdvs, err := parsePDataTF(raw.data)
			if err != nil {
				return nil, err
			}
			for _, p := range pdvs {
				if p.flags&pdvCommand != 0 {
					commandBytes = append(commandBytes, p.data...)
					if p.flags&pdvLast != 0 {
						commandDone = true
					}
				} else {
					dataBytes = append(dataBytes, p.data...)
					if p.flags&pdvLast != 0 {
						dataDone = true
					}
				}
			}
		case pduAbort:
			if len(raw.data) >= 4 {
				return nil, &AbortError{Source: raw.data[2], Reason: raw.data[3]}
			}
			return nil, &AbortError{}
		default:
			return nil, fmt.Errorf("unexpected PDU type 0x%02x while receiving", raw.pduType)
		}

		if commandDone && cmd == nil {
			cmd, err = decodeDataset(commandBytes)
			if err != nil {
				return nil, fmt.Errorf("bad command set: %w", err)
			}
			if dst, ok := cmd.getUint16(tagDataSetType); ok && dst != dataSetNull {
				wantData = true
			}
		}
	}

	return &message{command: cmd, data: dataBytes}, nil
}
