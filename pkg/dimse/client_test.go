package dimse

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// fakeSCP is a minimal acceptor good for one association
type fakeSCP struct {
	listener net.Listener
	t        *testing.T
}

func newFakeSCP(t *testing.T) *fakeSCP {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return &fakeSCP{listener: l, t: t}
}

func (f *fakeSCP) addr() (string, int) {
	a := f.listener.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}

// serveEcho accepts one association and answers a single C-ECHO
func (f *fakeSCP) serveEcho() {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	rq, err := readPDU(conn)
	if err != nil || rq.pduType != pduAssociateRQ {
		return
	}

	ac := buildTestACBody(map[byte]string{1: ImplicitVRLittleEndian}, nil, 16384)
	writePDU(conn, pduAssociateAC, ac)

	// One command PDU expected for C-ECHO
	raw, err := readPDU(conn)
	if err != nil || raw.pduType != pduPDataTF {
		return
	}
	pdvs, err := parsePDataTF(raw.data)
	if err != nil || len(pdvs) == 0 {
		return
	}
	cmd, err := decodeDataset(pdvs[len(pdvs)-1].data)
	if err != nil {
		return
	}
	msgID, _ := cmd.getUint16(tagMessageID)

	rsp := buildCommand(func(d *dataset) {
		d.putUID(tagAffectedSOPClass, VerificationSOPClass)
		d.putUint16(tagCommandField, cmdCEchoRSP)
		d.putUint16(tagMessageIDRespondedTo, msgID)
		d.putUint16(tagDataSetType, dataSetNull)
		d.putUint16(tagStatus, statusSuccess)
	})
	writePDU(conn, pduPDataTF, buildPDataTF([]pdv{
		{contextID: pdvs[0].contextID, flags: pdvCommand | pdvLast, data: rsp},
	}))

	// Graceful release
	if rel, err := readPDU(conn); err == nil && rel.pduType == pduReleaseRQ {
		writePDU(conn, pduReleaseRP, []byte{0x00, 0x00, 0x00, 0x00})
	}
}

// serveReject accepts one association and rejects it
func (f *fakeSCP) serveReject(result, source, reason byte) {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	if _, err := readPDU(conn); err != nil {
		return
	}
	writePDU(conn, pduAssociateRJ, []byte{0x00, result, source, reason})
}

func testAssociation(f *fakeSCP) *Association {
	host, port := f.addr()
	return NewAssociation(AssociationConfig{
		Host:       host,
		Port:       port,
		CallingAET: "CAPTURE_GW",
		CalledAET:  "TEST_SCP",
		Timeout:    5 * time.Second,
	})
}

func TestConnectAndEcho(t *testing.T) {
	scp := newFakeSCP(t)
	go scp.serveEcho()

	assoc := testAssociation(scp)
	ctx := context.Background()

	if err := assoc.Connect(ctx, []string{VerificationSOPClass}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if assoc.State() != StateNegotiated {
		t.Errorf("state %s after connect", assoc.State())
	}

	if err := assoc.CEcho(ctx); err != nil {
		t.Fatalf("CEcho failed: %v", err)
	}
	if err := assoc.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if assoc.State() != StateReleased {
		t.Errorf("state %s after release", assoc.State())
	}
}

func TestConnectRejected(t *testing.T) {
	scp := newFakeSCP(t)
	go scp.serveReject(1, 1, 7) // permanent, service user, called AE not recognized

	assoc := testAssociation(scp)
	err := assoc.Connect(context.Background(), []string{VerificationSOPClass})
	if err == nil {
		t.Fatal("expected rejection")
	}

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %T: %v", err, err)
	}
	if rejected.Reason != 7 {
		t.Errorf("reason %d", rejected.Reason)
	}
	if assoc.State() != StateIdle {
		t.Errorf("state %s after rejected connect", assoc.State())
	}
}

func TestConnectRefusedConnection(t *testing.T) {
	// Grab a free port and close the listener so nothing is listening
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	assoc := NewAssociation(AssociationConfig{
		Host:       addr.IP.String(),
		Port:       addr.Port,
		CallingAET: "CAPTURE_GW",
		CalledAET:  "TEST_SCP",
		Timeout:    2 * time.Second,
	})
	if err := assoc.Connect(context.Background(), []string{VerificationSOPClass}); err == nil {
		t.Fatal("expected connection failure")
	}
}

func TestTransferSyntaxForNegotiatedContext(t *testing.T) {
	scp := newFakeSCP(t)
	go scp.serveEcho()

	assoc := testAssociation(scp)
	if err := assoc.Connect(context.Background(), []string{VerificationSOPClass}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer assoc.Release()

	ts, err := assoc.TransferSyntaxFor(VerificationSOPClass)
	if err != nil {
		t.Fatalf("TransferSyntaxFor failed: %v", err)
	}
	if ts != ImplicitVRLittleEndian {
		t.Errorf("transfer syntax %q", ts)
	}
	if _, err := assoc.TransferSyntaxFor(SecondaryCaptureImageStorage); !errors.Is(err, ErrNoCommonTransferSyntax) {
		t.Errorf("expected ErrNoCommonTransferSyntax, got %v", err)
	}
}

func TestContextForUnknownAbstractSyntax(t *testing.T) {
	scp := newFakeSCP(t)
	go scp.serveEcho()

	assoc := testAssociation(scp)
	if err := assoc.Connect(context.Background(), []string{VerificationSOPClass}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer assoc.Release()

	if _, err := assoc.contextFor(SecondaryCaptureImageStorage); !errors.Is(err, ErrNoCommonTransferSyntax) {
		t.Errorf("expected ErrNoCommonTransferSyntax, got %v", err)
	}
}
