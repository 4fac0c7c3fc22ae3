package client

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/handlers"
	"github.com/gameraccoon/tank-game-sub000/networking/reconcile"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/command"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	return log
}

type noopSimulator struct{}

func (noopSimulator) FixedStep(uint32) error { return nil }

func newFakeServer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnectSendsConnectMessage(t *testing.T) {
	server := newFakeServer(t)

	cfg := Config{
		ServerAddr:       server.LocalAddr().String(),
		ProtocolVersion:  3,
		OneFixedUpdateUS: 16000,
	}
	c := New(cfg, testLogger(), noopSimulator{}, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	frame, err := wire.DecodeFrame(buf[:n])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.ID != wire.MessageConnect {
		t.Fatalf("expected Connect, got %v", frame.ID)
	}
	payload, err := handlers.DecodeConnect(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeConnect: %v", err)
	}
	if payload.ClientProtocolVersion != 3 {
		t.Fatalf("expected protocol version 3, got %d", payload.ClientProtocolVersion)
	}
}

func TestHandleConnectionAcceptedMarksConnected(t *testing.T) {
	cfg := Config{ProtocolVersion: 3, OneFixedUpdateUS: 16000}
	c := New(cfg, testLogger(), noopSimulator{}, nil)

	frame, err := wire.DecodeFrame(handlers.EncodeConnectionAccepted(42, 1000))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	c.handleConnectionAccepted(frame.Payload)

	if !c.IsConnected() {
		t.Fatalf("expected client to be marked connected")
	}
}

func TestHandleWorldSnapshotPopulatesOwnEntity(t *testing.T) {
	cfg := Config{ProtocolVersion: 3, OneFixedUpdateUS: 16000}
	c := New(cfg, testLogger(), noopSimulator{}, nil)

	acceptedFrame, err := wire.DecodeFrame(handlers.EncodeConnectionAccepted(0, 0))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	c.handleConnectionAccepted(acceptedFrame.Payload)

	cmd := command.NewCreatePlayerEntityServerSide(world.Vec2{X: 80, Y: 202}, 7, world.ConnectionID(0))
	snapshotBytes, err := handlers.EncodeWorldSnapshot(0, []command.Command{cmd}, world.ConnectionID(0))
	if err != nil {
		t.Fatalf("EncodeWorldSnapshot: %v", err)
	}
	snapshotFrame, err := wire.DecodeFrame(snapshotBytes)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	c.handleWorldSnapshot(snapshotFrame.Payload)

	id, ok := c.OwnEntity()
	if !ok {
		t.Fatalf("expected an owned entity to be recorded")
	}
	if id != 7 {
		t.Fatalf("expected owned entity id 7, got %d", id)
	}
}

func TestFrameTimeCorrectorHasNoCorrectionBeforeAnyShift(t *testing.T) {
	var fc reconcile.FrameTimeCorrector
	if got := fc.FrameLengthCorrection(); got != 0 {
		t.Fatalf("expected zero correction before any shift, got %v", got)
	}
}
