package server

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/config"
	"github.com/gameraccoon/tank-game-sub000/networking/handlers"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
)

// malformedPlayerInputFrame hand-builds a PlayerInput payload whose key 0
// run-length groups end at [3, 3, 10] for a 10-frame window: the second
// group's end (3) is not after the first group's end (3), so it fails to
// tile the window. Mirrors the non-monotonic example in the compressed
// input format's protocol-error scenario.
func malformedPlayerInputFrame() []byte {
	w := wire.NewWriter()
	w.PutU32(9)             // last input update idx
	_ = w.PutU8FromInt(10)  // window length
	_ = w.PutU8FromInt(0)   // no changed axes
	// key 0: two groups, non-monotonic
	_ = w.PutU8FromInt(3)
	w.PutU8(0)
	w.PutU32(0)
	_ = w.PutU8FromInt(3)
	w.PutU8(0)
	w.PutU32(0)
	_ = w.PutU8FromInt(10)
	w.PutU8(0)
	w.PutU32(0)
	// keys 1-3: one group each, tiling cleanly
	for key := 1; key < 4; key++ {
		_ = w.PutU8FromInt(10)
		w.PutU8(0)
		w.PutU32(0)
	}
	return wire.EncodeFrame(wire.MessagePlayerInput, w.Bytes())
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	return log
}

func newTestServer(t *testing.T) (*Server, *net.UDPConn) {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"

	s := New(cfg, testLogger(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	client, err := net.DialUDP("udp", nil, s.listener.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return s, client
}

func readFrame(t *testing.T, conn *net.UDPConn, timeout time.Duration) wire.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := wire.DecodeFrame(buf[:n])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	return frame
}

func TestConnectHandshakeAcceptsMatchingVersion(t *testing.T) {
	s, client := newTestServer(t)

	connectFrame := handlers.EncodeConnect(s.cfg.ProtocolVersion, 1000)
	if _, err := client.Write(connectFrame); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	frame := readFrame(t, client, 2*time.Second)
	if frame.ID != wire.MessageConnectionAccepted {
		t.Fatalf("expected ConnectionAccepted, got %v", frame.ID)
	}
	accepted, err := handlers.DecodeConnectionAccepted(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeConnectionAccepted: %v", err)
	}
	if accepted.EchoedClientTimestampUs != 1000 {
		t.Fatalf("expected echoed timestamp 1000, got %d", accepted.EchoedClientTimestampUs)
	}

	snapshotFrame := readFrame(t, client, 2*time.Second)
	if snapshotFrame.ID != wire.MessageWorldSnapshot {
		t.Fatalf("expected WorldSnapshot, got %v", snapshotFrame.ID)
	}
}

func TestConnectHandshakeRejectsVersionMismatch(t *testing.T) {
	s, client := newTestServer(t)

	connectFrame := handlers.EncodeConnect(s.cfg.ProtocolVersion+1, 1000)
	if _, err := client.Write(connectFrame); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	frame := readFrame(t, client, 2*time.Second)
	if frame.ID != wire.MessageDisconnect {
		t.Fatalf("expected Disconnect, got %v", frame.ID)
	}
	reason, err := handlers.DecodeDisconnect(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeDisconnect: %v", err)
	}
	if reason.Kind != handlers.DisconnectIncompatibleVersion {
		t.Fatalf("expected incompatible version reason, got %v", reason.Kind)
	}
}

func TestNewPlayerReceivesGameplayCommandBroadcast(t *testing.T) {
	s, client := newTestServer(t)

	connectFrame := handlers.EncodeConnect(s.cfg.ProtocolVersion, 1000)
	if _, err := client.Write(connectFrame); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	readFrame(t, client, 2*time.Second) // ConnectionAccepted
	readFrame(t, client, 2*time.Second) // WorldSnapshot

	frame := readFrame(t, client, 2*time.Second)
	if frame.ID != wire.MessageGameplayCommand {
		t.Fatalf("expected GameplayCommand broadcasting the new player's own entity, got %v", frame.ID)
	}
	updateIdx, cmds, err := handlers.DecodeGameplayCommand(s.registry, frame.Payload)
	if err != nil {
		t.Fatalf("DecodeGameplayCommand: %v", err)
	}
	if updateIdx == 0 {
		t.Fatalf("expected a nonzero update index for the spawn command")
	}
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one spawn command, got %d", len(cmds))
	}
}

func TestMalformedPlayerInputTilingDisconnectsClient(t *testing.T) {
	s, client := newTestServer(t)

	connectFrame := handlers.EncodeConnect(s.cfg.ProtocolVersion, 1000)
	if _, err := client.Write(connectFrame); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	readFrame(t, client, 2*time.Second) // ConnectionAccepted
	readFrame(t, client, 2*time.Second) // WorldSnapshot
	readFrame(t, client, 2*time.Second) // GameplayCommand (own spawn)

	if _, err := client.Write(malformedPlayerInputFrame()); err != nil {
		t.Fatalf("write malformed player input: %v", err)
	}

	frame := readFrame(t, client, 2*time.Second)
	if frame.ID != wire.MessageDisconnect {
		t.Fatalf("expected Disconnect after malformed player input, got %v", frame.ID)
	}
	reason, err := handlers.DecodeDisconnect(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeDisconnect: %v", err)
	}
	if reason.Kind != handlers.DisconnectUnknown {
		t.Fatalf("expected unknown disconnect reason, got %v", reason.Kind)
	}
}

func TestSimulationPausesThenResumesOnClientTraffic(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.OneFixedUpdateUS = 1000
	cfg.IdlePauseUpdates = 3
	cfg.IdleQuitUpdates = 1_000_000

	s := New(cfg, testLogger(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	// No client ever connects, so the idle clock crosses IdlePauseUpdates
	// almost immediately; the simulation must stay parked at update 0.
	time.Sleep(50 * time.Millisecond)
	frozen := s.rewinder.Current()
	if frozen != 0 {
		t.Fatalf("expected simulation to pause at update 0, advanced to %d", frozen)
	}
	time.Sleep(20 * time.Millisecond)
	if got := s.rewinder.Current(); got != frozen {
		t.Fatalf("expected simulation to remain paused at %d, advanced to %d", frozen, got)
	}

	client, err := net.DialUDP("udp", nil, s.listener.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if _, err := client.Write(handlers.EncodeConnect(cfg.ProtocolVersion, 1000)); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	readFrame(t, client, 2*time.Second) // ConnectionAccepted resets the idle timer

	time.Sleep(20 * time.Millisecond)
	if got := s.rewinder.Current(); got == frozen {
		t.Fatalf("expected simulation to resume advancing after client traffic, still at %d", frozen)
	}
}

func TestIdleQuitShutsDownServerWithoutTraffic(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.OneFixedUpdateUS = 500
	cfg.IdlePauseUpdates = 2
	cfg.IdleQuitUpdates = 5

	s := New(cfg, testLogger(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected server to self-stop once the idle-quit threshold elapsed")
	}
}
