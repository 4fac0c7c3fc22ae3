// Package client hosts one connection to the authoritative server: dialing
// UDP, running client prediction and reconciliation (§4.5), the frame-time
// corrector (§4.7), and the outgoing compressed input window (§4.2, §4.6).
// Structure kept from the teacher's client.go (dial-then-receive-loop,
// ticker-driven tick(), stats counters); internals rewired to drive the
// rewinder+reconcile core instead of the teacher's ad hoc prediction queue.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/handlers"
	"github.com/gameraccoon/tank-game-sub000/networking/reconcile"
	"github.com/gameraccoon/tank-game-sub000/networking/rewinder"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/command"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

const maxUDPPayload = 1472

// Stats mirrors the teacher's ClientStats counters, generalized from a
// player-move demo to the netcode core's own concerns.
type Stats struct {
	MessagesSent      uint64
	MessagesReceived  uint64
	Desyncs           uint64
	Reconciliations   uint64
	ConnectedAtUnixUs uint64
}

// Config bundles everything a Client needs to know about the protocol it
// speaks, independent of the shared server-side config.Config (a client
// never needs the server's spawn points or idle thresholds).
type Config struct {
	ServerAddr       string
	ProtocolVersion  uint32
	OneFixedUpdateUS uint64
	WindowSize       int
}

// Client is one connection's worth of netcode-core client state.
type Client struct {
	cfg       Config
	log       logrus.FieldLogger
	registry  *command.Registry
	simulator reconcile.Simulator

	conn       *net.UDPConn
	serverAddr *net.UDPAddr

	rewinder  *rewinder.Rewinder
	driver    *reconcile.Driver
	corrector reconcile.FrameTimeCorrector

	stateMux  sync.RWMutex
	ownEntity *world.NetworkEntityID
	connected bool

	inputMux     sync.Mutex
	currentInput input.FrameInput

	statsMux sync.Mutex
	stats    Stats

	running bool
	stopCh  chan struct{}
}

// New constructs a Client. simulator drives the actual per-update gameplay
// simulation during prediction and reconciliation resimulation; resetter
// may be nil if the caller has no visual interpolation to reset.
func New(cfg Config, log logrus.FieldLogger, simulator reconcile.Simulator, resetter reconcile.InterpolationResetter) *Client {
	r := rewinder.New(world.NewSnapshot())
	return &Client{
		cfg:       cfg,
		log:       log,
		registry:  command.NewDefaultRegistry(),
		simulator: simulator,
		rewinder:  r,
		driver:    reconcile.New(r, simulator, resetter, log),
		stopCh:    make(chan struct{}),
	}
}

// Connect dials the server and sends the Connect message that starts the
// §4.8 handshake, then starts the receive and tick loops. ConnectionAccepted
// arrives asynchronously on the receive loop.
func (c *Client) Connect() error {
	addr, err := net.ResolveUDPAddr("udp", c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("client: resolve server address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}
	c.conn = conn
	c.serverAddr = addr

	nowUs := uint64(time.Now().UnixMicro())
	if _, err := conn.Write(handlers.EncodeConnect(c.cfg.ProtocolVersion, nowUs)); err != nil {
		return fmt.Errorf("client: send connect: %w", err)
	}

	c.running = true
	go c.receiveLoop()
	go c.tickLoop()

	return nil
}

// Disconnect notifies the server and tears down local goroutines.
func (c *Client) Disconnect() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		_, _ = c.conn.Write(handlers.EncodeDisconnect(handlers.DisconnectReason{Kind: handlers.DisconnectClientShutdown}))
		_ = c.conn.Close()
	}
}

// IsConnected reports whether ConnectionAccepted has been processed.
func (c *Client) IsConnected() bool {
	c.stateMux.RLock()
	defer c.stateMux.RUnlock()
	return c.connected
}

// OwnEntity returns the network id of the locally-owned entity, if one has
// been created yet.
func (c *Client) OwnEntity() (world.NetworkEntityID, bool) {
	c.stateMux.RLock()
	defer c.stateMux.RUnlock()
	if c.ownEntity == nil {
		return 0, false
	}
	return *c.ownEntity, true
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	c.statsMux.Lock()
	defer c.statsMux.Unlock()
	return c.stats
}

// SetInput overwrites the input the client will include in its next
// outgoing PlayerInput window and apply to its own fixed update.
func (c *Client) SetInput(fi input.FrameInput) {
	c.inputMux.Lock()
	c.currentInput = fi
	c.inputMux.Unlock()
}

// ========== receiving ==========

func (c *Client) receiveLoop() {
	buffer := make([]byte, maxUDPPayload)
	for c.running {
		_ = c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := c.conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if c.running {
				c.log.WithError(err).Warn("udp read error")
			}
			continue
		}

		frame, err := wire.DecodeFrame(buffer[:n])
		if err != nil {
			c.log.WithError(err).Warn("malformed datagram, dropping")
			continue
		}

		c.statsMux.Lock()
		c.stats.MessagesReceived++
		c.statsMux.Unlock()

		c.handleMessage(frame)
	}
}

func (c *Client) handleMessage(frame wire.Frame) {
	switch frame.ID {
	case wire.MessageConnectionAccepted:
		c.handleConnectionAccepted(frame.Payload)
	case wire.MessageWorldSnapshot:
		c.handleWorldSnapshot(frame.Payload)
	case wire.MessageGameplayCommand:
		c.handleGameplayCommand(frame.Payload)
	case wire.MessageEntityMove:
		c.handleEntityMove(frame.Payload)
	case wire.MessageDisconnect:
		reason, err := handlers.DecodeDisconnect(frame.Payload)
		if err != nil {
			c.log.WithError(err).Warn("malformed disconnect from server")
			return
		}
		c.log.WithField("reason", reason.String()).Info("disconnected by server")
		c.Disconnect()
	default:
		c.log.WithField("message_id", frame.ID.String()).Warn("unexpected message for client")
	}
}

func (c *Client) handleConnectionAccepted(payload []byte) {
	accepted, err := handlers.DecodeConnectionAccepted(payload)
	if err != nil {
		c.log.WithError(err).Warn("malformed connection-accepted")
		return
	}

	nowUs := uint64(time.Now().UnixMicro())
	// The estimate is clamped to the client's ring capacity of 60 updates,
	// the same cap reconcile.Driver trims the history to.
	startUpdate := handlers.ComputeInitialClientUpdateIndex(nowUs, accepted, 60, c.cfg.OneFixedUpdateUS)

	c.rewinder.SeedAt(startUpdate, world.NewSnapshot())

	c.stateMux.Lock()
	c.connected = true
	c.stateMux.Unlock()

	c.statsMux.Lock()
	c.stats.ConnectedAtUnixUs = nowUs
	c.statsMux.Unlock()

	c.log.WithField("start_update", startUpdate).Info("connection accepted")
}

func (c *Client) handleWorldSnapshot(payload []byte) {
	updateIdx, cmds, err := handlers.DecodeWorldSnapshot(c.registry, payload)
	if err != nil {
		c.log.WithError(err).Warn("malformed world snapshot")
		return
	}
	snap := c.rewinder.CurrentSnapshot()
	snap.Clear()
	for _, cmd := range cmds {
		if err := cmd.Execute(snap); err != nil {
			c.log.WithError(err).Warn("failed to apply world snapshot command")
			continue
		}
		c.noteOwnedEntity(cmd)
	}
	_ = c.rewinder.WriteSimulatedCommands(updateIdx, cmds)
}

func (c *Client) handleGameplayCommand(payload []byte) {
	updateIdx, cmds, err := handlers.DecodeGameplayCommand(c.registry, payload)
	if err != nil {
		c.log.WithError(err).Warn("malformed gameplay command, dropping")
		return
	}
	if err := c.rewinder.ApplyAuthoritativeCommands(updateIdx, cmds); err != nil {
		c.log.WithError(err).Warn("failed to record authoritative commands")
		return
	}
	for _, cmd := range cmds {
		c.noteOwnedEntity(cmd)
	}
}

func (c *Client) noteOwnedEntity(cmd command.Command) {
	created, ok := cmd.(*command.CreatePlayerEntity)
	if !ok || !created.IsOwner {
		return
	}
	id := created.NetworkEntityID
	c.stateMux.Lock()
	c.ownEntity = &id
	c.stateMux.Unlock()
}

func (c *Client) handleEntityMove(payload []byte) {
	moves, err := handlers.DecodeEntityMove(payload)
	if err != nil {
		c.log.WithError(err).Warn("malformed entity move")
		return
	}

	authoritative := rewinder.BuildMovementUpdate(moves.Moves)
	before := c.rewinder.FirstDesyncedUpdateIdx()
	if err := c.rewinder.ApplyAuthoritativeMoves(moves.UpdateIdx, authoritative); err != nil {
		c.log.WithError(err).WithField("update_idx", moves.UpdateIdx).Debug("could not apply authoritative moves")
		return
	}
	if after := c.rewinder.FirstDesyncedUpdateIdx(); after != rewinder.InvalidUpdateIdx && after != before {
		c.statsMux.Lock()
		c.stats.Desyncs++
		c.statsMux.Unlock()
	}

	if moves.HasIndexShift {
		c.corrector.ApplyShift(moves.IndexShift)
	}

	if err := c.driver.ProcessCorrections(); err != nil {
		c.log.WithError(err).Warn("reconciliation pass failed")
		return
	}
	c.statsMux.Lock()
	c.stats.Reconciliations++
	c.statsMux.Unlock()
}

// ========== tick loop ==========

func (c *Client) tickLoop() {
	period := time.Duration(c.cfg.OneFixedUpdateUS) * time.Microsecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) tick() {
	c.corrector.AdvanceOneUpdate()
	if !c.IsConnected() {
		return
	}

	current := c.rewinder.Current()
	next := current + 1

	c.inputMux.Lock()
	fi := c.currentInput
	c.inputMux.Unlock()

	if err := c.rewinder.SetInputFor(current, fi); err != nil {
		c.log.WithError(err).Debug("failed to record local input")
	}
	if err := c.rewinder.AdvanceToNextUpdate(next); err != nil {
		c.log.WithError(err).Warn("failed to advance rewinder")
		return
	}
	if c.simulator != nil {
		if err := c.simulator.FixedStep(next); err != nil {
			c.log.WithError(err).Warn("local simulation step failed")
		}
	}

	c.sendPlayerInput(next)
}

func (c *Client) sendPlayerInput(upTo uint32) {
	windowSize := c.cfg.WindowSize
	if windowSize <= 0 {
		windowSize = input.MaxInputHistorySendSize
	}
	if uint32(windowSize) > upTo+1 {
		windowSize = int(upTo + 1)
	}
	window := c.rewinder.LastInputs(windowSize, upTo)

	frame, err := handlers.EncodePlayerInput(upTo, window)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode player input")
		return
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.log.WithError(err).Warn("udp write error")
		return
	}
	c.statsMux.Lock()
	c.stats.MessagesSent++
	c.statsMux.Unlock()
}
