// Package server hosts the authoritative game instance: a UDP listener, a
// worker pool fanning inbound datagrams across goroutines, and a single
// ticker-driven goroutine that owns the rewinder, the arbiter, and the
// simulation (§5's "single-threaded cooperative" scheduling model applied
// per game instance). Structure kept from the teacher's server.go
// (worker pool, message queue, network/game/maintenance loops); internals
// rewired to drive the netcode core instead of the teacher's room/chat demo.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/arbiter"
	"github.com/gameraccoon/tank-game-sub000/networking/config"
	"github.com/gameraccoon/tank-game-sub000/networking/handlers"
	"github.com/gameraccoon/tank-game-sub000/networking/metrics"
	"github.com/gameraccoon/tank-game-sub000/networking/rewinder"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/command"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

const (
	// maxUDPPayload is the maximum safe UDP payload, kept from the teacher.
	maxUDPPayload = 1472
	// workerPoolSize is the number of goroutines fanning inbound messages
	// out from the single network-reading goroutine.
	workerPoolSize = 16
)

type inboundDatagram struct {
	addr *net.UDPAddr
	data []byte
}

// Server is one authoritative game instance.
type Server struct {
	cfg config.Config
	log logrus.FieldLogger

	listener *net.UDPConn

	rewinder *rewinder.Rewinder
	arbiter  *arbiter.Arbiter
	registry *command.Registry

	conns      *handlers.ServerConnections
	addrToConn map[string]world.ConnectionID
	connToAddr map[world.ConnectionID]*net.UDPAddr
	nextConnID uint32
	connsMux   sync.RWMutex

	nextEntityID uint64
	pendingMux   sync.Mutex
	pending      []command.Command

	workerPool   chan func()
	messageQueue chan inboundDatagram

	metrics *metrics.Server

	// idleClock counts real fixed-step ticks since the last client
	// interaction, independent of the rewinder's update index: it must
	// keep advancing even while the simulation itself is paused, or the
	// idle-quit threshold could never be reached (§4.9).
	idleClock uint32

	running int32
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a Server instance. metricsServer may be nil, in which case
// no metrics are recorded.
func New(cfg config.Config, log logrus.FieldLogger, metricsServer *metrics.Server) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:          cfg,
		log:          log,
		rewinder:     rewinder.New(world.NewSnapshot()),
		registry:     command.NewDefaultRegistry(),
		conns:        handlers.NewServerConnections(cfg.IdlePauseUpdates, cfg.IdleQuitUpdates),
		addrToConn:   make(map[string]world.ConnectionID),
		connToAddr:   make(map[world.ConnectionID]*net.UDPAddr),
		workerPool:   make(chan func(), workerPoolSize*10),
		messageQueue: make(chan inboundDatagram, 10000),
		metrics:      metricsServer,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.arbiter = arbiter.New(s.rewinder, log)

	for i := 0; i < workerPoolSize; i++ {
		go s.worker()
	}

	return s
}

// Start opens the UDP listener and launches the network, tick, and
// maintenance goroutines.
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen udp: %w", err)
	}
	s.listener = conn
	_ = s.listener.SetReadBuffer(4 * 1024 * 1024)
	_ = s.listener.SetWriteBuffer(4 * 1024 * 1024)

	atomic.StoreInt32(&s.running, 1)
	s.log.WithField("addr", s.cfg.ListenAddr).Info("server started")

	go s.networkLoop()
	go s.tickLoop()
	go s.maintenanceLoop()

	if s.cfg.MetricsAddr != "" && s.metrics != nil {
		go func() {
			if err := s.metrics.ListenAndServe(s.cfg.MetricsAddr); err != nil {
				s.log.WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	return nil
}

// Done returns a channel closed once Stop has been called, for a host
// binary's main goroutine to block on.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Stop signals every goroutine to exit and closes the listener.
func (s *Server) Stop() {
	atomic.StoreInt32(&s.running, 0)
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	time.Sleep(100 * time.Millisecond)
	s.log.Info("server stopped")
}

// ========== networking ==========

func (s *Server) networkLoop() {
	buffer := make([]byte, maxUDPPayload)
	for atomic.LoadInt32(&s.running) == 1 {
		_ = s.listener.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := s.listener.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.log.WithError(err).Warn("udp read error")
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case s.messageQueue <- inboundDatagram{addr: addr, data: data}:
		default:
			s.log.Warn("inbound message queue full, dropping datagram")
		}
	}
}

func (s *Server) worker() {
	for {
		select {
		case work := <-s.workerPool:
			work()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) connectionFor(addr *net.UDPAddr) (world.ConnectionID, bool) {
	s.connsMux.RLock()
	defer s.connsMux.RUnlock()
	id, ok := s.addrToConn[addr.String()]
	return id, ok
}

func (s *Server) registerConnection(addr *net.UDPAddr) world.ConnectionID {
	s.connsMux.Lock()
	defer s.connsMux.Unlock()
	id := world.ConnectionID(s.nextConnID)
	s.nextConnID++
	s.addrToConn[addr.String()] = id
	s.connToAddr[id] = addr
	return id
}

func (s *Server) forgetConnection(id world.ConnectionID) {
	s.connsMux.Lock()
	addr := s.connToAddr[id]
	delete(s.connToAddr, id)
	if addr != nil {
		delete(s.addrToConn, addr.String())
	}
	s.connsMux.Unlock()

	s.conns.Remove(id)
	s.arbiter.ForgetConnection(id)
}

func (s *Server) send(id world.ConnectionID, frame []byte) {
	s.connsMux.RLock()
	addr := s.connToAddr[id]
	s.connsMux.RUnlock()
	if addr == nil {
		return
	}
	if _, err := s.listener.WriteToUDP(frame, addr); err != nil {
		s.log.WithError(err).WithField("connection_id", id).Warn("udp write error")
	}
}

// ========== message dispatch ==========

func (s *Server) processDatagram(d inboundDatagram) {
	frame, err := wire.DecodeFrame(d.data)
	if err != nil {
		s.log.WithError(err).Warn("malformed datagram, dropping")
		return
	}

	connID, known := s.connectionFor(d.addr)

	switch frame.ID {
	case wire.MessageConnect:
		s.handleConnect(d.addr, frame.Payload)
		return
	}

	if !known {
		s.log.WithField("message_id", frame.ID.String()).Warn("message from unregistered connection, dropping")
		return
	}

	s.conns.NoteInteraction(atomic.LoadUint32(&s.idleClock))

	switch frame.ID {
	case wire.MessageDisconnect:
		reason, err := handlers.DecodeDisconnect(frame.Payload)
		if err != nil {
			s.log.WithError(err).WithField("connection_id", connID).Warn("malformed disconnect")
			return
		}
		s.log.WithField("connection_id", connID).WithField("reason", reason.String()).Info("client disconnected")
		s.forgetConnection(connID)
	case wire.MessagePlayerInput:
		payload, err := handlers.DecodePlayerInput(frame.Payload)
		if err != nil {
			if s.metrics != nil {
				s.metrics.ProtocolErrors.WithLabelValues(frame.ID.String()).Inc()
			}
			s.log.WithError(err).WithField("connection_id", connID).Warn("malformed player input, disconnecting connection")
			s.disconnectClient(connID, handlers.DisconnectReason{Kind: handlers.DisconnectUnknown})
			return
		}
		if err := s.arbiter.HandlePlayerInputMessage(connID, payload.LastInputUpdateIdx, payload.Window); err != nil {
			s.log.WithError(err).WithField("connection_id", connID).Warn("arbiter rejected player input")
		}
	case wire.MessageGameplayCommand:
		updateIdx, cmds, err := handlers.DecodeGameplayCommand(s.registry, frame.Payload)
		if err != nil {
			if s.metrics != nil {
				s.metrics.ProtocolErrors.WithLabelValues(frame.ID.String()).Inc()
			}
			s.log.WithError(err).WithField("connection_id", connID).Warn("malformed gameplay command, disconnecting connection")
			s.disconnectClient(connID, handlers.DisconnectReason{Kind: handlers.DisconnectUnknown})
			return
		}
		if err := s.rewinder.ApplyAuthoritativeCommands(updateIdx, cmds); err != nil {
			s.log.WithError(err).WithField("connection_id", connID).Warn("failed to apply gameplay commands")
		}
	default:
		s.log.WithField("message_id", frame.ID.String()).WithField("connection_id", connID).Warn("unexpected message for server")
	}
}

func (s *Server) handleConnect(addr *net.UDPAddr, payload []byte) {
	connectPayload, err := handlers.DecodeConnect(payload)
	if err != nil {
		s.log.WithError(err).Warn("malformed connect message")
		return
	}

	id, known := s.connectionFor(addr)
	if !known {
		id = s.registerConnection(addr)
	}

	existing := s.existingEntityCommands()
	outcome := handlers.HandleConnect(s.conns, id, s.cfg.ProtocolVersion, connectPayload, s.rewinder.Current(), existing)
	if !outcome.Accepted {
		s.send(id, handlers.EncodeDisconnect(outcome.Reason))
		s.forgetConnection(id)
		if s.metrics != nil {
			s.metrics.ConnectionsRejected.Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.ConnectionsAccepted.Inc()
	}
	s.conns.NoteInteraction(atomic.LoadUint32(&s.idleClock))
	s.send(id, handlers.EncodeConnectionAccepted(outcome.Accept.ServerUpdateAtAccept, outcome.Accept.EchoedClientTimestampUs))

	snapshot, err := handlers.EncodeWorldSnapshot(s.rewinder.Current(), outcome.SnapshotCommands, id)
	if err != nil {
		s.log.WithError(err).WithField("connection_id", id).Warn("failed to encode initial world snapshot")
		return
	}
	s.send(id, snapshot)

	spawn := handlers.SpawnPointFor(s.cfg.SpawnPoints, s.conns.Count()-1)
	entityID := world.NetworkEntityID(atomic.AddUint64(&s.nextEntityID, 1))
	outcome.Record.PlayerEntity = &entityID
	s.queuePending(command.NewCreatePlayerEntityServerSide(spawn, entityID, id))
}

// existingEntityCommands rebuilds a CreatePlayerEntity command per entity
// already present in the current snapshot, for the WorldSnapshot sent to a
// freshly accepted connection (§4.9).
func (s *Server) existingEntityCommands() []command.Command {
	snap := s.rewinder.CurrentSnapshot()
	cmds := make([]command.Command, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		cmds = append(cmds, command.NewCreatePlayerEntityServerSide(e.Position, e.NetworkID, e.OwnerConnection))
	}
	return cmds
}

func (s *Server) queuePending(cmd command.Command) {
	s.pendingMux.Lock()
	s.pending = append(s.pending, cmd)
	s.pendingMux.Unlock()
}

func (s *Server) drainPending() []command.Command {
	s.pendingMux.Lock()
	cmds := s.pending
	s.pending = nil
	s.pendingMux.Unlock()
	return cmds
}

func (s *Server) disconnectClient(id world.ConnectionID, reason handlers.DisconnectReason) {
	s.send(id, handlers.EncodeDisconnect(reason))
	s.forgetConnection(id)
}

// broadcastGameplayCommands serializes cmds once per connection (each
// receiver resolves its own is_owner bit, §4.3) and fans the resulting
// GameplayCommand message out to every tracked connection.
func (s *Server) broadcastGameplayCommands(updateIdx uint32, cmds []command.Command) {
	for _, id := range s.conns.IDs() {
		frame, err := handlers.EncodeGameplayCommand(updateIdx, cmds, id)
		if err != nil {
			s.log.WithError(err).WithField("connection_id", id).Warn("failed to encode gameplay command broadcast")
			continue
		}
		s.send(id, frame)
	}
}

// ========== tick loop ==========

func (s *Server) tickLoop() {
	period := time.Duration(s.cfg.OneFixedUpdateUS) * time.Microsecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainMessageQueue()
			s.tick()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) drainMessageQueue() {
	for i := 0; i < 1000; i++ {
		select {
		case d := <-s.messageQueue:
			datagram := d
			select {
			case s.workerPool <- func() { s.processDatagram(datagram) }:
			default:
				s.log.Warn("worker pool saturated, processing inline")
				s.processDatagram(datagram)
			}
		default:
			return
		}
	}
}

func (s *Server) tick() {
	idleTicks := atomic.AddUint32(&s.idleClock, 1)
	// The idle metrics count transitions, so they are only bumped on the
	// tick where the state differs from the previous tick's.
	prevState := s.conns.IdleState(idleTicks - 1)

	switch s.conns.IdleState(idleTicks) {
	case handlers.IdleStateShouldQuit:
		if s.metrics != nil && prevState != handlers.IdleStateShouldQuit {
			s.metrics.IdleTransitions.WithLabelValues("quit").Inc()
		}
		s.log.Info("idle timeout reached, shutting down")
		go s.Stop()
		return
	case handlers.IdleStatePaused:
		// §4.9: no client traffic for IdlePauseUpdates ticks pauses the
		// simulation outright — advance neither the rewinder nor any
		// pending commands until a client interaction resets idleClock.
		if s.metrics != nil && prevState != handlers.IdleStatePaused {
			s.metrics.IdleTransitions.WithLabelValues("paused").Inc()
		}
		return
	}

	next := s.rewinder.Current() + 1
	if err := s.rewinder.AdvanceToNextUpdate(next); err != nil {
		s.log.WithError(err).Warn("failed to advance rewinder")
		return
	}

	if cmds := s.drainPending(); len(cmds) > 0 {
		snap := s.rewinder.CurrentSnapshot()
		for _, c := range cmds {
			if err := c.Execute(snap); err != nil {
				s.log.WithError(err).Warn("failed to execute queued gameplay command")
			}
		}
		if err := s.rewinder.WriteSimulatedCommands(next, cmds); err != nil {
			s.log.WithError(err).Warn("failed to record simulated commands")
		}
		s.broadcastGameplayCommands(next, cmds)
	}

	if err := s.rewinder.TrimOldUpdates(s.firstUpdateToKeep()); err != nil {
		s.log.WithError(err).Debug("trim deferred, pending desync resolution")
	}

	if s.metrics != nil {
		s.metrics.CurrentUpdateIdx.Set(float64(s.rewinder.Current()))
	}
}

func (s *Server) firstUpdateToKeep() uint32 {
	const maxStoredUpdates = 60
	current := s.rewinder.Current()
	if current+1 < maxStoredUpdates {
		return 0
	}
	return current + 1 - maxStoredUpdates
}

// ========== maintenance ==========

func (s *Server) maintenanceLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.metrics != nil {
				s.metrics.WorkerQueueDepth.Set(float64(len(s.messageQueue)))
				s.metrics.StoredHistoryLen.Set(float64(s.rewinder.Current() - s.rewinder.FirstStoredUpdateIdx() + 1))
			}
		case <-s.ctx.Done():
			return
		}
	}
}
