package handlers

import (
	"github.com/gameraccoon/tank-game-sub000/networking/shared/command"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

const (
	// IdlePauseUpdates is how many consecutive updates with no client
	// traffic the server tolerates before pausing simulation (§4.9).
	IdlePauseUpdates uint32 = 3
	// IdleQuitUpdates is how many idle updates trigger a full shutdown.
	IdleQuitUpdates uint32 = 60 * 60
)

// DefaultSpawnPoints mirrors ServerNetworkMessageSystem.cpp's hardcoded
// first- and second-player spawn positions; further connections reuse the
// last entry.
var DefaultSpawnPoints = []world.Vec2{
	{X: 80, Y: 202},
	{X: 130, Y: 202},
}

// SpawnPointFor returns the spawn position for the ordinal-th connection
// (0-indexed), clamping to the last configured entry.
func SpawnPointFor(points []world.Vec2, ordinal int) world.Vec2 {
	if len(points) == 0 {
		return world.Vec2{}
	}
	if ordinal >= len(points) {
		ordinal = len(points) - 1
	}
	return points[ordinal]
}

// ClientRecord is the server's per-connection bookkeeping (§4.9).
type ClientRecord struct {
	PlayerEntity *world.NetworkEntityID
	IndexShift   int32
}

// IdleState classifies how long the server has gone without client traffic.
type IdleState int

const (
	IdleStateActive IdleState = iota
	IdleStatePaused
	IdleStateShouldQuit
)

// ServerConnections tracks every connected client and the idle timer the
// fixed-step loop consults each tick (§4.9).
type ServerConnections struct {
	clients                     map[world.ConnectionID]*ClientRecord
	lastClientInteractionUpdate uint32
	pauseAfter                  uint32
	quitAfter                   uint32
}

// NewServerConnections returns an empty tracker, idle timer armed at update 0.
// pauseAfter/quitAfter are the configured idle thresholds (§11's
// IdlePauseUpdates/IdleQuitUpdates) so a deployment can override the
// defaults without recompiling.
func NewServerConnections(pauseAfter, quitAfter uint32) *ServerConnections {
	return &ServerConnections{
		clients:    make(map[world.ConnectionID]*ClientRecord),
		pauseAfter: pauseAfter,
		quitAfter:  quitAfter,
	}
}

// Add registers a freshly accepted connection with a blank record.
func (s *ServerConnections) Add(conn world.ConnectionID) *ClientRecord {
	rec := &ClientRecord{}
	s.clients[conn] = rec
	return rec
}

// Remove drops a connection's bookkeeping (on disconnect).
func (s *ServerConnections) Remove(conn world.ConnectionID) {
	delete(s.clients, conn)
}

// Get returns the connection's record, or nil if it isn't tracked.
func (s *ServerConnections) Get(conn world.ConnectionID) *ClientRecord {
	return s.clients[conn]
}

// Count returns the number of tracked connections, used to pick the next
// connection's ordinal for SpawnPointFor.
func (s *ServerConnections) Count() int {
	return len(s.clients)
}

// IDs returns every currently tracked connection, for broadcast fan-out.
func (s *ServerConnections) IDs() []world.ConnectionID {
	ids := make([]world.ConnectionID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// NoteInteraction resets the idle timer to currentUpdate; called whenever
// any client traffic arrives.
func (s *ServerConnections) NoteInteraction(currentUpdate uint32) {
	s.lastClientInteractionUpdate = currentUpdate
}

// IdleState classifies currentUpdate against the idle timer, using the
// thresholds this tracker was constructed with.
func (s *ServerConnections) IdleState(currentUpdate uint32) IdleState {
	idleFor := currentUpdate - s.lastClientInteractionUpdate
	switch {
	case idleFor >= s.quitAfter:
		return IdleStateShouldQuit
	case idleFor >= s.pauseAfter:
		return IdleStatePaused
	default:
		return IdleStateActive
	}
}

// ConnectOutcome is what HandleConnect decided to do with an incoming
// Connect message.
type ConnectOutcome struct {
	// Accepted is false when the protocol versions didn't match; the
	// caller should send the embedded Disconnect reason and close instead
	// of proceeding to accept.
	Accepted bool
	Reason   DisconnectReason

	// The fields below are only meaningful when Accepted is true.
	Accept           ConnectionAcceptedPayload
	Record           *ClientRecord
	SnapshotCommands []command.Command
}

// HandleConnect implements the server-side branch of §4.9: reject on
// version mismatch, otherwise register a fresh ClientRecord and prepare the
// ConnectionAccepted + WorldSnapshot reply. The caller is responsible for
// scheduling the new player's own CreatePlayerEntity command on the next
// tick (§4.9) and for actually sending the built messages.
func HandleConnect(conns *ServerConnections, conn world.ConnectionID, serverProtocolVersion uint32, msg ConnectPayload, currentUpdateIdx uint32, existingPlayerCommands []command.Command) ConnectOutcome {
	if msg.ClientProtocolVersion != serverProtocolVersion {
		return ConnectOutcome{
			Accepted: false,
			Reason: DisconnectReason{
				Kind:          DisconnectIncompatibleVersion,
				ServerVersion: serverProtocolVersion,
				ClientVersion: msg.ClientProtocolVersion,
			},
		}
	}

	rec := conns.Add(conn)

	return ConnectOutcome{
		Accepted: true,
		Accept: ConnectionAcceptedPayload{
			ServerUpdateAtAccept:    currentUpdateIdx + 1,
			EchoedClientTimestampUs: msg.ClientTimestampUs,
		},
		Record:           rec,
		SnapshotCommands: existingPlayerCommands,
	}
}
