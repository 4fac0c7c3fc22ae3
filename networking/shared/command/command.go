// Package command implements the gameplay-command tagged-variant registry
// (§4.3), grounded on original_source's GameplayCommandsFactory.{h,cpp} and
// GameplayCommandFactoryRegistration.cpp. The C++ original dispatches
// through a template-registered unordered_map of deserializer functions and
// treats an unregistered tag as a fatal assertion; this port keeps the
// registry shape but returns ErrUnknownKind instead, since §7 classifies an
// unknown command tag as a protocol error that disconnects one connection,
// not a process abort.
package command

import (
	"errors"
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// Kind is the stable u16 wire tag used to dispatch deserialization (§4.3).
type Kind uint16

const (
	KindCreatePlayerEntity Kind = 1
	KindCreateProjectile   Kind = 2
)

// Command is a deterministic, serialisable world mutation (§4.3).
type Command interface {
	// Kind returns the stable numeric tag used for wire dispatch.
	Kind() Kind
	// Execute applies the command to snap deterministically.
	Execute(snap *world.Snapshot) error
	// ServerSerialize writes the command for a specific receiver; some
	// variants (CreatePlayerEntity) vary their bytes per receiver so that
	// e.g. the is_owner bit is set correctly for each client.
	ServerSerialize(w *wire.Writer, receiver world.ConnectionID)
}

// Deserializer reconstructs one Command variant from its wire payload. It
// must never read the owner_connection field (§4.3): receiver-dependent
// bits are consumed as plain booleans, not connection ids.
type Deserializer func(r *wire.Reader) (Command, error)

// ErrUnknownKind is returned by Registry.Deserialize when the wire carries a
// kind tag with no registered deserializer.
var ErrUnknownKind = errors.New("command: unknown gameplay command kind")

// Registry maps a wire Kind to its Deserializer. Registration happens once
// at startup (§4.3).
type Registry struct {
	deserializers map[Kind]Deserializer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{deserializers: make(map[Kind]Deserializer)}
}

// Register associates kind with fn, overwriting any previous registration.
func (reg *Registry) Register(kind Kind, fn Deserializer) {
	reg.deserializers[kind] = fn
}

// Deserialize reads a u16 kind tag followed by that variant's payload.
func (reg *Registry) Deserialize(r *wire.Reader) (Command, error) {
	kindRaw, err := r.GetU16()
	if err != nil {
		return nil, err
	}
	kind := Kind(kindRaw)
	fn, ok := reg.deserializers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return fn(r)
}

// NewDefaultRegistry registers the two variants named in §4.3.
func NewDefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(KindCreatePlayerEntity, DeserializeCreatePlayerEntity)
	reg.Register(KindCreateProjectile, DeserializeCreateProjectile)
	return reg
}
