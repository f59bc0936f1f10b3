// Package session implements the ZMTP session state machine as a sans-I/O
// component: Feed bytes in, get events out. It never touches a socket,
// a clock, or a goroutine — timeouts, retries, and actual I/O belong to
// package engine, which drives this machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package session

import (
	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/wire"
	"github.com/monocoque/monocoque/zapauth"
)

// State is the coarse session lifecycle.
type State int

const (
	StateGreeting State = iota
	StateMechanism
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateMechanism:
		return "mechanism"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role distinguishes the connect side from the accept side; ZMTP's
// as-server greeting field and CURVE's client/server key roles both derive
// from it.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Config parameterizes a Machine for one connection.
type Config struct {
	Role          Role
	Mechanism     string // "NULL", "PLAIN", or "CURVE"
	SocketType    api.SocketType
	Identity      []byte
	MaxFramePayload int // 0 uses wire.DefaultMaxFramePayload

	// PLAIN credentials (client side) / CURVE keys, set only when relevant.
	PlainUsername string
	PlainPassword string
	CurveKeys     *CurveKeyPair // nil selects an ephemeral local keypair
	CurveServerPK [32]byte      // client only: the server's known public key
}

// Machine is the ZMTP per-connection state machine.
type Machine struct {
	cfg   Config
	state State

	greetingSent bool
	partialGreeting []byte
	decoder      *wire.Decoder

	inFlight     [][]byte // frames accumulated for the current in-progress message
	peerMeta     wire.ReadyMetadata
	peerReady    bool
	localReady   bool
	mechanismSub mechanismState

	curve *curveSession
	zap   *pendingZAP
}

type pendingZAP struct {
	req      zapauth.Request
	resumeCurve bool
}

// NewMachine constructs a Machine in StateGreeting.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:     cfg,
		state:   StateGreeting,
		decoder: wire.NewDecoder(cfg.MaxFramePayload),
	}
}

// State reports the current coarse lifecycle state.
func (m *Machine) State() State { return m.state }

// Start emits the initial greeting. Must be called exactly once before any
// OnBytes call.
func (m *Machine) Start() []Event {
	g := wire.EncodeGreeting(wire.Greeting{
		Mechanism: m.cfg.Mechanism,
		AsServer:  m.cfg.Role == RoleServer,
	})
	m.greetingSent = true
	return []Event{SendBytes{Data: g[:]}}
}

// OnBytes feeds newly received bytes and returns the events they produce.
// Bytes not yet forming a complete unit are retained internally.
func (m *Machine) OnBytes(data []byte) []Event {
	var events []Event
	switch m.state {
	case StateGreeting:
		ev, rest, err := m.consumeGreeting(data)
		if err != nil {
			m.state = StateClosed
			return []Event{ProtocolError{Err: err}, Closed{}}
		}
		events = append(events, ev...)
		if m.state == StateClosed {
			return events
		}
		if len(rest) == 0 {
			return events
		}
		data = rest
		fallthrough
	case StateMechanism, StateActive:
		more, err := m.feedFrames(data, &events)
		if err != nil {
			events = append(events, ProtocolError{Err: err}, Closed{})
			m.state = StateClosed
			return events
		}
		_ = more
	case StateClosed:
		return nil
	}
	return events
}

func (m *Machine) consumeGreeting(data []byte) ([]Event, []byte, error) {
	if len(data) < wire.GreetingSize {
		// Not enough bytes yet; caller must accumulate. Since Machine is
		// sans-I/O and OnBytes is called per read, stash via decoder's
		// staging by re-framing: treat greeting bytes like a frame header
		// prefix using a dedicated partial buffer.
		m.partialGreeting = append(m.partialGreeting, data...)
		if len(m.partialGreeting) < wire.GreetingSize {
			return nil, nil, nil
		}
		data = m.partialGreeting
	} else if len(m.partialGreeting) > 0 {
		data = append(m.partialGreeting, data...)
	}
	g, err := wire.DecodeGreeting(data[:wire.GreetingSize])
	if err != nil {
		return nil, nil, err
	}
	if g.Mechanism != m.cfg.Mechanism {
		return nil, nil, api.ErrProtocol("mechanism-mismatch", "peer selected a different security mechanism")
	}
	m.partialGreeting = nil
	m.state = StateMechanism
	events := m.startMechanism()
	return events, data[wire.GreetingSize:], nil
}
