package room

import (
	"github.com/cory-johannsen/partyserver/internal/protocol"
	"github.com/cory-johannsen/partyserver/internal/session"
)

// MatchStrategy picks a room for a connection that asked to join without
// naming one. Returning nil means no existing room fits and a fresh public
// room should be created.
type MatchStrategy interface {
	Pick(open []*Room) *Room
}

// FirstAvailable joins the first open public room found. It is the default
// strategy; skill or latency aware strategies plug in behind the same
// interface.
type FirstAvailable struct{}

// Pick returns the first candidate, or nil when there are none.
func (FirstAvailable) Pick(open []*Room) *Room {
	if len(open) == 0 {
		return nil
	}
	return open[0]
}

// Match places the connection into an open public room chosen by the
// strategy, creating a default public room when none is available. Rooms can
// fill between Pick and Join, so losing candidates are retried before
// falling back to creation.
//
// Postcondition: On StatusOK the returned room lists the connection as a
// member.
func (reg *Registry) Match(conn *session.Conn, strategy MatchStrategy) (*Room, protocol.Status) {
	if strategy == nil {
		strategy = FirstAvailable{}
	}

	open := reg.OpenPublicRooms()
	for len(open) > 0 {
		r := strategy.Pick(open)
		if r == nil {
			break
		}
		status := r.Join(conn)
		switch status {
		case protocol.StatusOK, protocol.StatusAlreadyMember:
			return r, status
		}
		// Room filled or closed since Pick; drop it and retry.
		remaining := open[:0]
		for _, candidate := range open {
			if candidate != r {
				remaining = append(remaining, candidate)
			}
		}
		open = remaining
	}

	r, status := reg.Create(Options{Public: true})
	if status != protocol.StatusOK {
		return nil, status
	}
	return r, r.Join(conn)
}
