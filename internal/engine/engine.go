package engine

import "errors"

var ErrRoomLocked = errors.New("room is locked")
var ErrRoomFull = errors.New("room is full")
var ErrAlreadyAssigned = errors.New("user already occupies a slot")
var ErrSlotTaken = errors.New("slot is occupied")
var ErrForbidden = errors.New("user does not occupy a slot")
var ErrBadSlotRef = errors.New("team/slot out of range")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Slot struct {
	SlotNumber int    `json:"slot_number"`
	OccupantID string `json:"occupant_id,omitempty"`
}

func (s Slot) Occupied() bool { return s.OccupantID != "" }

type Team struct {
	TeamNumber int    `json:"team_number"`
	Slots      []Slot `json:"slots"`
	CaptainID  string `json:"captain_id,omitempty"`
}

func (t Team) IsComplete() bool {
	for _, sl := range t.Slots {
		if !sl.Occupied() {
			return false
		}
	}
	return true
}

// Captain returns the stored captain if they still hold a slot on this team,
// otherwise the first occupant in slot order. Leave never rewrites captaincy;
// it is re-derived here on read.
func (t Team) Captain() string {
	if t.CaptainID != "" {
		for _, sl := range t.Slots {
			if sl.OccupantID == t.CaptainID {
				return t.CaptainID
			}
		}
	}
	for _, sl := range t.Slots {
		if sl.Occupied() {
			return sl.OccupantID
		}
	}
	return ""
}

type Credentials struct {
	RoomCode string `json:"room_code"`
	Password string `json:"password"`
}

type State struct {
	RoomID              string       `json:"room_id"`
	MaxTeams            int          `json:"max_teams"`
	MaxPlayersPerTeam   int          `json:"max_players_per_team"`
	Teams               []Team       `json:"teams"`
	Locked              bool         `json:"locked"`
	CredentialsReleased bool         `json:"credentials_released"`
	Credentials         *Credentials `json:"credentials,omitempty"`
}

type CommandType string

const (
	CmdJoin               CommandType = "Join"
	CmdMove               CommandType = "Move"
	CmdLeave              CommandType = "Leave"
	CmdLock               CommandType = "Lock"
	CmdReleaseCredentials CommandType = "ReleaseCredentials"
)

type Command struct {
	Type        CommandType
	UserID      string
	Team        int // 1-based; 0 means no preference on Join
	Slot        int
	Credentials *Credentials
}

type EventType string

const (
	EvtJoined              EventType = "joined"
	EvtMoved               EventType = "moved"
	EvtLeft                EventType = "left"
	EvtLocked              EventType = "locked"
	EvtCredentialsReleased EventType = "credentials_released"
)

// Event describes one accepted mutation. A zero Event (Type == "") means the
// command was an accepted no-op (idempotent Lock/ReleaseCredentials) and must
// not bump the version or be broadcast.
type Event struct {
	Type       EventType
	UserID     string
	TeamNumber int
	SlotNumber int
	FromTeam   int
	FromSlot   int
}

// Apply validates cmd against s and returns the resulting state. The input
// state is never mutated; callers see either the old state with an error or a
// fully applied new state, nothing in between.
func Apply(s State, cmd Command) (Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		return applyJoin(s, cmd)
	case CmdMove:
		return applyMove(s, cmd)
	case CmdLeave:
		return applyLeave(s, cmd)
	case CmdLock:
		if s.Locked {
			return Event{}, s, nil
		}
		ns := s.Clone()
		ns.Locked = true
		return Event{Type: EvtLocked}, ns, nil
	case CmdReleaseCredentials:
		if s.CredentialsReleased {
			return Event{}, s, nil
		}
		ns := s.Clone()
		ns.CredentialsReleased = true
		ns.Credentials = cmd.Credentials
		return Event{Type: EvtCredentialsReleased}, ns, nil
	default:
		return Event{}, s, ErrUnsupportedCommand
	}
}

func applyJoin(s State, cmd Command) (Event, State, error) {
	if s.Locked {
		return Event{}, s, ErrRoomLocked
	}
	if _, _, ok := findOccupant(s, cmd.UserID); ok {
		return Event{}, s, ErrAlreadyAssigned
	}

	ti, si := -1, -1
	switch {
	case cmd.Team != 0 && cmd.Slot != 0:
		if !inRange(s, cmd.Team, cmd.Slot) {
			return Event{}, s, ErrBadSlotRef
		}
		if !s.Teams[cmd.Team-1].Slots[cmd.Slot-1].Occupied() {
			ti, si = cmd.Team-1, cmd.Slot-1
		}
	case cmd.Team != 0:
		// Team-only preference: first free slot on that team, falling back
		// to the global scan if the team is full.
		if cmd.Team < 1 || cmd.Team > s.MaxTeams {
			return Event{}, s, ErrBadSlotRef
		}
		for i := range s.Teams[cmd.Team-1].Slots {
			if !s.Teams[cmd.Team-1].Slots[i].Occupied() {
				ti, si = cmd.Team-1, i
				break
			}
		}
	}
	if ti < 0 {
		// First-fit: ascending team, then ascending slot.
		ti, si = firstFree(s)
		if ti < 0 {
			return Event{}, s, ErrRoomFull
		}
	}

	ns := s.Clone()
	ns.Teams[ti].Slots[si].OccupantID = cmd.UserID
	if ns.Teams[ti].CaptainID == "" {
		ns.Teams[ti].CaptainID = cmd.UserID
	}
	evt := Event{Type: EvtJoined, UserID: cmd.UserID, TeamNumber: ti + 1, SlotNumber: si + 1}
	return evt, ns, nil
}

func applyMove(s State, cmd Command) (Event, State, error) {
	if s.Locked {
		return Event{}, s, ErrRoomLocked
	}
	fromTi, fromSi, ok := findOccupant(s, cmd.UserID)
	if !ok {
		return Event{}, s, ErrForbidden
	}
	if !inRange(s, cmd.Team, cmd.Slot) {
		return Event{}, s, ErrBadSlotRef
	}
	ti, si := cmd.Team-1, cmd.Slot-1
	if ti == fromTi && si == fromSi {
		return Event{}, s, nil
	}
	if s.Teams[ti].Slots[si].Occupied() {
		return Event{}, s, ErrSlotTaken
	}

	// Vacate and occupy in one transition; no intermediate state escapes.
	ns := s.Clone()
	ns.Teams[fromTi].Slots[fromSi].OccupantID = ""
	ns.Teams[ti].Slots[si].OccupantID = cmd.UserID
	if ns.Teams[ti].CaptainID == "" {
		ns.Teams[ti].CaptainID = cmd.UserID
	}
	evt := Event{
		Type: EvtMoved, UserID: cmd.UserID,
		TeamNumber: ti + 1, SlotNumber: si + 1,
		FromTeam: fromTi + 1, FromSlot: fromSi + 1,
	}
	return evt, ns, nil
}

func applyLeave(s State, cmd Command) (Event, State, error) {
	// A withdrawal is always possible, locked or not.
	ti, si, ok := findOccupant(s, cmd.UserID)
	if !ok {
		return Event{}, s, ErrForbidden
	}
	ns := s.Clone()
	ns.Teams[ti].Slots[si].OccupantID = ""
	evt := Event{Type: EvtLeft, UserID: cmd.UserID, TeamNumber: ti + 1, SlotNumber: si + 1}
	return evt, ns, nil
}

func findOccupant(s State, userID string) (teamIdx, slotIdx int, ok bool) {
	for ti := range s.Teams {
		for si := range s.Teams[ti].Slots {
			if s.Teams[ti].Slots[si].OccupantID == userID {
				return ti, si, true
			}
		}
	}
	return -1, -1, false
}

func firstFree(s State) (teamIdx, slotIdx int) {
	for ti := range s.Teams {
		for si := range s.Teams[ti].Slots {
			if !s.Teams[ti].Slots[si].Occupied() {
				return ti, si
			}
		}
	}
	return -1, -1
}

func inRange(s State, team, slot int) bool {
	return team >= 1 && team <= s.MaxTeams && slot >= 1 && slot <= s.MaxPlayersPerTeam
}
