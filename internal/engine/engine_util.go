package engine

// NewState builds an empty room: maxTeams teams of maxPlayersPerTeam free
// slots, unlocked, credentials withheld.
func NewState(roomID string, maxTeams, maxPlayersPerTeam int) State {
	teams := make([]Team, maxTeams)
	for ti := range teams {
		slots := make([]Slot, maxPlayersPerTeam)
		for si := range slots {
			slots[si] = Slot{SlotNumber: si + 1}
		}
		teams[ti] = Team{TeamNumber: ti + 1, Slots: slots}
	}
	return State{
		RoomID:            roomID,
		MaxTeams:          maxTeams,
		MaxPlayersPerTeam: maxPlayersPerTeam,
		Teams:             teams,
	}
}

// Clone deep-copies the team/slot structure so Apply can build a new state
// without aliasing the old one.
func (s State) Clone() State {
	ns := s
	ns.Teams = make([]Team, len(s.Teams))
	for ti, t := range s.Teams {
		nt := t
		nt.Slots = make([]Slot, len(t.Slots))
		copy(nt.Slots, t.Slots)
		ns.Teams[ti] = nt
	}
	if s.Credentials != nil {
		c := *s.Credentials
		ns.Credentials = &c
	}
	return ns
}

// Normalized returns a copy with each team's CaptainID resolved by the lazy
// captaincy rule, suitable for handing to clients.
func (s State) Normalized() State {
	ns := s.Clone()
	for ti := range ns.Teams {
		ns.Teams[ti].CaptainID = ns.Teams[ti].Captain()
	}
	return ns
}

// Occupants returns every seated userID, in team/slot scan order.
func (s State) Occupants() []string {
	var ids []string
	for _, t := range s.Teams {
		for _, sl := range t.Slots {
			if sl.Occupied() {
				ids = append(ids, sl.OccupantID)
			}
		}
	}
	return ids
}

// Seated reports whether userID currently holds any slot in the room.
func (s State) Seated(userID string) bool {
	_, _, ok := findOccupant(s, userID)
	return ok
}
