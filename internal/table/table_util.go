package table

const (
	DefaultSeats          = 6
	DefaultBuyIn          = 100
	DefaultReadyThreshold = 2
)

func NewEmptyState(rules Rules) State {
	if rules.Seats <= 0 {
		rules.Seats = DefaultSeats
	}
	if rules.BuyIn <= 0 {
		rules.BuyIn = DefaultBuyIn
	}
	if rules.ReadyThreshold <= 0 {
		rules.ReadyThreshold = DefaultReadyThreshold
	}

	s := State{
		Seats: make([]Seat, rules.Seats),
		Phase: PhaseWaiting,
		Ready: map[string]bool{},
		Rules: rules,
	}
	for i := range s.Seats {
		s.Seats[i].Number = i + 1
	}
	return s
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// SeatOf returns the seat number held by player.
func SeatOf(s State, player string) (int, bool) {
	if player == "" {
		return 0, false
	}
	for _, seat := range s.Seats {
		if seat.Occupant == player {
			return seat.Number, true
		}
	}
	return 0, false
}

func ReadyCount(s State) int { return len(s.Ready) }
