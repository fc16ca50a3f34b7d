package table

import (
	"errors"
	"fmt"
	"maps"
)

var ErrSeatOccupied = errors.New("seat occupied")
var ErrInvalidSeat = errors.New("invalid seat")
var ErrAlreadySeated = errors.New("already seated")
var ErrNotSeated = errors.New("not seated")
var ErrRoundNotActive = errors.New("round not active")
var ErrInvalidAmount = errors.New("invalid amount")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseWaiting     Phase = "WAITING"
	PhaseRoundActive Phase = "ROUND_ACTIVE"
)

type Seat struct {
	Number   int    `json:"number"`
	Occupant string `json:"occupant,omitempty"`
	Stack    int64  `json:"stack"`
}

func (s Seat) Empty() bool { return s.Occupant == "" }

type State struct {
	Seats      []Seat          `json:"seats"`
	Phase      Phase           `json:"phase"`
	Ready      map[string]bool `json:"ready"`
	LastAction string          `json:"last_action"`
	Round      uint64          `json:"round"`
	Seq        uint64          `json:"seq"` // action sequence within the current round
	Rules      Rules           `json:"rules"`
}

type Rules struct {
	Seats          int   `json:"seats"`
	BuyIn          int64 `json:"buy_in"`
	ReadyThreshold int   `json:"ready_threshold"`
}

type CommandType string

const (
	CmdJoin          CommandType = "Join"
	CmdReady         CommandType = "Ready"
	CmdBet           CommandType = "Bet"
	CmdCheck         CommandType = "Check"
	CmdFold          CommandType = "Fold"
	CmdLeave         CommandType = "Leave"
	CmdDisconnect    CommandType = "Disconnect"
	CmdConcludeRound CommandType = "ConcludeRound"
)

/*
	CmdJoin          -> EvtPlayerSeated
	CmdReady         -> EvtPlayerReady [-> EvtRoundStarted]
	CmdBet           -> EvtBetPlaced
	CmdCheck         -> EvtChecked
	CmdFold          -> EvtFolded
	CmdLeave         -> EvtPlayerLeft
	CmdDisconnect    -> EvtPlayerLeft (no-op when the player holds no seat)
	CmdConcludeRound -> EvtRoundConcluded
*/

type Command struct {
	Type   CommandType
	Player string
	Seat   int
	Amount int64
}

type EventType string

const (
	EvtPlayerSeated   EventType = "PlayerSeated"
	EvtPlayerReady    EventType = "PlayerReady"
	EvtRoundStarted   EventType = "RoundStarted"
	EvtBetPlaced      EventType = "BetPlaced"
	EvtChecked        EventType = "Checked"
	EvtFolded         EventType = "Folded"
	EvtPlayerLeft     EventType = "PlayerLeft"
	EvtRoundConcluded EventType = "RoundConcluded"
)

// Event is one entry of the action log. Round and Seq order the betting
// actions so a rules engine can replay a round.
type Event struct {
	Type   EventType
	Player string
	Seat   int
	Amount int64
	Round  uint64
	Seq    uint64
}

// Apply validates cmd against s and returns the events it produced together
// with the next state. On error the returned state is s, untouched.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		if cmd.Seat < 1 || cmd.Seat > len(s.Seats) {
			return nil, s, fmt.Errorf("%w: %d not in [1,%d]", ErrInvalidSeat, cmd.Seat, len(s.Seats))
		}
		if !s.Seats[cmd.Seat-1].Empty() {
			return nil, s, fmt.Errorf("%w: seat %d", ErrSeatOccupied, cmd.Seat)
		}
		if cur, ok := SeatOf(s, cmd.Player); ok {
			return nil, s, fmt.Errorf("%w: %s holds seat %d", ErrAlreadySeated, cmd.Player, cur)
		}

		next := s.Clone()
		next.Seats[cmd.Seat-1].Occupant = cmd.Player
		next.Seats[cmd.Seat-1].Stack = s.Rules.BuyIn
		next.LastAction = fmt.Sprintf("%s joined seat %d", cmd.Player, cmd.Seat)
		return []Event{{Type: EvtPlayerSeated, Player: cmd.Player, Seat: cmd.Seat}}, next, nil

	case CmdReady:
		seat, ok := SeatOf(s, cmd.Player)
		if !ok {
			return nil, s, ErrNotSeated
		}

		next := s.Clone()
		next.Ready[cmd.Player] = true
		next.LastAction = fmt.Sprintf("%s is ready", cmd.Player)
		events := []Event{{Type: EvtPlayerReady, Player: cmd.Player, Seat: seat}}

		if next.Phase == PhaseWaiting && len(next.Ready) >= s.Rules.ReadyThreshold {
			next.Phase = PhaseRoundActive
			next.Round++
			next.Seq = 0
			next.LastAction = fmt.Sprintf("round %d started", next.Round)
			events = append(events, Event{Type: EvtRoundStarted, Round: next.Round})
		}
		return events, next, nil

	case CmdBet, CmdCheck, CmdFold:
		if s.Phase != PhaseRoundActive {
			return nil, s, ErrRoundNotActive
		}
		seat, ok := SeatOf(s, cmd.Player)
		if !ok {
			return nil, s, ErrNotSeated
		}
		if cmd.Type == CmdBet && cmd.Amount <= 0 {
			return nil, s, fmt.Errorf("%w: %d", ErrInvalidAmount, cmd.Amount)
		}

		next := s.Clone()
		next.Seq++
		ev := Event{Player: cmd.Player, Seat: seat, Round: next.Round, Seq: next.Seq}
		switch cmd.Type {
		case CmdBet:
			ev.Type = EvtBetPlaced
			ev.Amount = cmd.Amount
			next.LastAction = fmt.Sprintf("%s bet %d", cmd.Player, cmd.Amount)
		case CmdCheck:
			ev.Type = EvtChecked
			next.LastAction = fmt.Sprintf("%s checked", cmd.Player)
		case CmdFold:
			ev.Type = EvtFolded
			next.LastAction = fmt.Sprintf("%s folded", cmd.Player)
		}
		return []Event{ev}, next, nil

	case CmdLeave, CmdDisconnect:
		seat, ok := SeatOf(s, cmd.Player)
		if !ok {
			if cmd.Type == CmdDisconnect {
				return nil, s, nil
			}
			return nil, s, ErrNotSeated
		}

		// Phase is left alone even if the ready set drops below the
		// threshold; continuing or abandoning the round is up to the rules.
		next := s.Clone()
		next.Seats[seat-1].Occupant = ""
		next.Seats[seat-1].Stack = 0
		delete(next.Ready, cmd.Player)
		if cmd.Type == CmdDisconnect {
			next.LastAction = fmt.Sprintf("%s disconnected", cmd.Player)
		} else {
			next.LastAction = fmt.Sprintf("%s left seat %d", cmd.Player, seat)
		}
		return []Event{{Type: EvtPlayerLeft, Player: cmd.Player, Seat: seat, Round: s.Round}}, next, nil

	case CmdConcludeRound:
		if s.Phase != PhaseRoundActive {
			return nil, s, ErrRoundNotActive
		}
		next := s.Clone()
		next.Phase = PhaseWaiting
		clear(next.Ready)
		next.LastAction = fmt.Sprintf("round %d concluded", s.Round)
		return []Event{{Type: EvtRoundConcluded, Round: s.Round, Seq: s.Seq}}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Clone deep-copies s so a command can be applied without touching the
// state other goroutines may still hold a snapshot of.
func (s State) Clone() State {
	c := s
	c.Seats = append([]Seat(nil), s.Seats...)
	c.Ready = maps.Clone(s.Ready)
	if c.Ready == nil {
		c.Ready = map[string]bool{}
	}
	return c
}
