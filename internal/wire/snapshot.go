package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/DoyleJ11/poker-table-backend/internal/table"
)

// Snapshot is what every client sees of the table.
type Snapshot struct {
	Version    int
	Phase      table.Phase
	Round      uint64
	ReadyCount int
	Seats      []string // occupant per seat, "" when empty
	LastAction string
}

func Project(version int, s table.State) Snapshot {
	seats := make([]string, len(s.Seats))
	for i, seat := range s.Seats {
		seats[i] = seat.Occupant
	}
	return Snapshot{
		Version:    version,
		Phase:      s.Phase,
		Round:      s.Round,
		ReadyCount: table.ReadyCount(s),
		Seats:      seats,
		LastAction: s.LastAction,
	}
}

// EncodeSnapshot renders
//
//	State,<version>,<phase>,<round>,<ready>,<n>,<seat1>..<seatN>,<last action>
func EncodeSnapshot(s Snapshot) []byte {
	fields := make([]string, 0, 7+len(s.Seats))
	fields = append(fields,
		TagState,
		strconv.Itoa(s.Version),
		string(s.Phase),
		strconv.FormatUint(s.Round, 10),
		strconv.Itoa(s.ReadyCount),
		strconv.Itoa(len(s.Seats)),
	)
	fields = append(fields, s.Seats...)
	fields = append(fields, s.LastAction)
	return []byte(strings.Join(fields, ","))
}

func DecodeSnapshot(frame []byte) (Snapshot, error) {
	line := strings.TrimRight(string(frame), "\r\n")
	fields := strings.Split(line, ",")
	if len(fields) < 7 || fields[0] != TagState {
		return Snapshot{}, fmt.Errorf("%w: not a state frame", ErrMalformedMessage)
	}

	var s Snapshot
	var err error
	if s.Version, err = strconv.Atoi(fields[1]); err != nil {
		return Snapshot{}, fmt.Errorf("%w: version %q", ErrMalformedMessage, fields[1])
	}
	s.Phase = table.Phase(fields[2])
	if s.Phase != table.PhaseWaiting && s.Phase != table.PhaseRoundActive {
		return Snapshot{}, fmt.Errorf("%w: phase %q", ErrMalformedMessage, fields[2])
	}
	if s.Round, err = strconv.ParseUint(fields[3], 10, 64); err != nil {
		return Snapshot{}, fmt.Errorf("%w: round %q", ErrMalformedMessage, fields[3])
	}
	if s.ReadyCount, err = strconv.Atoi(fields[4]); err != nil {
		return Snapshot{}, fmt.Errorf("%w: ready count %q", ErrMalformedMessage, fields[4])
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 0 || n > len(fields)-7 {
		return Snapshot{}, fmt.Errorf("%w: seat count %q", ErrMalformedMessage, fields[5])
	}
	s.Seats = append([]string{}, fields[6:6+n]...)
	s.LastAction = strings.Join(fields[6+n:], ",")
	return s, nil
}

func EncodeError(code, msg string) []byte {
	return []byte(TagError + "," + code + "," + msg)
}

func EncodeAck(kind Kind) []byte {
	return []byte(TagOk + "," + string(kind))
}
