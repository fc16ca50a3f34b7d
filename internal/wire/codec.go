package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"golang.org/x/text/unicode/norm"
)

// text frames: <Kind>,<player>[,<arg>]

var ErrMalformedMessage = errors.New("malformed message")

const MaxPlayerName = 32

type Kind string

const (
	KindJoin  Kind = "Join"
	KindBet   Kind = "Bet"
	KindCheck Kind = "Check"
	KindFold  Kind = "Fold"
	KindReady Kind = "Ready"
	KindLeave Kind = "Leave"
)

// Server -> client frame tags.
const (
	TagState = "State"
	TagError = "Error"
	TagOk    = "Ok"
)

type Action struct {
	Kind   Kind
	Player string // empty only for the legacy "Join,<seat>" form
	Seat   int
	Amount int64
}

// Command converts a decoded action into a table command for player.
func (a Action) Command(player string) table.Command {
	cmd := table.Command{Player: player, Seat: a.Seat, Amount: a.Amount}
	switch a.Kind {
	case KindJoin:
		cmd.Type = table.CmdJoin
	case KindBet:
		cmd.Type = table.CmdBet
	case KindCheck:
		cmd.Type = table.CmdCheck
	case KindFold:
		cmd.Type = table.CmdFold
	case KindReady:
		cmd.Type = table.CmdReady
	case KindLeave:
		cmd.Type = table.CmdLeave
	}
	return cmd
}

func Decode(frame []byte) (Action, error) {
	line := strings.TrimRight(string(frame), "\r\n")
	if !utf8.ValidString(line) {
		return Action{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedMessage)
	}
	fields := strings.Split(line, ",")
	kind := Kind(strings.TrimSpace(fields[0]))
	args := fields[1:]

	switch kind {
	case KindJoin:
		switch len(args) {
		case 1:
			seat, err := parseInt(args[0], "seat")
			if err != nil {
				return Action{}, err
			}
			return Action{Kind: kind, Seat: int(seat)}, nil
		case 2:
			player, err := parsePlayer(args[0])
			if err != nil {
				return Action{}, err
			}
			seat, err := parseInt(args[1], "seat")
			if err != nil {
				return Action{}, err
			}
			return Action{Kind: kind, Player: player, Seat: int(seat)}, nil
		default:
			return Action{}, fmt.Errorf("%w: Join wants [player,]seat, got %d fields", ErrMalformedMessage, len(args))
		}

	case KindBet:
		if len(args) != 2 {
			return Action{}, fmt.Errorf("%w: Bet wants player,amount, got %d fields", ErrMalformedMessage, len(args))
		}
		player, err := parsePlayer(args[0])
		if err != nil {
			return Action{}, err
		}
		amount, err := parseInt(args[1], "amount")
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: kind, Player: player, Amount: amount}, nil

	case KindCheck, KindFold, KindReady, KindLeave:
		if len(args) != 1 {
			return Action{}, fmt.Errorf("%w: %s wants player, got %d fields", ErrMalformedMessage, kind, len(args))
		}
		player, err := parsePlayer(args[0])
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: kind, Player: player}, nil

	default:
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrMalformedMessage, kind)
	}
}

// Encode is the client side of Decode.
func Encode(a Action) []byte {
	var b strings.Builder
	b.WriteString(string(a.Kind))
	if a.Player != "" {
		b.WriteByte(',')
		b.WriteString(a.Player)
	}
	switch a.Kind {
	case KindJoin:
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(a.Seat))
	case KindBet:
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(a.Amount, 10))
	}
	return []byte(b.String())
}

// NormalizePlayer returns the canonical form of a player name so two
// spellings of the same name collide.
func NormalizePlayer(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func parsePlayer(raw string) (string, error) {
	name := NormalizePlayer(raw)
	if name == "" {
		return "", fmt.Errorf("%w: empty player", ErrMalformedMessage)
	}
	if utf8.RuneCountInString(name) > MaxPlayerName {
		return "", fmt.Errorf("%w: player name longer than %d", ErrMalformedMessage, MaxPlayerName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control character in player name", ErrMalformedMessage)
		}
	}
	return name, nil
}

func parseInt(raw, field string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrMalformedMessage, field, raw)
	}
	return n, nil
}
