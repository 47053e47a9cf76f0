package selfplay

import (
	"fmt"
	"strings"

	"github.com/muesli/termenv"

	"github.com/brensch/zerosum/game"
)

// Mirrorer is implemented by games whose FlipBoard moves cells around.
type Mirrorer interface {
	MirrorAction(action int) int
}

// AbsoluteAction maps an action chosen on the mover's canonical board to
// the first player's frame.
func AbsoluteAction(g game.Game, action int, firstToMove bool) int {
	if firstToMove {
		return action
	}
	if m, ok := g.(Mirrorer); ok {
		return m.MirrorAction(action)
	}
	return action
}

// AbsoluteBoard undoes the perspective flip so the first player's pieces are
// +1 and the board has a fixed orientation.
func AbsoluteBoard(g game.Game, s game.State, firstToMove bool) game.State {
	if firstToMove {
		return s
	}
	return g.FlipBoard(s)
}

// RenderBoard draws the position with X for the first player and O for the
// second, colored for the current terminal.
func RenderBoard(g game.Game, s game.State, firstToMove bool) string {
	return renderBoard(g, s, firstToMove, termenv.EnvColorProfile())
}

func renderBoard(g game.Game, s game.State, firstToMove bool, profile termenv.Profile) string {
	abs := AbsoluteBoard(g, s, firstToMove)

	x := profile.String("X").Foreground(profile.Color("#E88388")).Bold()
	o := profile.String("O").Foreground(profile.Color("#71BEF2")).Bold()
	empty := profile.String(".").Faint()

	var sb strings.Builder
	for r := 0; r < abs.Rows; r++ {
		for c := 0; c < abs.Cols; c++ {
			if c > 0 {
				sb.WriteByte(' ')
			}
			switch abs.At(r, c) {
			case 1:
				sb.WriteString(x.String())
			case -1:
				sb.WriteString(o.String())
			default:
				sb.WriteString(empty.String())
			}
		}
		sb.WriteByte('\n')
	}

	// Column labels for games played by column.
	if g.ActionSpaceSize() == abs.Cols {
		for c := 0; c < abs.Cols; c++ {
			if c > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
