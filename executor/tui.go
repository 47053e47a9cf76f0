package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/zerosum/config"
)

const recentGamesShown = 10

type model struct {
	startTime     time.Time
	gameName      string
	sims          int
	gamesPlayed   int
	totalExamples int
	moves         int64
	inferences    int64
	outcomes      [3]int // first player wins, draws, second player wins
	recentGames   []string
	updates       <-chan GameUpdate
	counters      *counters
}

func initialModel(updates <-chan GameUpdate, c *counters, cfg config.Config) model {
	return model{
		startTime: time.Now(),
		gameName:  cfg.Game,
		sims:      cfg.Search.Simulations,
		updates:   updates,
		counters:  c,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates <-chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func winnerLabel(w int8) string {
	switch w {
	case 1:
		return "X"
	case -1:
		return "O"
	}
	return "draw"
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		if m.counters != nil {
			m.moves = m.counters.moves.Load()
			m.inferences = m.counters.inferences.Load()
		}
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalExamples += msg.Examples
		m.outcomes[1-msg.Result.Winner]++
		line := fmt.Sprintf("Worker %d: Winner %s, Moves %d, Ex %d", msg.WorkerID, winnerLabel(msg.Result.Winner), msg.Result.Moves, msg.Examples)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > recentGamesShown {
			m.recentGames = m.recentGames[:recentGamesShown]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	gamesPerSec := float64(m.gamesPlayed) / duration.Seconds()
	movesPerSec := float64(m.moves) / duration.Seconds()
	inferencesPerSec := float64(m.inferences) / duration.Seconds()
	if duration.Seconds() < 1 {
		gamesPerSec = 0
		movesPerSec = 0
		inferencesPerSec = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Game:             %s (%d sims)\n", m.gameName, m.sims)
	fmt.Fprintf(&b, "Games Played:     %d\n", m.gamesPlayed)
	fmt.Fprintf(&b, "X / Draw / O:     %d / %d / %d\n", m.outcomes[0], m.outcomes[1], m.outcomes[2])
	fmt.Fprintf(&b, "Total Examples:   %d\n", m.totalExamples)
	fmt.Fprintf(&b, "Total Moves:      %d\n", m.moves)
	fmt.Fprintf(&b, "Total Inferences: %d\n", m.inferences)
	fmt.Fprintf(&b, "Duration:         %s\n", duration.Round(time.Second))
	fmt.Fprintf(&b, "Games/Sec:        %.2f\n", gamesPerSec)
	fmt.Fprintf(&b, "Moves/Sec:        %.2f\n", movesPerSec)
	fmt.Fprintf(&b, "Inferences/Sec:   %.2f\n\n", inferencesPerSec)

	b.WriteString("Recent Games:\n")
	for _, g := range m.recentGames {
		b.WriteString(g + "\n")
	}

	b.WriteString("\nPress q to quit.\n")
	return b.String()
}
