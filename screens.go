// Terminal screens. Deliberately plain: the screen loop is a read-only
// consumer of the session store, and its only correctness duties are to
// redraw when the store changes and to let go of its subscriptions when it
// exits.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/skip2/go-qrcode"
)

func runScreens(ctx context.Context, cfg *Config, c *Controller) error {
	states := make(chan ConnState, 4)
	stateSub := c.socket.OnStateChange(func(s ConnState) {
		select {
		case states <- s:
		default:
		}
	})
	defer c.socket.OffStateChange(stateSub)

	lines := make(chan string)
	go readLines(ctx, lines)

	connState := c.socket.State()

	render(cfg, c, connState)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil

		case s := <-states:
			connState = s
			if s == StateDisconnected {
				fmt.Println("! " + ErrChannelDisconnected.Error() + "; type leave to give up or restart to resume")
			}
			render(cfg, c, connState)

		case <-c.store.Updates():
			render(cfg, c, connState)

		case notice := <-c.Notices():
			fmt.Println("! " + notice)

		case line, ok := <-lines:
			if !ok {
				c.teardown()
				return nil
			}
			quit, err := handleInput(ctx, cfg, c, line)
			if err != nil {
				fmt.Println("! " + err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

func readLines(ctx context.Context, out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case out <- strings.TrimSpace(scanner.Text()):
		case <-ctx.Done():
			close(out)
			return
		}
	}
	close(out)
}

// handleInput maps one typed line to an action for the current phase.
func handleInput(ctx context.Context, cfg *Config, c *Controller, line string) (quit bool, err error) {
	if line == "" {
		render(cfg, c, c.socket.State())
		return false, nil
	}

	sess := c.store.Session()

	switch strings.ToLower(line) {
	case "q", "quit":
		c.teardown()
		return true, nil
	case "leave":
		err := c.Leave(ctx)
		return true, err
	case "s", "start":
		if sess.Phase == PhaseLobby {
			return false, c.StartGame(ctx)
		}
		return false, nil
	}

	switch sess.Phase {
	case PhasePrediction:
		err := c.SubmitPredictions(ctx, []Prediction{{
			TargetPlayerID:  sess.CurrentPlayerID,
			PredictedChoice: line,
		}})
		if err == nil {
			fmt.Println("Prediction locked in.")
		}
		return false, err

	case PhaseAnswering:
		err := c.SubmitAnswer(ctx, line)
		if err == nil {
			fmt.Println("Answer submitted.")
		}
		return false, err
	}

	return false, nil
}

func render(cfg *Config, c *Controller, connState ConnState) {
	sess := c.store.Session()

	fmt.Println()
	fmt.Printf("=== %s | %s | round %d | %s ===\n",
		sess.RoomCode, sess.Phase, sess.CurrentRound, connState)

	switch sess.Phase {
	case PhaseLobby:
		renderLobby(cfg, c, sess)
	case PhaseTurnAnnouncement:
		renderAnnouncement(sess)
	case PhasePrediction:
		renderPrediction(sess)
	case PhaseAnswering:
		renderAnswering(c, sess)
	case PhaseResults:
		renderResults(sess)
	case PhaseScoreboard, PhaseFinal:
		renderScores(sess)
	}
}

func renderLobby(cfg *Config, c *Controller, sess Session) {
	fmt.Printf("Waiting for players (%d", len(sess.Players))
	if sess.MaxPlayers > 0 {
		fmt.Printf("/%d", sess.MaxPlayers)
	}
	fmt.Println("):")

	for _, p := range sess.Players {
		marker := " "
		if p.IsHost {
			marker = "*"
		}
		suffix := ""
		if p.ConnectionState == connectionOffline {
			suffix = " (offline)"
		}
		fmt.Printf("  %s %s%s\n", marker, p.Name, suffix)
	}

	if cfg.qr && sess.RoomCode != "" {
		if qr, err := qrcode.New(joinURL(cfg, sess.RoomCode), qrcode.Medium); err == nil {
			fmt.Println(qr.ToSmallString(false))
		}
	}

	me, _ := sess.Player(c.playerID)
	if me.IsHost {
		fmt.Println("You are the host. Type s to start.")
	}
}

func renderAnnouncement(sess Session) {
	name := sess.CurrentPlayerID
	if p, ok := sess.Player(sess.CurrentPlayerID); ok {
		name = p.Name
	}
	if name != "" {
		fmt.Printf("Round %d: it is %s's turn!\n", sess.CurrentRound, name)
	} else {
		fmt.Printf("Round %d is starting!\n", sess.CurrentRound)
	}
}

func renderPrediction(sess Session) {
	if sess.CurrentQuestion != nil {
		fmt.Println("Question: " + sess.CurrentQuestion.Text)
	}
	fmt.Println("Type what you think they will answer.")
}

func renderAnswering(c *Controller, sess Session) {
	// Old backends only push the question on roundStarted; the controller
	// backfills it over HTTP and the next store update redraws.
	if sess.CurrentQuestion != nil {
		fmt.Println("Question: " + sess.CurrentQuestion.Text)
	} else {
		fmt.Println("Waiting for the question...")
	}
	if sess.CurrentPlayerID == c.playerID {
		fmt.Println("Your turn: type your answer.")
	} else {
		fmt.Println("Waiting for the answer...")
	}
}

func renderResults(sess Session) {
	if sess.CurrentAnswer != "" {
		fmt.Println("The answer was: " + sess.CurrentAnswer)
	}
	renderScores(sess)
}

func renderScores(sess Session) {
	entries := append([]ScoreEntry(nil), sess.Scoreboard...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	for i, e := range entries {
		name := e.Name
		if p, ok := sess.Player(e.PlayerID); ok {
			name = p.Name
		}
		if name == "" {
			name = e.PlayerID
		}
		fmt.Printf("  %d. %s - %d\n", i+1, name, e.Score)
	}

	if sess.Phase == PhaseFinal && len(entries) > 0 {
		name := entries[0].Name
		if p, ok := sess.Player(entries[0].PlayerID); ok {
			name = p.Name
		}
		fmt.Printf("Winner: %s\n", name)
	}
}

func joinURL(cfg *Config, code string) string {
	return strings.TrimSuffix(cfg.server, "/") + "/join-game?code=" + code
}
