package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stockgame/internal/cli"
	"stockgame/internal/desk"
	"stockgame/internal/game"
	"stockgame/internal/protocol"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	frozen      = color.New(color.FgBlue, color.Bold)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptLine(label string) (string, error) {
	fmt.Printf("%s ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// changeLabel renders the last boundary's move for one stock.
func changeLabel(change int64, isFrozen bool) string {
	switch {
	case isFrozen:
		return frozen.Sprint("frozen")
	case change > 0:
		return success.Sprintf("rise +%d", change)
	case change < 0:
		return danger.Sprintf("fall %d", change)
	default:
		return neutral.Sprint("flat")
	}
}

func renderView(v desk.View) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(string(v.Phase)))
	status := warn.Sprint("offline")
	if v.Online {
		status = success.Sprint("online")
	}
	fmt.Printf("%-18s %s\n", "Player", v.Player.Name)
	fmt.Printf("%-18s %s\n", "Relay", status)
	fmt.Printf("%-18s %s\n", "Total assets", comma(v.Player.TotalAssets))
	if v.Phase == game.PhaseInRound {
		fmt.Printf("%-18s %s\n", "Game cash", comma(v.Player.CurrentGameAssets))
		fmt.Printf("%-18s %s\n", "Next round in", game.FormatRemaining(v.Remaining))
		if !v.Cutoff.IsZero() {
			fmt.Printf("%-18s %s\n", "Game ends", v.Cutoff.Format("2006-01-02 15:04"))
		}
	}

	fmt.Println()
	fmt.Printf("%-3s %-14s %10s  %-12s %5s  %-s\n", "#", "STOCK", "PRICE", "CHANGE", "HELD", "PENDING")
	for i, s := range v.State.Stocks {
		pending := ""
		if s.PendingEffect != nil {
			pending = s.PendingEffect.Name
		}
		fmt.Printf("%-3d %-14s %10s  %-12s %5d  %-s\n",
			i+1,
			truncate(s.Name, 14),
			comma(s.Price),
			changeLabel(v.Changes[s.Name], s.IsFrozen),
			v.Player.HoldingCount(s.Name),
			pending,
		)
	}

	if len(v.Player.Cards) > 0 {
		fmt.Println()
		accent.Println("Cards")
		for i, c := range v.Player.Cards {
			fmt.Printf("  [%d] %s\n", i+1, describeCard(c))
		}
	}
	fmt.Println()
}

func describeCard(c game.FunctionCard) string {
	if lo, hi, err := c.Bounds(); err == nil {
		return fmt.Sprintf("%s (%s %d-%d)", c.Name, c.Effect, lo, hi)
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.Effect)
}

func renderEvent(e desk.Event) {
	switch e.Kind {
	case desk.EventRound:
		accent.Println("\n-- round boundary --")
		if e.Card != nil {
			printSuccess("New card: " + describeCard(*e.Card))
		}
	case desk.EventGameOver:
		accent.Println("\n-- game over --")
		printSuccess("Final game assets: " + comma(e.FinalAssets))
	case desk.EventNewRound:
		printInfo("\nNew round from the room.")
	case desk.EventTransaction:
		t := e.Transaction
		fmt.Printf("\n%s %s %s @ %s\n", neutral.Sprint(t.PlayerName), sideLabel(t.Type), t.StockName, comma(t.Price))
	case desk.EventConnected:
		printSuccess("\nConnected to relay.")
	case desk.EventOffline:
		printWarn(fmt.Sprintf("\nRelay unavailable: %v", e.Err))
	}
}

func sideLabel(s game.Side) string {
	if s == game.SideBuy {
		return success.Sprint("bought")
	}
	return danger.Sprint("sold")
}

func renderRoster(entries []protocol.Entry, title string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(entries) == 0 {
		printInfo("Nobody here yet.")
		return
	}
	fmt.Printf("%-6s %-24s %12s %12s %6s\n", "RANK", "PLAYER", "GAME CASH", "TOTAL", "HELD")
	for i, e := range entries {
		fmt.Printf("%-6d %-24s %12s %12s %6d\n",
			i+1,
			truncate(e.Name, 24),
			comma(e.CurrentGameAssets),
			comma(e.TotalAssets),
			len(e.PlayerStocks),
		)
	}
	fmt.Println()
}

func renderLeaderboard(rows []cli.PlayerRecord) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-24s %14s %8s\n", "RANK", "PLAYER", "TOTAL ASSETS", "IN GAME")
	for i, row := range rows {
		in := ""
		if row.InGame {
			in = "yes"
		}
		fmt.Printf("%-6d %-24s %14s %8s\n", i+1, truncate(row.Name, 24), comma(row.TotalAssets), in)
	}
	fmt.Println()
}

func renderState(room string, state *game.GameState) {
	accent.Printf("\n== ROOM %s ==\n", room)
	if state == nil {
		printInfo("No round has been played yet.")
		return
	}
	if state.RoundEndTime > 0 {
		end := time.UnixMilli(state.RoundEndTime)
		fmt.Printf("%-18s %s (%s)\n", "Round ends", end.Format("15:04:05"), game.FormatRemaining(time.Until(end)))
	}
	for _, s := range state.Stocks {
		label := ""
		if s.IsFrozen {
			label = frozen.Sprint("frozen")
		}
		fmt.Printf("  %-14s %10s  %s\n", truncate(s.Name, 14), comma(s.Price), label)
	}
	fmt.Println()
}

func renderProfile(p cli.Profile) {
	accent.Printf("\n== PROFILE %s ==\n", p.Name)
	fmt.Printf("%-18s %s\n", "Room", p.Room)
	fmt.Printf("%-18s %s\n", "Total assets", comma(p.TotalAssets))
	fmt.Printf("%-18s %v\n", "In game", p.InGame)
	if p.InGame {
		fmt.Printf("%-18s %s\n", "Game cash", comma(p.CurrentGameAssets))
		fmt.Printf("%-18s %s\n", "Holdings", strings.Join(p.Holdings, ", "))
		fmt.Printf("%-18s %d\n", "Cards", len(p.Cards))
		if p.RoundEnd > 0 {
			fmt.Printf("%-18s %s\n", "Round ends", time.UnixMilli(p.RoundEnd).Format("2006-01-02 15:04:05"))
		}
	}
	fmt.Printf("%-18s %s\n", "Saved", p.UpdatedAt.Local().Format(time.RFC3339))
	fmt.Println()
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
