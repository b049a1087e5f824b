package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cl "stockgame/internal/cli"
	"stockgame/internal/config"
	"stockgame/internal/desk"
	"stockgame/internal/game"
	"stockgame/internal/protocol"
	"stockgame/internal/syncq"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg := config.LoadClientFromEnv()
	relay := cfg.RelayURL
	room := cfg.Room

	root := &cobra.Command{
		Use:          "stk",
		Short:        "Round-based shared stock game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&relay, "relay", relay, "relay base URL")
	root.PersistentFlags().StringVar(&room, "room", room, "room code")

	root.AddCommand(
		newPlayCmd(&relay, &room, cfg.RulesPath),
		newStateCmd(&relay, &room),
		newRosterCmd(&relay, &room),
		newRoomsCmd(&relay),
		newLeaderboardCmd(&relay),
		newPlayerCmd(&relay),
		newProfileCmd(),
		newSyncCmd(&relay, &room),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(relay *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*relay), "/"))
}

func newPlayCmd(relay, room *string, rulesPath string) *cobra.Command {
	var (
		name string
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join the room and trade interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				v, err := promptLine("Name:")
				if err != nil {
					return err
				}
				name = v
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			dir, err := cl.BaseDir()
			if err != nil {
				return err
			}
			// Logs go to a file so they do not interleave with the prompt.
			logFile, err := os.OpenFile(filepath.Join(dir, "stk.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer logFile.Close()
			logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))

			client := newClient(relay)
			rules, err := loadRules(ctx, client, rulesPath)
			if err != nil {
				return err
			}
			profiles := cl.NewProfiles(dir)
			res, err := desk.Restore(ctx, client, profiles, name)
			if err != nil {
				return fmt.Errorf("load player: %w", err)
			}
			outbox, err := syncq.Open(dir, res.Player.Name)
			if err != nil {
				return err
			}

			src := game.NewTimeRand()
			if seed != 0 {
				src = game.NewRand(seed)
			}
			d := desk.New(desk.Config{
				Rules:    rules,
				Player:   res.Player,
				Room:     *room,
				Source:   src,
				RoundEnd: res.RoundEnd,
				Cutoff:   res.Cutoff,
				Pending:  res.Pending,
				Outbox:   outbox,
				Profiles: profiles,
				Logger:   logger,
				Notify:   renderEvent,
			})

			dial := func(ctx context.Context) (desk.Link, error) {
				return cl.Dial(ctx, *relay, *room, logger)
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return d.Serve(gctx, dial) })
			g.Go(func() error { return d.Run(gctx) })
			g.Go(func() error {
				defer cancel()
				return repl(d)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "player name")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses the clock)")
	return cmd
}

func loadRules(ctx context.Context, client *cl.Client, path string) (*game.Rules, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rules, err := client.Rules(rctx)
	if err != nil {
		printWarn("Relay rules unavailable, using built-in defaults.")
		return config.RulesOrDefault("")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

const replHelp = `commands:
  join                  start a game (or return to the running one)
  buy <stock>           buy one unit (stock name or # from the table)
  sell <stock>          sell one unit
  target <card> <stock> bind a held card to a stock for the next boundary
  cancel <stock>        take back a bound card
  advance               run a round boundary now
  end                   settle the game now
  show | roster | help | quit`

func repl(d *desk.Desk) error {
	renderView(d.View())
	printInfo(replHelp)
	for {
		line, err := promptLine(">")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		verb := strings.ToLower(fields[0])
		switch verb {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			printInfo(replHelp)
		case "show", "s":
			renderView(d.View())
		case "roster":
			renderRoster(d.View().Roster, "Room")
		case "join":
			resumed, card, err := d.Join()
			switch {
			case errors.Is(err, game.ErrInsufficientAssets):
				printError("Not enough total assets for the stake.")
				continue
			case err != nil:
				return err
			case resumed:
				printSuccess("Back in your game.")
			default:
				printSuccess("Game started.")
			}
			if card != nil {
				printSuccess("New card: " + describeCard(*card))
			}
			renderView(d.View())
		case "buy", "sell":
			if len(fields) < 2 {
				printWarn("usage: " + verb + " <stock>")
				continue
			}
			stock := resolveStock(d.View(), strings.Join(fields[1:], " "))
			var (
				t  game.Trade
				ok bool
			)
			if verb == "buy" {
				t, ok = d.Buy(stock)
			} else {
				t, ok = d.Sell(stock)
			}
			if !ok {
				printWarn("Rejected.")
				continue
			}
			fmt.Printf("%s %s @ %s\n", sideLabel(t.Side), t.Stock, comma(t.Price))
		case "target":
			if len(fields) < 3 {
				printWarn("usage: target <card> <stock>")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				printWarn("card must be a number")
				continue
			}
			if !d.Target(idx-1, resolveStock(d.View(), strings.Join(fields[2:], " "))) {
				printWarn("Rejected.")
				continue
			}
			printSuccess("Card bound.")
		case "cancel":
			if len(fields) < 2 {
				printWarn("usage: cancel <stock>")
				continue
			}
			if !d.Cancel(resolveStock(d.View(), strings.Join(fields[1:], " "))) {
				printWarn("Nothing to cancel.")
				continue
			}
			printSuccess("Card returned to hand.")
		case "advance":
			if _, ok := d.Advance(); !ok {
				printWarn("Not in a round.")
				continue
			}
			renderView(d.View())
		case "end":
			final, err := d.EndGame()
			if err != nil {
				printWarn(err.Error())
				continue
			}
			printSuccess("Game settled at " + comma(final))
		default:
			printWarn("unknown command, try help")
		}
	}
}

// resolveStock accepts a stock name or its 1-based row in the table.
func resolveStock(v desk.View, arg string) string {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(v.State.Stocks) {
		return v.State.Stocks[n-1].Name
	}
	return arg
}

func newStateCmd(relay, room *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the room's last relayed round",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			state, err := newClient(relay).RoomState(ctx, *room)
			if err != nil {
				return err
			}
			renderState(*room, state)
			return nil
		},
	}
}

func newRosterCmd(relay, room *string) *cobra.Command {
	return &cobra.Command{
		Use:   "roster",
		Short: "Show who is connected to the room",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(relay).Roster(ctx, *room)
			if err != nil {
				return err
			}
			renderRoster(out.Top, fmt.Sprintf("Room %s (%d connected)", out.Room, out.Connections))
			return nil
		},
	}
}

func newRoomsCmd(relay *string) *cobra.Command {
	rooms := &cobra.Command{
		Use:   "rooms",
		Short: "List active rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			list, err := newClient(relay).Rooms(ctx)
			if err != nil {
				return err
			}
			accent.Println("\n== ROOMS ==")
			for _, r := range list {
				fmt.Printf("%-34s %4d connected\n", r.Code, r.Players)
			}
			fmt.Println()
			return nil
		},
	}
	rooms.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a new room and print its code",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			code, err := newClient(relay).CreateRoom(ctx)
			if err != nil {
				return err
			}
			printSuccess("Room created: " + code)
			return nil
		},
	})
	return rooms
}

func newLeaderboardCmd(relay *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Top players by total assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := newClient(relay).Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "rows to show (relay default when 0)")
	return cmd
}

func newPlayerCmd(relay *string) *cobra.Command {
	return &cobra.Command{
		Use:   "player <name>",
		Short: "Show a player's persisted record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rec, err := newClient(relay).Player(ctx, args[0])
			if err != nil {
				return err
			}
			renderLeaderboard([]cl.PlayerRecord{rec})
			return nil
		},
	}
}

func newProfileCmd() *cobra.Command {
	profile := &cobra.Command{
		Use:   "profile <name>",
		Short: "Show the locally saved game for a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cl.BaseDir()
			if err != nil {
				return err
			}
			p, err := cl.NewProfiles(dir).Load(args[0])
			if errors.Is(err, cl.ErrNoProfile) {
				printInfo("No local profile for " + args[0] + ".")
				return nil
			}
			if err != nil {
				return err
			}
			renderProfile(p)
			return nil
		},
	}
	profile.AddCommand(&cobra.Command{
		Use:   "clear <name>",
		Short: "Delete the locally saved game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cl.BaseDir()
			if err != nil {
				return err
			}
			if err := cl.NewProfiles(dir).Clear(args[0]); err != nil {
				return err
			}
			printSuccess("Profile cleared.")
			return nil
		},
	})
	return profile
}

func newSyncCmd(relay, room *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <name>",
		Short: "Replay events queued while offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cl.BaseDir()
			if err != nil {
				return err
			}
			queue, err := syncq.Open(dir, args[0])
			if err != nil {
				return err
			}
			n, err := queue.Len()
			if err != nil {
				return err
			}
			if n == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			link, err := cl.Dial(ctx, *relay, *room, nil)
			if err != nil {
				return err
			}
			defer link.Close()
			// The relay only accepts trades from a joined connection.
			if err := announceJoin(ctx, newClient(relay), link, args[0]); err != nil {
				return err
			}
			sent, err := queue.Drain(func(it syncq.Item) error {
				return link.Send(it.Type, it.Payload)
			})
			if err != nil {
				printWarn(fmt.Sprintf("Replayed %d of %d before failing.", sent, n))
				return err
			}
			printSuccess(fmt.Sprintf("Replayed %d queued events.", sent))
			return nil
		},
	}
}

func announceJoin(ctx context.Context, client *cl.Client, link *cl.Link, name string) error {
	dir, err := cl.BaseDir()
	if err != nil {
		return err
	}
	res, err := desk.Restore(ctx, client, cl.NewProfiles(dir), name)
	if err != nil {
		return err
	}
	return link.Send(protocol.MsgPlayerJoin, protocol.PlayerJoin{
		PlayerName:        res.Player.Name,
		TotalAssets:       res.Player.TotalAssets,
		CurrentGameAssets: res.Player.CurrentGameAssets,
		PlayerStocks:      append([]string{}, res.Player.Holdings...),
		InGame:            res.Player.InGame,
	})
}
