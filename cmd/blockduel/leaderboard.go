package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/blockduel/internal/storage"
)

var (
	flagBoardLimit   int
	flagHistoryLimit int
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the leaderboard",
	Long: `Display human players ranked by wins, then best score.
Matches against the AI opponent are excluded.

Examples:
  blockduel leaderboard
  blockduel leaderboard --limit 25 --db ./matches.db`,
	Args: cobra.NoArgs,
	Run:  runLeaderboard,
}

var historyCmd = &cobra.Command{
	Use:   "history <identity>",
	Short: "Show a player's recent matches",
	Long: `Display the most recent matches a player took part in, newest first.

Examples:
  blockduel history alice
  blockduel history alice --limit 5`,
	Args: cobra.ExactArgs(1),
	Run:  runHistory,
}

func init() {
	leaderboardCmd.Flags().IntVar(&flagBoardLimit, "limit", 10, "Number of players to show")
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "Number of matches to show")
}

func openStore() *storage.Store {
	cfg, err := loadConfig()
	if err != nil {
		exitf("Error loading config: %v", err)
	}
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		exitf("Error opening match database: %v", err)
	}
	return store
}

func runLeaderboard(_ *cobra.Command, _ []string) {
	store := openStore()
	defer store.Close()

	entries, err := store.Leaderboard(flagBoardLimit)
	if err != nil {
		store.Close()
		exitf("Error retrieving leaderboard: %v", err)
	}

	out := stdout()
	out.title("Leaderboard")
	if len(entries) == 0 {
		out.note("No matches recorded yet.")
		return
	}
	out.table([]string{"Rank", "Player", "W", "L", "Best", "Lines"}, leaderboardRows(entries))
}

func runHistory(_ *cobra.Command, args []string) {
	player := args[0]
	store := openStore()
	defer store.Close()

	matches, err := store.PlayerMatchHistory(player, flagHistoryLimit)
	if err != nil {
		store.Close()
		exitf("Error retrieving history: %v", err)
	}

	out := stdout()
	out.title("Recent matches - " + player)
	if len(matches) == 0 {
		out.note("No matches recorded for " + player + ".")
		return
	}
	out.table([]string{"Date", "Result", "Opponent", "Score", "Reason", "Length"}, historyRows(player, matches))
}
