package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"royale-miner/internal/config"
	"royale-miner/internal/royale"
	"royale-miner/internal/stats"
	"royale-miner/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tag := flag.String("tag", cfg.PlayerTag, "Player tag to look up")
	checkKey := flag.Bool("check-key", false, "Only validate the API key")
	showCards := flag.Bool("cards", false, "Print the card catalog")
	showStats := flag.Bool("stats", false, "Print card win rates from the local dataset and exit")
	dataPath := flag.String("data", cfg.DataPath, "Dataset CSV path for --stats")
	flag.Parse()

	if *showStats {
		if err := printStats(*dataPath); err != nil {
			log.Fatalf("Failed to summarize dataset: %v", err)
		}
		return
	}

	opts := []royale.ClientOption{
		royale.WithKeyFile(cfg.KeyFile),
		royale.WithBaseURL(cfg.BaseURL),
		royale.WithTimeout(cfg.HTTPTimeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, royale.WithAPIKey(cfg.APIKey))
	}
	client, err := royale.NewClient(opts...)
	if err != nil {
		log.Fatalf("Failed to create API client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.HTTPTimeout)
	defer cancel()

	// Step 1: key check
	fmt.Printf("\n1. Validating API key...\n")
	valid, err := client.ValidateKey(ctx)
	if err != nil {
		log.Fatalf("Could not validate key: %v", err)
	}
	if !valid {
		fmt.Println("   Result: INVALID (expired, revoked or not whitelisted for this IP)")
		os.Exit(1)
	}
	fmt.Println("   Result: VALID")
	if *checkKey {
		return
	}

	// Step 2: profile
	fmt.Printf("\n2. Looking up player %s...\n", royale.NormalizeTag(*tag))
	player, err := client.GetPlayer(ctx, *tag)
	if err != nil {
		log.Fatalf("Failed to get player: %v", err)
	}
	fmt.Printf("   %s (%s), level %d\n", player.Name, player.Tag, player.ExpLevel)
	fmt.Printf("   Trophies: %d (best %d)\n", player.Trophies, player.BestTrophies)
	fmt.Printf("   Record: %dW %dL over %d battles, %d three-crown wins\n",
		player.Wins, player.Losses, player.BattleCount, player.ThreeCrownWins)

	// Step 3: what a miner run would see
	fmt.Printf("\n3. Fetching battle log...\n")
	entries, err := client.GetBattleLog(ctx, *tag)
	if err != nil {
		log.Fatalf("Failed to get battle log: %v", err)
	}
	pvp := royale.FilterPvP(entries)
	fmt.Printf("   %d battles, %d PvP\n", len(entries), len(pvp))
	if len(pvp) > 0 && len(pvp[0].Team) > 0 && len(pvp[0].Opponent) > 0 {
		latest := pvp[0]
		fmt.Printf("   Latest PvP: %s vs %s (%+d trophies)\n",
			latest.BattleTime.Format("2006-01-02 15:04"), latest.Opponent[0].Name, latest.Team[0].TrophyChange)
	}

	if !*showCards {
		fmt.Println("\nDone!")
		return
	}

	// Step 4: card catalog
	fmt.Printf("\n4. Fetching card catalog...\n")
	cards, err := client.GetCards(ctx)
	if err != nil {
		log.Fatalf("Failed to get cards: %v", err)
	}
	ids := make([]int, 0, len(cards))
	for id := range cards {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fmt.Printf("   %d cards\n", len(ids))
	for _, id := range ids {
		fmt.Printf("   %d  %s\n", id, cards[id])
	}

	fmt.Println("\nDone!")
}

// printStats summarizes the stored dataset without touching the API
func printStats(path string) error {
	table, err := storage.NewCSVStore(path).Load()
	if err != nil {
		return err
	}
	if table == nil {
		fmt.Printf("No dataset at %s yet\n", path)
		return nil
	}

	summary := stats.Summarize(table)
	fmt.Printf("\n%d battles, %d wins (%.1f%%)\n", summary.Battles, summary.Wins, 100*summary.WinRate())

	fmt.Println("\nMost played cards:")
	for i, stat := range summary.Deck {
		if i == 8 {
			break
		}
		fmt.Printf("   %-20s %4d games  %5.1f%% win\n", stat.Card, stat.Matches, 100*stat.WinRate)
	}

	fmt.Println("\nToughest opponent cards (5+ games):")
	for _, stat := range summary.Toughest(5, 5) {
		fmt.Printf("   %-20s %4d games  %5.1f%% win\n", stat.Card, stat.Matches, 100*stat.WinRate)
	}
	return nil
}
