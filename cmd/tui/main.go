package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"marketwatch-go/internal/config"
	"marketwatch-go/internal/exchange"
	"marketwatch-go/internal/watcher"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== MarketWatch Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Add or update a watched symbol")
		fmt.Println("3) Remove a watched symbol")
		fmt.Println("4) Edit feed settings")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch watcher")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editWatch(reader, cfg)
		case "3":
			removeWatch(reader, cfg)
		case "4":
			editFeed(reader, cfg)
		case "5":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchWatcher(reader)
		case "7":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Provider: %s | feed symbols: %s\n", cfg.Feed.Provider, strings.Join(cfg.Feed.Symbols, ", "))
	fmt.Printf("Sweep: settle %dms, every %dms, query timeout %dms, concurrency %d\n",
		cfg.Watcher.SettleMargin, cfg.Watcher.SweepInterval, cfg.Watcher.QueryTimeout, cfg.Watcher.SweepConcurrency)
	fmt.Printf("Paper price kind: %s | ticks kept per symbol: %d\n", cfg.Paper.PriceKind, cfg.Paper.MaxTicksPerSymbol)
	fmt.Printf("Journal: %s | relay enabled: %t (%s)\n", cfg.Journal.Path, cfg.Relay.Enabled, cfg.Relay.SubjectPrefix)
	if len(cfg.Watch) == 0 {
		fmt.Println("Watch list is empty")
		return
	}
	fmt.Println("Watch list:")
	for _, w := range cfg.Watch {
		fmt.Printf("  %-12s ticks=%-5t periods=%-5t timeframes=%v\n", w.Symbol, w.Ticks, w.Periods, w.Timeframes)
	}
}

func editWatch(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Add / Update Watch ---")
	symbol := strings.ToUpper(promptString(reader, "Symbol", ""))
	if symbol == "" {
		fmt.Println("symbol required")
		return
	}
	idx := findWatch(cfg, symbol)
	entry := config.Watch{Symbol: symbol}
	if idx >= 0 {
		entry = cfg.Watch[idx]
	}

	entry.Ticks = promptBool(reader, "Watch ticks", entry.Ticks)
	entry.Periods = promptBool(reader, "Watch periods", entry.Periods)
	fmt.Printf("Timeframes in seconds, comma-separated %v (blank to keep): ", entry.Timeframes)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		var tfs []int
		for _, part := range strings.Split(strings.TrimSpace(line), ",") {
			tf, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				fmt.Printf("ignoring %q\n", part)
				continue
			}
			if cfg.Feed.Provider == exchange.ProviderBinance {
				if _, ok := exchange.Interval(tf); !ok {
					fmt.Printf("binance has no %ds interval, ignoring\n", tf)
					continue
				}
			}
			tfs = append(tfs, tf)
		}
		entry.Timeframes = watcher.Directives{}.Merge(watcher.WatchRequest{Timeframes: tfs}).Timeframes
	}

	if idx >= 0 {
		cfg.Watch[idx] = entry
	} else {
		cfg.Watch = append(cfg.Watch, entry)
	}
	if !contains(cfg.Feed.Symbols, symbol) {
		cfg.Feed.Symbols = append(cfg.Feed.Symbols, symbol)
	}
}

func removeWatch(reader *bufio.Reader, cfg *config.Config) {
	symbol := strings.ToUpper(promptString(reader, "Symbol to remove", ""))
	idx := findWatch(cfg, symbol)
	if idx < 0 {
		fmt.Println("not watched")
		return
	}
	cfg.Watch = append(cfg.Watch[:idx], cfg.Watch[idx+1:]...)
	fmt.Printf("%s removed from the watch list\n", symbol)
}

func editFeed(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Feed ---")
	provider := strings.ToLower(promptString(reader, "Provider (stub|binance)", cfg.Feed.Provider))
	if provider != exchange.ProviderStub && provider != exchange.ProviderBinance {
		fmt.Printf("unknown provider %q, keeping %s\n", provider, cfg.Feed.Provider)
	} else {
		cfg.Feed.Provider = provider
	}
	cfg.Feed.KlineLimit = promptInt(reader, "Klines per request", cfg.Feed.KlineLimit)
	cfg.Watcher.SweepConcurrency = promptInt(reader, "Sweep concurrency", cfg.Watcher.SweepConcurrency)
	cfg.Paper.PriceKind = promptString(reader, "Paper price kind (bid|ask)", cfg.Paper.PriceKind)
}

func launchWatcher(reader *bufio.Reader) {
	fmt.Println("Launching watcher (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/watcher")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start watcher: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the watcher and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	line := promptString(reader, label, strconv.Itoa(current))
	val, err := strconv.Atoi(line)
	if err != nil {
		fmt.Printf("invalid number, keeping %d\n", current)
		return current
	}
	return val
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	line := promptString(reader, label+" (y/n)", map[bool]string{true: "y", false: "n"}[current])
	switch strings.ToLower(line) {
	case "y", "yes", "true":
		return true
	case "n", "no", "false":
		return false
	default:
		fmt.Printf("invalid answer, keeping %t\n", current)
		return current
	}
}

func findWatch(cfg *config.Config, symbol string) int {
	for i, w := range cfg.Watch {
		if strings.EqualFold(w.Symbol, symbol) {
			return i
		}
	}
	return -1
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if p := os.Getenv("MARKETWATCH_CONFIG"); p != "" {
		return filepath.Clean(p)
	}
	return filepath.Clean(defaultConfigPath)
}
