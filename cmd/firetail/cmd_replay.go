package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/firetail/internal/correlate"
	"github.com/user/firetail/internal/ingest"
	"github.com/user/firetail/internal/state"
	"github.com/user/firetail/internal/tokens"
	"github.com/user/firetail/internal/types"
)

func init() {
	replayCmd.Flags().StringVar(&replaySession, "session", "", "limit output to one session id")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "emit correlated items as JSON")
	rootCmd.AddCommand(replayCmd)
}

var (
	replaySession string
	replayJSON    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Rebuild state from a JSONL event log and print tool interactions",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	raws, err := readEventLog(args[0])
	if err != nil {
		return err
	}

	var counter *tokens.Counter
	if cfg.Tokens.Enabled {
		if counter, err = tokens.New(cfg.Tokens.Encoding); err != nil {
			slog.Warn("token counting disabled", "error", err)
		}
	}

	store := state.NewStore(
		state.WithGate(state.NewGate(cfg.Store.IDCacheCap, cfg.Store.ContentCacheCap)),
	)
	norm := ingest.NewNormalizer(counter, slog.Default())
	admitted := ingest.Hydrate(store, norm, raws)
	slog.Info("replay complete", "read", len(raws), "admitted", admitted, "sessions", len(store.SessionIDs()))

	sessions := store.SessionIDs()
	if replaySession != "" {
		sessions = []types.SessionID{types.SessionID(replaySession)}
	}

	correlator := correlate.New(slog.Default())
	if replayJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, sid := range sessions {
			items := correlator.PairToolEvents(store.SessionEvents(sid))
			if err := enc.Encode(items); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, sid := range sessions {
		items := correlator.PairToolEvents(store.SessionEvents(sid))
		fmt.Fprintf(w, "session %s\t%d events\t%d tokens\n", sid, store.SessionCount(sid), store.SessionTokenCount(sid))
		for _, item := range items {
			printItem(w, item)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func printItem(w *tabwriter.Writer, item correlate.Item) {
	switch {
	case item.Interaction != nil:
		status := "pending"
		if res := item.Interaction.Result; res != nil {
			status = "ok"
			if res.IsError {
				status = "error"
			}
		}
		fmt.Fprintf(w, "  tool\t%s\t%s\t%s\n", item.Interaction.Call.Name, item.Interaction.ID, status)
	case item.Event != nil:
		fmt.Fprintf(w, "  %s\t%s\t%s\n", item.Event.Kind, item.Event.Role, truncate(item.Event.Content, 60))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// readEventLog reads one raw event per line, skipping blank and malformed
// lines so a partially written log still replays.
func readEventLog(path string) ([]types.RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var raws []types.RawEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var raw types.RawEvent
		if err := json.Unmarshal(data, &raw); err != nil {
			slog.Warn("skipping malformed line", "line", line, "error", err)
			continue
		}
		raws = append(raws, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return raws, nil
}
