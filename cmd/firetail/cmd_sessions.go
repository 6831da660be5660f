package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statusCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions known to a running daemon",
	RunE:  runSessions,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show feed connectivity of a running daemon",
	RunE:  runStatus,
}

// apiBase turns the daemon's listen address into a client base URL.
func apiBase(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func apiGet(addr, path string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(apiBase(addr) + path)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	var sessions []struct {
		SessionID  string `json:"session_id"`
		EventCount int    `json:"event_count"`
		TokenCount int    `json:"token_count"`
	}
	if err := apiGet(cfg.ListenAddr, "/api/sessions", &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tEVENTS\tTOKENS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.SessionID, s.EventCount, s.TokenCount)
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	var st struct {
		Connected bool   `json:"connected"`
		Primary   bool   `json:"primary"`
		Secondary bool   `json:"secondary"`
		Resume    string `json:"resume"`
	}
	if err := apiGet(cfg.ListenAddr, "/api/status", &st); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "connected\t%v\n", st.Connected)
	fmt.Fprintf(w, "firehose\t%v\n", st.Primary)
	fmt.Fprintf(w, "relay\t%v\n", st.Secondary)
	if st.Resume != "" {
		fmt.Fprintf(w, "resume\t%s\n", st.Resume)
	}
	return w.Flush()
}
