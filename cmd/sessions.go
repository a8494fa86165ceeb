package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/advisr-io/advisr/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions on a running advisr server",
}

func init() {
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList()
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(args[0])
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(args[0])
		},
	})
	rootCmd.AddCommand(sessionsCmd)
}

// serverBaseURL resolves the server address the sessions commands talk
// to. ADVISR_SERVER_ADDR overrides the default, matching the serve side.
func serverBaseURL() string {
	addr := os.Getenv("ADVISR_SERVER_ADDR")
	if addr == "" {
		addr = "127.0.0.1:3500"
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + addr
}

var sessionsClient = &http.Client{Timeout: 10 * time.Second}

func sessionsRequest(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, serverBaseURL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := sessionsClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting server at %s (is it running?): %w", serverBaseURL(), err)
	}
	return resp, nil
}

func runSessionsList() error {
	resp, err := sessionsRequest(http.MethodGet, "/api/sessions")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var payload struct {
		Sessions []session.View `json:"sessions"`
		Total    int            `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(payload.Sessions) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTAGE\tSLOTS\tCREATED\tUPDATED")
	for _, v := range payload.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			v.ID,
			v.Stage,
			len(v.CompletedSlots),
			formatTime(v.CreatedAt),
			formatTime(v.UpdatedAt),
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	fmt.Printf("\n%d session(s)\n", payload.Total)
	return nil
}

func runSessionsShow(id string) error {
	resp, err := sessionsRequest(http.MethodGet, "/api/sessions/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("session %q not found", id)
	default:
		return fmt.Errorf("server returned %s", resp.Status)
	}

	// Re-indent the server's JSON rather than re-marshalling a decoded
	// struct, so fields unknown to this binary still show up.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	fmt.Println(pretty.String())
	return nil
}

func runSessionsDelete(id string) error {
	resp, err := sessionsRequest(http.MethodDelete, "/api/sessions/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	fmt.Printf("Session %s deleted.\n", id)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
