package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/deskmate/internal/api"
	"github.com/kalambet/deskmate/internal/config"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deskmate system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	printStatus("Classify model", "%s", cfg.Ollama.ClassifyModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		statusResp, err := client.Get(serverURL + "/status")
		if err == nil {
			var st struct {
				SnapshotVersion string `json:"snapshot_version"`
				Chunks          int    `json:"chunks"`
				IndexedAt       string `json:"indexed_at"`
			}
			if decodeJSON(statusResp, &st) == nil {
				if st.SnapshotVersion == "" {
					printStatus("Index", "empty (no snapshot yet)")
				} else {
					printStatus("Index", "%d chunks (built %s)", st.Chunks, st.IndexedAt)
				}
			}
		}
	}

	printStatus("Knowledge dirs", "%s, %s", cfg.Knowledge.DefaultDir, cfg.Knowledge.UploadDir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rescan the knowledge base and rebuild the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("rebuilding index...")
		resp, err := client.post("/sync", nil)
		if err != nil {
			return err
		}

		var report struct {
			Files   int `json:"files"`
			Chunks  int `json:"chunks"`
			Skipped []struct {
				Path   string `json:"path"`
				Reason string `json:"reason"`
			} `json:"skipped"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		for _, s := range report.Skipped {
			printWarning("skipped %s: %s", s.Path, s.Reason)
		}
		printSuccess("indexed %d chunks from %d files", report.Chunks, report.Files)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the helpdesk assistant a question",
	Long: `Ask the helpdesk assistant a question.

Examples:
  deskmate ask "how do I reset my password?"
  deskmate ask --session alice "what time is lunch?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/chat", api.ChatRequest{
			Message:   args[0],
			SessionID: session,
		})
		if err != nil {
			return err
		}

		var reply api.ChatResponse
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		if reply.Failure != "" {
			printWarning("degraded answer (%s)", reply.Failure)
		}
		fmt.Println(reply.Reply)
		if len(reply.Sources) > 0 {
			fmt.Println()
			for _, s := range reply.Sources {
				line := fmt.Sprintf("[%d] %s", s.Index, s.DocID)
				if s.Position != "" {
					line += ", " + s.Position
				}
				fmt.Println(colorize(ansiCyan, line))
			}
		}
		printStatus("intent", "%s (%.0fms)", reply.Intent, float64(reply.ElapsedMS))
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id for conversational context")
}
