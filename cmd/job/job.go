// Package job implements the "job" CLI subcommand: a thin HTTP client over
// the orchestrator API, grounded on the teacher's cmd/mcp/connect.go
// CLI-to-server pattern (load config, dial, print results with the same
// fmt.Printf-driven reporting style).
package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// JobCmd groups the create/status/cancel/list subcommands under "job".
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create and inspect generation jobs against a running engine server",
}

func init() {
	JobCmd.PersistentFlags().String("server", "http://localhost:8080", "engine server base URL")

	createCmd.Flags().String("task", "", "task description")
	createCmd.Flags().String("workspace", "", "workspace path")
	createCmd.Flags().String("language", "", "target language")
	createCmd.Flags().Int("max-iterations", 0, "override the default max iterations")
	createCmd.Flags().Int("min-score", 0, "override the default minimum score")
	createCmd.Flags().Bool("background", true, "queue the job even when every worker slot is busy (false: start it only if a slot is free now, otherwise the server rejects the request)")

	JobCmd.AddCommand(createCmd, statusCmd, cancelCmd, listCmd)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and start a generation job",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		task, _ := cmd.Flags().GetString("task")
		workspace, _ := cmd.Flags().GetString("workspace")
		language, _ := cmd.Flags().GetString("language")
		maxIterations, _ := cmd.Flags().GetInt("max-iterations")
		minScore, _ := cmd.Flags().GetInt("min-score")
		background, _ := cmd.Flags().GetBool("background")

		if task == "" || workspace == "" {
			return fmt.Errorf("--task and --workspace are required")
		}

		body, err := json.Marshal(map[string]interface{}{
			"task":          task,
			"workspacePath": workspace,
			"language":      language,
			"maxIterations": maxIterations,
			"minScore":      minScore,
			"background":    background,
		})
		if err != nil {
			return err
		}

		resp, err := httpClient.Post(server+"/api/orchestrator/orchestrate", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to reach engine server: %w", err)
		}
		defer resp.Body.Close()

		return printResponse(resp)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		resp, err := httpClient.Get(server + "/api/orchestrator/status/" + args[0])
		if err != nil {
			return fmt.Errorf("failed to reach engine server: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <jobId>",
	Short: "Cancel a running or queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		resp, err := httpClient.Post(server+"/api/orchestrator/cancel/"+args[0], "application/json", nil)
		if err != nil {
			return fmt.Errorf("failed to reach engine server: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every retained job",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		resp, err := httpClient.Get(server + "/api/orchestrator/jobs")
		if err != nil {
			return fmt.Errorf("failed to reach engine server: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

func printResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read server response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
