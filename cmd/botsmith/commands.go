package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/botsmith/internal/config"
	"github.com/kalambet/botsmith/internal/storage"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and dashboard stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/health")
		if err != nil {
			printStatus("Server", "stopped")
			return nil
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			return nil
		}
		printStatus("Server", "running at %s", client.baseURL)

		resp, err = client.get(cmd.Context(), "/api/dashboard/stats")
		if err != nil {
			return err
		}
		var stats struct {
			ActiveBots         int    `json:"activeBots"`
			TotalConversations int    `json:"totalConversations"`
			SuccessRate        string `json:"successRate"`
			ResponseTime       string `json:"responseTime"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		printStatus("Active bots", "%d", stats.ActiveBots)
		printStatus("Conversations", "%d", stats.TotalConversations)
		printStatus("Processing success", "%s", stats.SuccessRate)
		printStatus("Mean response time", "%s", stats.ResponseTime)
		return nil
	},
}

// --- bots ---

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "Manage bots",
}

var botsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bots",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/bots")
		if err != nil {
			return err
		}
		var bots []storage.Bot
		if err := decodeJSON(resp, &bots); err != nil {
			return err
		}
		if len(bots) == 0 {
			fmt.Fprintln(stdout, "No bots yet. Create one with: botsmith bots create <name>")
			return nil
		}
		for _, b := range bots {
			fmt.Fprintf(stdout, "%s  %-8s  %s\n", b.ID, statusColor(string(b.Status)), b.Name)
		}
		return nil
	},
}

var botsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		status, _ := cmd.Flags().GetString("status")

		body := map[string]any{"name": args[0]}
		if description != "" {
			body["description"] = description
		}
		if status != "" {
			body["status"] = status
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/bots", body)
		if err != nil {
			return err
		}
		var bot storage.Bot
		if err := decodeJSON(resp, &bot); err != nil {
			return err
		}
		printSuccess("Created bot %s (%s)", bot.ID, bot.Status)
		return nil
	},
}

var botsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.do(cmd.Context(), http.MethodDelete, "/api/bots/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted bot %s", args[0])
		return nil
	},
}

func init() {
	botsCreateCmd.Flags().String("description", "", "what the bot is for")
	botsCreateCmd.Flags().String("status", "", "initial status (draft, training, active, paused)")

	botsCmd.AddCommand(botsListCmd)
	botsCmd.AddCommand(botsCreateCmd)
	botsCmd.AddCommand(botsDeleteCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <bot-id> <message>",
	Short: "Send one message to a bot",
	Long: `Send one message to a bot and print its reply.

Examples:
  botsmith chat 3f2a... "What are your opening hours?"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/bots/"+url.PathEscape(args[0])+"/chat", map[string]string{"message": message})
		if err != nil {
			return err
		}
		var result struct {
			Response string `json:"response"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Fprintln(stdout, result.Response)
		return nil
	},
}

// --- upload ---

const uploadPollInterval = time.Second

var uploadCmd = &cobra.Command{
	Use:   "upload <bot-id> <file>",
	Short: "Upload a training file for a bot",
	Long: `Upload a training file for a bot.

The file is stored in object storage and registered as training data. Text
extraction runs in the background; pass --wait to block until it finishes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		botID, path := args[0], args[1]
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		td, err := uploadTrainingFile(cmd.Context(), client, botID, filepath.Base(path), data)
		if err != nil {
			return err
		}
		printSuccess("Registered %s as training data %s", td.FileName, td.ID)

		if !wait {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		td, err = waitProcessed(ctx, client, td.ID)
		if err != nil {
			return err
		}
		if td.ProcessingError != "" {
			printWarning("Processing failed: %s", td.ProcessingError)
			return nil
		}
		printSuccess("Processed %s", td.FileName)
		return nil
	},
}

func init() {
	uploadCmd.Flags().Bool("wait", false, "wait until text extraction finishes")
	uploadCmd.Flags().Duration("timeout", 2*time.Minute, "how long --wait waits")
}

// uploadTrainingFile runs the three upload steps: obtain an upload URL, PUT
// the bytes, register the training record.
func uploadTrainingFile(ctx context.Context, client *apiClient, botID, fileName string, data []byte) (storage.TrainingData, error) {
	resp, err := client.post(ctx, "/api/objects/upload", nil)
	if err != nil {
		return storage.TrainingData{}, err
	}
	var upload struct {
		UploadURL string `json:"uploadURL"`
	}
	if err := decodeJSON(resp, &upload); err != nil {
		return storage.TrainingData{}, err
	}

	fileType := mime.TypeByExtension(filepath.Ext(fileName))
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	resp, err = client.putFile(ctx, upload.UploadURL, fileType, data)
	if err != nil {
		return storage.TrainingData{}, err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return storage.TrainingData{}, err
	}

	resp, err = client.post(ctx, "/api/bots/"+url.PathEscape(botID)+"/training-data", map[string]any{
		"fileUrl":  upload.UploadURL,
		"fileName": fileName,
		"fileSize": len(data),
		"fileType": fileType,
	})
	if err != nil {
		return storage.TrainingData{}, err
	}
	var td storage.TrainingData
	if err := decodeJSON(resp, &td); err != nil {
		return storage.TrainingData{}, err
	}
	return td, nil
}

// waitProcessed polls a training record until it is processed or failed.
func waitProcessed(ctx context.Context, client *apiClient, id string) (storage.TrainingData, error) {
	ticker := time.NewTicker(uploadPollInterval)
	defer ticker.Stop()
	for {
		resp, err := client.get(ctx, "/api/training-data/"+url.PathEscape(id))
		if err != nil {
			return storage.TrainingData{}, err
		}
		var td storage.TrainingData
		if err := decodeJSON(resp, &td); err != nil {
			return storage.TrainingData{}, err
		}
		if td.Processed || td.ProcessingError != "" {
			return td, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return storage.TrainingData{}, fmt.Errorf("training data %s still processing", id)
			}
			return storage.TrainingData{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "  %s\n", colorize(colorCyan, config.Path()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret such as the LLM API key",
	Long:  "Store a secret outside the config file.\n\nKeys: " + strings.Join(config.SecretKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
