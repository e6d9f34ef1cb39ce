package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask the first aid assistant a question",
	Long: `Ask the first aid assistant a question.

Examples:
  aidbud ask "how do I treat a minor burn"
  aidbud ask --attach wound.jpg "does this need stitches"
  aidbud ask --attach scene.jpg --attach notes.txt "what should I do first"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		attachments, _ := cmd.Flags().GetStringArray("attach")
		query := strings.Join(args, " ")
		if query == "" && len(attachments) == 0 {
			return fmt.Errorf("a query or at least one --attach is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query", map[string]any{
			"query":            query,
			"attachment_paths": attachments,
		})
		if err != nil {
			return err
		}

		var result struct {
			ConversationID int               `json:"conversation_id"`
			Response       string            `json:"response"`
			PCard          map[string]string `json:"pcard"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Response != "" {
			fmt.Fprintln(os.Stdout, result.Response)
		}
		if len(result.PCard) > 0 {
			fmt.Fprintln(os.Stdout)
			fmt.Fprintln(os.Stdout, "Patient card:")
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result.PCard); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringArray("attach", nil, "attachment path or URL (repeatable)")
}

// --- situation ---

var situationCmd = &cobra.Command{
	Use:   "situation",
	Short: "Manage the context toggles",
}

var situationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the context toggles as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/situation")
		if err != nil {
			return err
		}
		var state any
		if err := decodeJSON(resp, &state); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

var situationSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the context toggles",
	Long: `Update the context toggles.

Examples:
  aidbud situation set --first-aid --availability Non-Immediate
  aidbud situation set --current --text "remote trail, 2h from help"
  aidbud situation set --triage --protocol Red="life threatening" --protocol Green="walking wounded"
  aidbud situation set --first-aid=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}

		if cmd.Flags().Changed("triage") || cmd.Flags().Changed("protocol") {
			section := map[string]any{}
			if cmd.Flags().Changed("triage") {
				enabled, _ := cmd.Flags().GetBool("triage")
				section["enabled"] = enabled
			}
			if pairs, _ := cmd.Flags().GetStringArray("protocol"); len(pairs) > 0 {
				protocol := make(map[string]string, len(pairs))
				for _, pair := range pairs {
					level, criteria, ok := strings.Cut(pair, "=")
					if !ok {
						return fmt.Errorf("invalid --protocol %q, expected level=criteria", pair)
					}
					protocol[level] = criteria
				}
				section["protocol"] = protocol
			}
			body["triage"] = section
		}

		if cmd.Flags().Changed("first-aid") || cmd.Flags().Changed("availability") {
			section := map[string]any{}
			if cmd.Flags().Changed("first-aid") {
				enabled, _ := cmd.Flags().GetBool("first-aid")
				section["enabled"] = enabled
			}
			if availability, _ := cmd.Flags().GetString("availability"); availability != "" {
				section["availability"] = availability
			}
			body["first_aid"] = section
		}

		if cmd.Flags().Changed("current") || cmd.Flags().Changed("text") {
			section := map[string]any{}
			if cmd.Flags().Changed("current") {
				enabled, _ := cmd.Flags().GetBool("current")
				section["enabled"] = enabled
			}
			if text, _ := cmd.Flags().GetString("text"); text != "" {
				section["situation"] = text
			}
			body["current_situation"] = section
		}

		if len(body) == 0 {
			return fmt.Errorf("nothing to update, see --help for flags")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/situation", body)
		if err != nil {
			return err
		}
		var state any
		if err := decodeJSON(resp, &state); err != nil {
			return err
		}
		printSuccess("situation updated")
		return nil
	},
}

func init() {
	situationSetCmd.Flags().Bool("triage", false, "enable or disable the triage protocol")
	situationSetCmd.Flags().StringArray("protocol", nil, "triage level as level=criteria (repeatable)")
	situationSetCmd.Flags().Bool("first-aid", false, "enable or disable first aid availability")
	situationSetCmd.Flags().String("availability", "", "first aid availability: Immediate, Non-Immediate, or Unavailable")
	situationSetCmd.Flags().Bool("current", false, "enable or disable the current situation")
	situationSetCmd.Flags().String("text", "", "current situation text")

	situationCmd.AddCommand(situationShowCmd)
	situationCmd.AddCommand(situationSetCmd)
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a fresh conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		wipeMemory, _ := cmd.Flags().GetBool("memory")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/conversations/reset", struct{}{})
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("started conversation %d", result["conversation_id"])

		if wipeMemory {
			resp, err := client.post(cmd.Context(), "/memory/reset", struct{}{})
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= 400 {
				printError("memory reset failed with status %d", resp.StatusCode)
				return fmt.Errorf("server returned %d", resp.StatusCode)
			}
			printWarning("vector memory wiped")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("memory", false, "also wipe the vector memory")
}
