package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvail/prefd/internal/config"
)

// splitQualified turns "group.setting" into the API path segments.
func splitQualified(key string) (group, setting string, err error) {
	i := strings.Index(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("key must be of the form \"group.setting\", got %q", key)
	}
	return key[:i], key[i+1:], nil
}

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <group.setting>",
	Short: "Read the current value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, setting, err := splitQualified(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/settings/"+group+"/"+setting)
		if err != nil {
			return err
		}

		var view struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		out, err := json.Marshal(view.Value)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// --- set ---

var setCmd = &cobra.Command{
	Use:   "set <group.setting> <value>",
	Short: "Write a new value to a setting",
	Long: `Write a new value to a setting. The value is parsed as JSON, so
strings need quoting in most shells:

  prefd set audio.volume 7
  prefd set audio.muted true
  prefd set ui.theme '"dark"'
  prefd set ui.pinned '["home","search"]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, setting, err := splitQualified(args[0])
		if err != nil {
			return err
		}

		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			// Convenience: treat an unparsable value as a bare string.
			value = args[1]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/settings/"+group+"/"+setting,
			map[string]any{"value": value})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %v", args[0], result["value"])
		return nil
	},
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset [group.setting | group]",
	Short: "Restore settings to their defaults",
	Long: `Restore settings to their defaults.

  prefd reset audio.volume   reset one setting
  prefd reset audio          reset every setting in a group
  prefd reset --all          reset everything`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		switch {
		case all:
			resp, err := client.post(cmd.Context(), "/reset", nil)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("All settings reset")
			return nil

		case len(args) == 0:
			return fmt.Errorf("specify a key, a group, or --all")

		case strings.Contains(args[0], "."):
			group, setting, err := splitQualified(args[0])
			if err != nil {
				return err
			}
			resp, err := client.delete(cmd.Context(), "/settings/"+group+"/"+setting)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Reset %s", args[0])
			return nil

		default:
			resp, err := client.post(cmd.Context(), "/reset", map[string]string{"group": args[0]})
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Reset group %s", args[0])
			return nil
		}
	},
}

func init() {
	resetCmd.Flags().Bool("all", false, "reset every setting in every group")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings and their current values",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/settings")
		if err != nil {
			return err
		}

		var views []struct {
			Key              string `json:"key"`
			Type             string `json:"type"`
			Value            any    `json:"value"`
			Default          any    `json:"default"`
			UserConfigurable bool   `json:"userConfigurable"`
		}
		if err := decodeJSON(resp, &views); err != nil {
			return err
		}

		if asJSON {
			out, err := json.MarshalIndent(views, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		if len(views) == 0 {
			fmt.Println("No settings.")
			return nil
		}

		sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
		for _, v := range views {
			val, _ := json.Marshal(v.Value)
			line := fmt.Sprintf("%s = %s", colorize(colorBold, v.Key), val)
			if !v.UserConfigurable {
				line += " " + colorize(colorYellow, "(locked)")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("json", false, "output as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show daemon configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  (env %s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}
