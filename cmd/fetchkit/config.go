package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/VatsalSy/fetchkit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and modify fetchkit configuration",
	Long: `View and modify fetchkit configuration settings.

Configuration can be managed through:
  • Interactive prompts
  • Direct key-value updates
  • Environment variables (FETCHKIT_*)
  • Direct file editing`,
	Example: `  # View all configuration
  fetchkit config

  # View specific setting
  fetchkit config get transfer.chunk_size

  # Update setting
  fetchkit config set transfer.chunk_size 2MB

  # Reset to defaults
  fetchkit config reset

  # Edit config file directly
  fetchkit config edit`,
}

var (
	configGetCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Get a configuration value",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigGet,
	}

	configSetCmd = &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	}

	configResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Reset configuration to defaults",
		RunE:  runConfigReset,
	}

	configEditCmd = &cobra.Command{
		Use:   "edit",
		Short: "Edit the configuration file in $EDITOR",
		RunE:  runConfigEdit,
	}
)

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configEditCmd)

	configCmd.Run = func(cmd *cobra.Command, args []string) {
		runConfigList()
	}

	rootCmd.AddCommand(configCmd)
}

func runConfigList() {
	fmt.Println(color.CyanString("fetchkit configuration"))
	fmt.Println()

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, _ := os.UserHomeDir()
		configFile = filepath.Join(home, ".fetchkit", "config.yaml")
	}
	fmt.Printf("Config file: %s\n\n", configFile)

	groups := map[string][]configItem{
		"Transfer": {
			{"transfer.default_directory", "Default download directory", viper.GetString("transfer.default_directory")},
			{"transfer.chunk_size", "Download chunk size", viper.GetString("transfer.chunk_size")},
			{"transfer.bandwidth_limit", "Bandwidth limit (MB/s)", formatOptionalInt(viper.GetInt("transfer.bandwidth_limit"))},
			{"transfer.checkpoint_interval", "Checkpoint save interval (s)", fmt.Sprintf("%d", viper.GetInt("transfer.checkpoint_interval"))},
		},
		"Queue": {
			{"queue.simultaneous_downloads", "Concurrent downloads", fmt.Sprintf("%d", viper.GetInt("queue.simultaneous_downloads"))},
			{"queue.priority_simultaneous_downloads", "Concurrent priority downloads", fmt.Sprintf("%d", viper.GetInt("queue.priority_simultaneous_downloads"))},
			{"queue.dedicated_priority_lane", "Dedicated priority lane", fmt.Sprintf("%v", viper.GetBool("queue.dedicated_priority_lane"))},
		},
		"Mirror": {
			{"mirror.max_retries", "Max retries per mirror", fmt.Sprintf("%d", viper.GetInt("mirror.max_retries"))},
		},
		"Transport": {
			{"transport.max_retries", "Transport retries", fmt.Sprintf("%d", viper.GetInt("transport.max_retries"))},
			{"transport.request_timeout", "Request timeout (s)", fmt.Sprintf("%d", viper.GetInt("transport.request_timeout"))},
			{"transport.rate_limit", "Requests/sec limit", fmt.Sprintf("%v", viper.Get("transport.rate_limit"))},
		},
		"Advanced": {
			{"cache.enabled", "Enable metadata cache", fmt.Sprintf("%v", viper.GetBool("cache.enabled"))},
			{"cache.ttl", "Cache TTL (minutes)", fmt.Sprintf("%d", viper.GetInt("cache.ttl"))},
			{"log.level", "Log level", viper.GetString("log.level")},
			{"log.file", "Log file path", viper.GetString("log.file")},
		},
	}

	for _, groupName := range []string{"Transfer", "Queue", "Mirror", "Transport", "Advanced"} {
		fmt.Println(color.YellowString(groupName + ":"))

		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, WidthMax: 35},
			{Number: 2, WidthMax: 35},
			{Number: 3, WidthMax: 30},
		})

		for _, item := range groups[groupName] {
			value := item.Value
			if value == "" || value == "0" || value == "<nil>" {
				value = color.New(color.FgHiBlack).Sprint("(not set)")
			}
			t.AppendRow(table.Row{item.Key, item.Description, value})
		}

		fmt.Println(t.Render())
		fmt.Println()
	}

	fmt.Println("Use 'fetchkit config set <key> <value>' to update settings")
	fmt.Println("Use 'fetchkit config edit' to edit the config file directly")
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		for key, value := range flattenMap("", viper.AllSettings()) {
			fmt.Printf("%s=%v\n", key, value)
		}
		return nil
	}

	key := args[0]
	if !viper.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	fmt.Println(viper.Get(key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	if !contains(validConfigKeys(), key) {
		fmt.Printf(color.YellowString("warning: '%s' is not a recognized configuration key\n"), key)
		var proceed bool
		survey.AskOne(&survey.Confirm{Message: "Set it anyway?", Default: false}, &proceed)
		if !proceed {
			return nil
		}
	}

	oldValue := viper.Get(key)
	var newValue interface{}

	switch oldValue.(type) {
	case bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", key, err)
		}
		newValue = parsed
	case int:
		parsed, err := strconv.ParseInt(value, 10, 0)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		newValue = int(parsed)
	case int64:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		newValue = parsed
	case float64:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		newValue = parsed
	default:
		newValue = value
	}

	viper.Set(key, newValue)

	if err := saveViperConfig(); err != nil {
		return err
	}

	fmt.Printf(color.GreenString("set %s = %v\n"), key, newValue)
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	fmt.Println(color.YellowString("warning: this resets all configuration to defaults"))

	var confirm bool
	survey.AskOne(&survey.Confirm{Message: "Are you sure?", Default: false}, &confirm)
	if !confirm {
		return nil
	}

	viper.Reset()
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("failed to reload defaults: %w", err)
	}

	if err := saveViperConfig(); err != nil {
		return err
	}

	fmt.Println(color.GreenString("configuration reset to defaults"))
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, _ := os.UserHomeDir()
		configFile = filepath.Join(home, ".fetchkit", "config.yaml")
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := viper.WriteConfigAs(configFile); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
		if runtime.GOOS == "windows" {
			editor = "notepad"
		}
	}

	editorPath, err := exec.LookPath(editor)
	if err != nil {
		return fmt.Errorf("editor '%s' not found in PATH: %w", editor, err)
	}

	fmt.Printf("opening %s in %s...\n", configFile, editorPath)

	// #nosec G204 - editor path is validated with exec.LookPath above
	editorCmd := exec.Command(editorPath, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}

	viper.ReadInConfig()
	fmt.Println(color.GreenString("configuration reloaded"))
	return nil
}

func saveViperConfig() error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, _ := os.UserHomeDir()
		configFile = filepath.Join(home, ".fetchkit", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

type configItem struct {
	Key         string
	Description string
	Value       string
}

func formatOptionalInt(value int) string {
	if value == 0 {
		return "(unlimited)"
	}
	return fmt.Sprintf("%d", value)
}

func flattenMap(prefix string, m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for key, value := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		switch v := value.(type) {
		case map[string]interface{}:
			for k, val := range flattenMap(fullKey, v) {
				result[k] = val
			}
		default:
			result[fullKey] = value
		}
	}

	return result
}

// validConfigKeys reflects over config.Config to list every recognized
// mapstructure key, used to warn on typos in `config set`.
func validConfigKeys() []string {
	var cfg config.Config
	return extractKeysFromStruct(reflect.TypeOf(cfg), "")
}

func extractKeysFromStruct(t reflect.Type, prefix string) []string {
	var keys []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct && field.Type.String() != "time.Time" {
			keys = append(keys, extractKeysFromStruct(field.Type, key)...)
		} else {
			keys = append(keys, key)
		}
	}

	return keys
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
