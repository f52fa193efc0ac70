package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a dispatchd project",
	Long: `Set up a directory for use with dispatchd.

Creates the .dispatchd state directory, the control directory watched
for the pause sentinel, and a commented .dispatchd.yaml with the default
settings.

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .dispatchd.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	fmt.Printf("Initializing dispatchd in %s\n\n", absPath)

	for _, dir := range []string{
		filepath.Join(absPath, ".dispatchd"),
		filepath.Join(absPath, ".dispatchd", "control"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .dispatchd directory", color.FgGreen)

	configPath := filepath.Join(absPath, ".dispatchd.yaml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		printStatus("·", ".dispatchd.yaml already exists (use --force to overwrite)", color.FgYellow)
		return nil
	}

	if err := writeProjectConfig(configPath); err != nil {
		return err
	}
	printStatus("✓", "Created .dispatchd.yaml", color.FgGreen)

	fmt.Println("\nNext: dispatchd serve")
	return nil
}

// writeProjectConfig renders the default settings as a starting point.
func writeProjectConfig(path string) error {
	settings := map[string]any{
		"server": map[string]any{
			"listen": ":8400",
		},
		"scheduler": map[string]any{
			"max_concurrent":      4,
			"lane_depth":          100,
			"retry_base_delay":    "1s",
			"retry_max_delay":     "60s",
			"default_max_retries": 3,
			"default_timeout":     "60s",
		},
		"router": map[string]any{
			"confidence_weight": 0.7,
			"latency_weight":    0.3,
		},
		"health": map[string]any{
			"interval":          "30s",
			"failure_threshold": 3,
		},
		"anthropic": map[string]any{
			"enabled":      false,
			"agent_id":     "local-claude",
			"capabilities": []string{},
			"api_key":      "${ANTHROPIC_API_KEY}",
		},
		"journal": map[string]any{
			"enabled": true,
		},
	}

	body, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	header := []byte("# dispatchd project configuration\n# Overrides defaults and ~/.config/dispatchd/config.yaml\n\n")
	if err := os.WriteFile(path, append(header, body...), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printStatus(mark, message string, attr color.Attribute) {
	color.New(attr).Printf("%s ", mark)
	fmt.Println(message)
}
