package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/termsfx/internal/client"
	"github.com/jmylchreest/termsfx/internal/config"
)

var configOpts struct {
	local  bool
	format string
}

// configCmd represents the config command group.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the termsfx configuration",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the configuration loaded by the daemon",
	Long: `Print the rules the running daemon is using. Audio paths are shown
resolved against the config file's directory.

With --local the config file is loaded directly instead.`,
	Args: cobra.NoArgs,
	RunE: configPrintRun,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without contacting the daemon.
Defaults to the configured path.`,
	Args: cobra.MaximumNArgs(1),
	RunE: configValidateRun,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configPrintCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)

	configPrintCmd.Flags().BoolVar(&configOpts.local, "local", false,
		"Read the config file instead of asking the daemon")
	configPrintCmd.Flags().StringVarP(&configOpts.format, "format", "f", "json",
		"Output format: json, yaml, table")
}

func configPrintRun(cmd *cobra.Command, args []string) error {
	var (
		doc config.Document
		err error
	)
	if configOpts.local {
		doc, err = localDocument()
	} else {
		doc, err = daemonDocument()
	}
	if err != nil {
		return err
	}

	return renderDocument(cmd.OutOrStdout(), doc, configOpts.format)
}

func localDocument() (config.Document, error) {
	path, err := configPath()
	if err != nil {
		return config.Document{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Document{}, err
	}
	return cfg.Document(), nil
}

func daemonDocument() (config.Document, error) {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()

	reply, err := client.New(runtimePaths().Socket).PrintConfig(ctx)
	if errors.Is(err, client.ErrDaemonUnavailable) {
		return config.Document{}, fmt.Errorf("%w (use --local to print the config file)", err)
	}
	if err != nil {
		return config.Document{}, err
	}

	var doc config.Document
	if err := json.Unmarshal(reply, &doc); err != nil {
		return config.Document{}, fmt.Errorf("failed to decode daemon reply: %w", err)
	}
	return doc, nil
}

func renderDocument(w io.Writer, doc config.Document, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		_, err := fmt.Fprintln(w, documentTable(doc))
		return err
	default:
		return fmt.Errorf("unknown format %q (want json, yaml or table)", format)
	}
}

func documentTable(doc config.Document) string {
	rows := make([][]string, 0, len(doc.Commands))
	for i, rule := range doc.Commands {
		var audio []string
		if rule.AudioFilePath != nil {
			audio = []string{*rule.AudioFilePath}
		} else {
			audio = rule.AudioFilePaths
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), rule.Command, strings.Join(audio, "\n")})
	}

	title := doc.Path
	if doc.Volume != nil {
		title = fmt.Sprintf("%s (volume %d%%)", title, *doc.Volume)
	}
	return renderTable(title, []string{"#", "Command", "Audio"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft})
}

func configValidateRun(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		var err error
		if path, err = configPath(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules, %d sounds, volume %d%%\n",
		cfg.Path, len(cfg.Commands), len(cfg.AudioFiles()), cfg.Volume)
	return nil
}
