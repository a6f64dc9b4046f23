package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/termsfx/internal/client"
)

var playCmd = &cobra.Command{
	Use:   "play <command>...",
	Short: "Ask the daemon to play the sounds for a command",
	Long: `Send the command text to the daemon, which plays the sound of every
matching rule. Arguments are joined with spaces.

play never fails: if the daemon is not running the request is silently
dropped, so it is safe to call from a shell hook.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	// Everything after the first argument belongs to the command text.
	playCmd.Flags().SetInterspersed(false)
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()

	command := strings.Join(args, " ")
	if err := client.New(runtimePaths().Socket).Play(ctx, command); err != nil {
		logger.Debug("play request dropped", "command", command, "error", err)
	}
	return nil
}
