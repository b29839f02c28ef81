// Command ume is the universal molecular encoder CLI: pull pretrained
// checkpoints, embed sequences, inspect the vocabulary and serve the
// encoder over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/umencoder/ume/envconfig"
	"github.com/umencoder/ume/version"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "ume",
		Short:         "Universal molecular encoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Println("ume version", version.Version)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	serveCmd := newServeCmd()
	embedCmd := newEmbedCmd()
	vocabCmd := newVocabCmd()
	pullCmd := newPullCmd()
	listCmd := newListCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["UME_DEBUG"],
		envVars["UME_HOST"],
		envVars["UME_ORIGINS"],
		envVars["UME_MODELS"],
		envVars["UME_DEVICE"],
		envVars["UME_FLASH_ATTENTION"],
	})
	for _, cmd := range []*cobra.Command{embedCmd, pullCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{envVars["UME_MODELS"], envVars["UME_DEVICE"]})
	}

	rootCmd.AddCommand(
		serveCmd,
		embedCmd,
		vocabCmd,
		pullCmd,
		listCmd,
		envCmd,
	)

	return rootCmd
}

func main() {
	if err := NewCLI().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
