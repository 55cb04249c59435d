package cmd

import (
	"fmt"
	"os"

	"github.com/nijaru/yt-script/validation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	scriptTranscript string
	scriptOut        string
	scriptSettings   string
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Generate a script from a saved transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(scriptTranscript)
		if err != nil {
			return fmt.Errorf("failed to read transcript: %w", err)
		}

		v := validation.NewValidator()
		if err := v.ValidateTranscript(string(data)); err != nil {
			return err
		}
		settings, err := loadSettings(scriptSettings)
		if err != nil {
			return err
		}
		if err := v.ValidateSettings(settings); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.service.GenerateScriptOnly(cmd.Context(), string(data), settings)
		if err != nil {
			return err
		}
		logrus.WithField("model", result.Model).Info("Script generated")
		return writeOutput(scriptOut, result.Text)
	},
}

func init() {
	scriptCmd.Flags().StringVarP(&scriptTranscript, "transcript", "t", "", "Transcript file (required)")
	scriptCmd.Flags().StringVarP(&scriptOut, "out", "o", "", "Write the script to a file instead of stdout")
	scriptCmd.Flags().StringVarP(&scriptSettings, "settings", "s", "", "JSON file with script settings")
	_ = scriptCmd.MarkFlagRequired("transcript")
	rootCmd.AddCommand(scriptCmd)
}
