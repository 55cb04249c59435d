package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nijaru/yt-script/validation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	processOut      string
	processSettings string
)

var processCmd = &cobra.Command{
	Use:   "process <url>",
	Short: "Run the pipeline once for a YouTube video",
	Long: `Run every pipeline step for one video and print the resulting script.
Progress is logged as it happens. If script generation fails the aggregated
transcript is printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoURL := args[0]
		v := validation.NewValidator()
		if err := v.ValidateURL(videoURL); err != nil {
			return err
		}

		settings, err := loadSettings(processSettings)
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logPublisher{logger: logrus.WithField("component", "cli")})
		if err != nil {
			return err
		}
		defer a.Close()

		if a.keys.Len() == 0 {
			return fmt.Errorf("no API keys configured: set GEMINI_API_KEYS or pass --pools")
		}

		run, result, err := a.runner.Execute(ctx, videoURL, settings, "cli")
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"run_id": run.ID,
			"status": result.Status,
			"model":  result.Model,
		}).Info(run.Title)
		if result.Error != "" {
			logrus.WithField("run_id", run.ID).Warn(result.Error)
		}
		return writeOutput(processOut, result.Text)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOut, "out", "o", "", "Write the result to a file instead of stdout")
	processCmd.Flags().StringVarP(&processSettings, "settings", "s", "", "JSON file with script settings")
	rootCmd.AddCommand(processCmd)
}
