package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/nijaru/yt-script/logger"
	"github.com/spf13/cobra"
)

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Inspect the proxy pool",
}

var proxiesTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test every configured proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger.SetLevel(cfg.LogLevel)

		_, proxies, err := newPools(cfg)
		if err != nil {
			return err
		}
		if proxies.Len() == 0 {
			return fmt.Errorf("no proxies configured: set PROXIES or pass --pools")
		}

		results := proxies.TestAll(cmd.Context())
		labels := make(map[string]string)
		for _, e := range proxies.Entries() {
			labels[e.ID] = e.Value.Redacted()
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROXY\tOK\tTIME\tERROR")
		healthy := 0
		for _, res := range results {
			if res.Success {
				healthy++
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", res.ID, labels[res.ID], res.Success, res.ResponseTime, res.Error)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d/%d proxies healthy\n", healthy, len(results))
		return nil
	},
}

func init() {
	proxiesCmd.AddCommand(proxiesTestCmd)
	rootCmd.AddCommand(proxiesCmd)
}
