package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/senave-registros/internal/browser"
	"github.com/jmylchreest/senave-registros/internal/config"
	"github.com/jmylchreest/senave-registros/internal/output"
	"github.com/jmylchreest/senave-registros/internal/portal"
	"github.com/jmylchreest/senave-registros/internal/report"
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List the report types offered by the portal",
	Long: `Fetch the portal form without a browser and list the options of its
report-type control. Codes senave knows how to download are marked.`,
	Args: cobra.NoArgs,
	RunE: runOptions,
}

func init() {
	rootCmd.AddCommand(optionsCmd)

	flags := optionsCmd.Flags()
	flags.String("portal-url", browser.PortalURL, "portal form URL")
	flags.Duration("nav-timeout", browser.DefaultConfig().NavigationTimeout, "request timeout")
	flags.StringP("format", "f", "table", "output format: table, json, jsonl, yaml")
}

type optionRow struct {
	portal.Option `yaml:",inline"`
	Report        string `json:"report,omitempty" yaml:"report,omitempty"`
}

func runOptions(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{
		"portal-url":  config.KeyPortalURL,
		"nav-timeout": config.KeyNavTimeout,
	}); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := portal.NewClient(viper.GetString(config.KeyPortalURL))
	client.Timeout = viper.GetDuration(config.KeyNavTimeout)

	opts, err := client.Options(ctx)
	if err != nil {
		return err
	}

	rows := make([]optionRow, 0, len(opts))
	for _, o := range opts {
		row := optionRow{Option: o}
		if t, err := report.Parse(o.Value); err == nil {
			row.Report = t.Name()
		}
		rows = append(rows, row)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "table" {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "CODE\tLABEL\tREPORT")
		for _, r := range rows {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Value, r.Label, r.Report)
		}
		return tw.Flush()
	}

	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	w, err := output.NewWriter(cmd.OutOrStdout(), f)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Close()
}
