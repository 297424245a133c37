package commands

import (
	"fmt"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/senave-registros/internal/convert"
	"github.com/jmylchreest/senave-registros/internal/logger"
)

var convertCmd = &cobra.Command{
	Use:   "convert SRC DST",
	Short: "Convert a downloaded spreadsheet to CSV",
	Long: `Convert the first sheet of an xlsx workbook to CSV.

The CSV is written to a temporary file next to DST and renamed into place,
so DST is either the previous file or the complete new one. SRC is deleted
after a successful conversion unless --keep-source is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	flags := convertCmd.Flags()
	flags.Bool("keep-source", false, "keep SRC after conversion")
	flags.String("delimiter", ",", "CSV field delimiter")
}

func runConvert(cmd *cobra.Command, args []string) error {
	keep, _ := cmd.Flags().GetBool("keep-source")
	delim, _ := cmd.Flags().GetString("delimiter")
	if utf8.RuneCountInString(delim) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", delim)
	}
	r, _ := utf8.DecodeRuneInString(delim)

	c := &convert.Converter{Delimiter: r}
	res, err := c.Convert(args[0], args[1], !keep)
	if err != nil {
		return err
	}

	logger.Info("converted spreadsheet",
		"source", res.Source,
		"destination", res.Destination,
		"sheet", res.Sheet,
		"rows", res.Rows,
		"columns", res.Columns,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"source_removed", res.SourceRemoved)
	return nil
}
