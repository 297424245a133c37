package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeWorkbook(t *testing.T, path string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "excel_prod-1.xlsx")
	dst := filepath.Join(dir, "fitosanitarios.csv")
	writeWorkbook(t, src, [][]any{
		{"Registro", "Producto"},
		{"001", "Glifosato 48"},
	})

	if _, err := execute(t, "convert", src, dst, "--keep-source", "--delimiter", ";"); err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "Registro;Producto\n001;Glifosato 48\n"; got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source should be kept with --keep-source")
	}
}

func TestConvertCommand_BadDelimiter(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "convert", filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "a.csv"), "--delimiter", "::")
	if err == nil || !strings.Contains(err.Error(), "delimiter") {
		t.Errorf("expected delimiter error, got %v", err)
	}
	_ = convertCmd.Flags().Set("delimiter", ",")
}

func TestConvertCommand_Args(t *testing.T) {
	if _, err := execute(t, "convert", "only-one.xlsx"); err == nil {
		t.Error("expected error for missing DST")
	}
}

func TestVersionCommand_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version output is not JSON: %v (%q)", err, out)
	}
	if _, ok := info["version"]; !ok {
		t.Errorf("missing version key in %v", info)
	}
}

func TestDownloadCommand_InvalidConfig(t *testing.T) {
	_, err := execute(t, "download", "--report", "M")
	if err == nil || !strings.Contains(err.Error(), "unknown report type") {
		t.Errorf("expected unknown report error, got %v", err)
	}
}
