package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/jmylchreest/senave-registros/internal/browser"
	"github.com/jmylchreest/senave-registros/internal/convert"
	"github.com/jmylchreest/senave-registros/internal/download"
	"github.com/jmylchreest/senave-registros/internal/report"
)

// fakeAcquirer stands in for the portal: it saves a 3-row, 2-column
// workbook as excel_prod-XYZ.xlsx in dir.
type fakeAcquirer struct {
	dir      string
	failOn   report.Type
	err      error
	calls    []report.Type
	released []string
}

func (f *fakeAcquirer) Acquire(_ context.Context, t report.Type) (string, error) {
	f.calls = append(f.calls, t)
	if t == f.failOn {
		return "", f.err
	}

	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)
	rows := [][]any{
		{"Nombre", "Registro"},
		{t.Name() + "-1", "001"},
		{t.Name() + "-2", "002"},
		{t.Name() + "-3", "003"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return "", err
		}
	}
	path := filepath.Join(f.dir, "excel_prod-XYZ.xlsx")
	return path, wb.SaveAs(path)
}

func (f *fakeAcquirer) Release(path string) error {
	f.released = append(f.released, path)
	return nil
}

type fakeVerifier struct {
	err   error
	calls int
}

func (v *fakeVerifier) Verify(context.Context, []report.Type) error {
	v.calls++
	return v.err
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	return records
}

func TestRun_Phytosanitary_EndToEnd(t *testing.T) {
	dlDir, outDir := t.TempDir(), t.TempDir()
	acq := &fakeAcquirer{dir: dlDir}
	r := &Runner{
		Acquirer:  acq,
		Converter: convert.New(),
		Targets:   report.DefaultTargets(outDir),
	}

	results, err := r.Run(context.Background(), []report.Type{report.Phytosanitary})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	out := filepath.Join(outDir, "fitosanitarios.csv")
	records := readCSV(t, out)
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d records", len(records))
	}
	if strings.Join(records[0], ",") != "Nombre,Registro" {
		t.Errorf("header = %v", records[0])
	}
	for _, rec := range records {
		if len(rec) != 2 {
			t.Errorf("record %v has %d columns, want 2", rec, len(rec))
		}
	}

	if _, err := os.Stat(filepath.Join(dlDir, "excel_prod-XYZ.xlsx")); !os.IsNotExist(err) {
		t.Error("source spreadsheet should be removed after conversion")
	}
	if len(acq.released) != 1 {
		t.Errorf("expected download location to be released once, got %v", acq.released)
	}

	res := results[0]
	if res.Report != "fitosanitarios" || res.Code != "P" || res.Rows != 3 || res.Columns != 2 || !res.SourceRemoved {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Destination != out {
		t.Errorf("Destination = %q, want %q", res.Destination, out)
	}
}

func TestRun_BothReportsInOrder(t *testing.T) {
	acq := &fakeAcquirer{dir: t.TempDir()}
	outDir := t.TempDir()

	var recorded []string
	r := &Runner{
		Acquirer:  acq,
		Converter: convert.New(),
		Targets:   report.DefaultTargets(outDir),
		OnResult: func(res Result) error {
			recorded = append(recorded, res.Report)
			return nil
		},
	}

	if _, err := r.Run(context.Background(), report.All); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(acq.calls) != 2 || acq.calls[0] != report.Phytosanitary || acq.calls[1] != report.Fertilizer {
		t.Errorf("acquisition order = %v", acq.calls)
	}
	if strings.Join(recorded, ",") != "fitosanitarios,fertilizantes" {
		t.Errorf("recorded = %v", recorded)
	}

	fert := readCSV(t, filepath.Join(outDir, "fertilizantes.csv"))
	if fert[1][0] != "fertilizantes-1" {
		t.Errorf("fertilizer output has wrong content: %v", fert[1])
	}
}

func TestRun_KeepSource(t *testing.T) {
	dlDir := t.TempDir()
	acq := &fakeAcquirer{dir: dlDir}
	r := &Runner{
		Acquirer:   acq,
		Converter:  convert.New(),
		Targets:    report.DefaultTargets(t.TempDir()),
		KeepSource: true,
	}

	if _, err := r.Run(context.Background(), []report.Type{report.Fertilizer}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dlDir, "excel_prod-XYZ.xlsx")); err != nil {
		t.Errorf("source should be kept: %v", err)
	}
	if len(acq.released) != 0 {
		t.Error("download location must not be released while the source is kept")
	}
}

func TestRun_FailureStopsRemainingReports(t *testing.T) {
	acq := &fakeAcquirer{
		dir:    t.TempDir(),
		failOn: report.Phytosanitary,
		err:    download.ErrAmbiguousOrMissingDownload,
	}
	outDir := t.TempDir()
	r := &Runner{
		Acquirer:  acq,
		Converter: convert.New(),
		Targets:   report.DefaultTargets(outDir),
	}

	results, err := r.Run(context.Background(), report.All)
	if !errors.Is(err, download.ErrAmbiguousOrMissingDownload) {
		t.Fatalf("expected ErrAmbiguousOrMissingDownload, got %v", err)
	}
	if !strings.Contains(err.Error(), "fitosanitarios") {
		t.Errorf("error should name the report: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
	if len(acq.calls) != 1 {
		t.Errorf("fertilizer report should not be attempted, calls = %v", acq.calls)
	}
	if _, err := os.Stat(filepath.Join(outDir, "fertilizantes.csv")); !os.IsNotExist(err) {
		t.Error("no output should exist for the skipped report")
	}
}

func TestRun_ConvertFailureKeepsSource(t *testing.T) {
	dlDir := t.TempDir()
	acq := &fakeAcquirer{dir: dlDir}
	r := &Runner{
		Acquirer:  acq,
		Converter: convert.New(),
		Targets:   report.Targets{report.Phytosanitary: filepath.Join(t.TempDir(), "missing", "out.csv")},
	}

	_, err := r.Run(context.Background(), []report.Type{report.Phytosanitary})
	if !errors.Is(err, convert.ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dlDir, "excel_prod-XYZ.xlsx")); err != nil {
		t.Error("source must survive a failed conversion")
	}
}

func TestRun_MissingTargetFailsBeforeAcquire(t *testing.T) {
	acq := &fakeAcquirer{dir: t.TempDir()}
	r := &Runner{
		Acquirer:  acq,
		Converter: convert.New(),
		Targets:   report.Targets{report.Phytosanitary: filepath.Join(t.TempDir(), "fito.csv")},
	}

	if _, err := r.Run(context.Background(), report.All); err == nil {
		t.Fatal("expected error for missing fertilizer target")
	}
	if len(acq.calls) != 0 {
		t.Errorf("no acquisition should start, calls = %v", acq.calls)
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	acq := &fakeAcquirer{dir: t.TempDir()}
	v := &fakeVerifier{err: browser.ErrNavigation}
	r := &Runner{
		Acquirer:  acq,
		Converter: convert.New(),
		Targets:   report.DefaultTargets(t.TempDir()),
		Preflight: v,
	}

	_, err := r.Run(context.Background(), report.All)
	if !errors.Is(err, browser.ErrNavigation) {
		t.Fatalf("expected ErrNavigation, got %v", err)
	}
	if v.calls != 1 || len(acq.calls) != 0 {
		t.Errorf("verifier calls = %d, acquire calls = %v", v.calls, acq.calls)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acq := &fakeAcquirer{dir: t.TempDir()}
	r := &Runner{
		Acquirer:  acq,
		Converter: convert.New(),
		Targets:   report.DefaultTargets(t.TempDir()),
	}
	if _, err := r.Run(ctx, report.All); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(acq.calls) != 0 {
		t.Error("no acquisition should start on a cancelled context")
	}
}

func TestRun_OnResultError(t *testing.T) {
	r := &Runner{
		Acquirer:  &fakeAcquirer{dir: t.TempDir()},
		Converter: convert.New(),
		Targets:   report.DefaultTargets(t.TempDir()),
		OnResult:  func(Result) error { return errors.New("disk full") },
	}
	if _, err := r.Run(context.Background(), report.All); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected OnResult error, got %v", err)
	}
}

func TestRun_RequiresCollaborators(t *testing.T) {
	if _, err := (&Runner{}).Run(context.Background(), report.All); err == nil {
		t.Error("expected error without acquirer and converter")
	}
	r := &Runner{Acquirer: &fakeAcquirer{}, Converter: convert.New()}
	if _, err := r.Run(context.Background(), nil); err == nil {
		t.Error("expected error for empty report list")
	}
}
