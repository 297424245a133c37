package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jmylchreest/senave-registros/internal/download"
	"github.com/jmylchreest/senave-registros/internal/report"
)

// These tests drive a real Chrome against a stub of the portal form. They
// are skipped when no Chrome binary is installed or with -short.

const stubForm = `<!DOCTYPE html>
<html><body>
<form>
  <select id="vPRO_TIPO" name="vPRO_TIPO">
    <option value="">Seleccione</option>
    <option value="P">Fitosanitarios</option>
    <option value="F">Fertilizantes</option>
  </select>
  <input type="button" name="BUTTON2" value="Exportar" onclick="%s">
</form>
</body></html>`

const exportOnClick = `window.location.href='/export?tipo='+document.getElementById('vPRO_TIPO').value`

func requireChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	path := FindChromePath()
	if path == "" {
		t.Skip("no Chrome binary found")
	}
	return path
}

func workbookBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newStubPortal serves the form at "/" and, when onclick is exportOnClick,
// an xlsx attachment at "/export".
func newStubPortal(t *testing.T, onclick string) (*httptest.Server, *string) {
	t.Helper()
	requested := new(string)
	xlsx := workbookBytes(t, [][]any{
		{"Producto", "Registro"},
		{"Glifosato", "1"},
		{"Atrazina", "2"},
		{"Urea", "3"},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, stubForm, onclick)
	})
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		*requested = r.URL.Query().Get("tipo")
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="excel_prod-XYZ.xlsx"`)
		_, _ = w.Write(xlsx)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, requested
}

func stubConfig(chrome, portal, dir string) Config {
	cfg := DefaultConfig()
	cfg.ExecPath = chrome
	cfg.PortalURL = portal
	cfg.DownloadDir = dir
	cfg.NavigationTimeout = 15 * time.Second
	cfg.ElementTimeout = 5 * time.Second
	cfg.DownloadTimeout = 20 * time.Second
	cfg.PollInterval = 100 * time.Millisecond
	return cfg
}

func TestAcquire_StubPortal_DownloadsSpreadsheet(t *testing.T) {
	chrome := requireChrome(t)
	srv, requested := newStubPortal(t, exportOnClick)
	dir := t.TempDir()

	s, err := New(stubConfig(chrome, srv.URL+"/", dir))
	if err != nil {
		t.Fatal(err)
	}

	path, err := s.Acquire(context.Background(), report.Phytosanitary)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if path != filepath.Join(dir, "fitosanitarios", "excel_prod-XYZ.xlsx") {
		t.Errorf("Acquire() = %q", path)
	}
	if *requested != "P" {
		t.Errorf("export requested with tipo=%q, want P", *requested)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("downloaded file is not a workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(f.GetSheetList()[0])
	if len(rows) != 4 {
		t.Errorf("downloaded workbook has %d rows, want 4", len(rows))
	}
}

func TestAcquire_StubPortal_NoDownload(t *testing.T) {
	chrome := requireChrome(t)
	srv, _ := newStubPortal(t, "return false")
	dir := t.TempDir()

	cfg := stubConfig(chrome, srv.URL+"/", dir)
	cfg.DownloadTimeout = 2 * time.Second

	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = s.Acquire(context.Background(), report.Fertilizer)
	if !errors.Is(err, download.ErrAmbiguousOrMissingDownload) {
		t.Fatalf("expected ErrAmbiguousOrMissingDownload, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Minute {
		t.Errorf("acquisition should fail after the download timeout, took %s", elapsed)
	}
}

func TestAcquire_StubPortal_MissingControl(t *testing.T) {
	chrome := requireChrome(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>Mantenimiento</p></body></html>")
	}))
	defer srv.Close()

	cfg := stubConfig(chrome, srv.URL+"/", t.TempDir())
	cfg.ElementTimeout = time.Second

	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Acquire(context.Background(), report.Phytosanitary)
	if !errors.Is(err, ErrElementTimeout) {
		t.Fatalf("expected ErrElementTimeout, got %v", err)
	}
}

func TestAcquire_StubPortal_ServerError(t *testing.T) {
	chrome := requireChrome(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New(stubConfig(chrome, srv.URL+"/", t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Acquire(context.Background(), report.Phytosanitary)
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("expected ErrNavigation, got %v", err)
	}
}

func TestAcquire_Unreachable_RemovesTempDir(t *testing.T) {
	chrome := requireChrome(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/"
	srv.Close()

	cfg := stubConfig(chrome, url, "")
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	before, _ := filepath.Glob(filepath.Join(os.TempDir(), "senave-fitosanitarios-*"))
	_, err = s.Acquire(context.Background(), report.Phytosanitary)
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("expected ErrNavigation, got %v", err)
	}
	after, _ := filepath.Glob(filepath.Join(os.TempDir(), "senave-fitosanitarios-*"))
	if len(after) > len(before) {
		t.Errorf("temporary download directory leaked: %v", after)
	}
}
