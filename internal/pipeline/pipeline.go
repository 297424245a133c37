// Package pipeline runs acquire-then-convert for each requested report,
// one report at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/senave-registros/internal/convert"
	"github.com/jmylchreest/senave-registros/internal/logger"
	"github.com/jmylchreest/senave-registros/internal/report"
)

// Acquirer exports a report and returns the path of the spreadsheet.
type Acquirer interface {
	Acquire(ctx context.Context, t report.Type) (string, error)
}

// Releaser is implemented by acquirers that own the download location and
// can clean it up once the spreadsheet has been consumed.
type Releaser interface {
	Release(path string) error
}

// Converter turns a spreadsheet into delimited text.
type Converter interface {
	Convert(src, dst string, removeSource bool) (convert.Result, error)
}

// Verifier checks the portal before any browser is launched.
type Verifier interface {
	Verify(ctx context.Context, types []report.Type) error
}

// Result summarises one converted report.
type Result struct {
	Report        string `json:"report" yaml:"report"`
	Code          string `json:"code" yaml:"code"`
	Source        string `json:"source" yaml:"source"`
	Destination   string `json:"destination" yaml:"destination"`
	Rows          int    `json:"rows" yaml:"rows"`
	Columns       int    `json:"columns" yaml:"columns"`
	Bytes         int64  `json:"bytes" yaml:"bytes"`
	Size          string `json:"size" yaml:"size"`
	SourceRemoved bool   `json:"source_removed" yaml:"source_removed"`
	DurationMs    int64  `json:"duration_ms" yaml:"duration_ms"`
}

// Runner wires an acquirer to a converter.
type Runner struct {
	Acquirer  Acquirer
	Converter Converter
	Targets   report.Targets

	// KeepSource retains the downloaded spreadsheet after conversion.
	KeepSource bool

	// Preflight, when set, is consulted once before the first acquisition.
	Preflight Verifier

	// OnResult is called after each report completes.
	OnResult func(Result) error
}

// Run processes types in order. The first failure stops the run; reports
// after it are not attempted.
func (r *Runner) Run(ctx context.Context, types []report.Type) ([]Result, error) {
	if r.Acquirer == nil || r.Converter == nil {
		return nil, errors.New("pipeline requires an acquirer and a converter")
	}
	if len(types) == 0 {
		return nil, errors.New("no reports requested")
	}

	targets := make(map[report.Type]string, len(types))
	for _, t := range types {
		dst, err := r.Targets.Path(t)
		if err != nil {
			return nil, err
		}
		targets[t] = dst
	}

	if r.Preflight != nil {
		logger.Info("checking portal", "reports", len(types))
		if err := r.Preflight.Verify(ctx, types); err != nil {
			return nil, fmt.Errorf("preflight: %w", err)
		}
	}

	results := make([]Result, 0, len(types))
	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := r.runOne(ctx, t, targets[t])
		if err != nil {
			return results, fmt.Errorf("%s: %w", t, err)
		}
		results = append(results, res)

		if r.OnResult != nil {
			if err := r.OnResult(res); err != nil {
				return results, fmt.Errorf("%s: failed to record result: %w", t, err)
			}
		}
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, t report.Type, dst string) (Result, error) {
	start := time.Now()
	log := logger.With("report", t.Name(), "code", t.Code())
	log.Info("downloading report from SENAVE")

	src, err := r.Acquirer.Acquire(ctx, t)
	if err != nil {
		return Result{}, err
	}

	conv, err := r.Converter.Convert(src, dst, !r.KeepSource)
	if err != nil {
		return Result{}, err
	}

	if rel, ok := r.Acquirer.(Releaser); ok && conv.SourceRemoved {
		if err := rel.Release(src); err != nil {
			log.Warn("failed to release download location", "path", src, "error", err)
		}
	}

	res := Result{
		Report:        t.Name(),
		Code:          t.Code(),
		Source:        src,
		Destination:   dst,
		Rows:          conv.Rows,
		Columns:       conv.Columns,
		Bytes:         conv.Bytes,
		Size:          humanize.Bytes(uint64(conv.Bytes)),
		SourceRemoved: conv.SourceRemoved,
		DurationMs:    time.Since(start).Milliseconds(),
	}
	log.Info("report converted",
		"output", dst,
		"rows", res.Rows,
		"columns", res.Columns,
		"size", res.Size)
	return res, nil
}
