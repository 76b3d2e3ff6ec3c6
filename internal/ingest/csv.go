// Package ingest reads light curves and prior files from disk and writes
// simulated light curves back out.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"gonum.org/v1/gonum/stat"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

// Column names written by WriteObservationCSV.
const (
	ColTime    = "time"
	ColFlux    = "flux"
	ColFluxErr = "flux_err"
	ColAirmass = "airmass"
)

var columnAliases = map[string]string{
	"time": ColTime, "t": ColTime, "bjd": ColTime, "bjd_tdb": ColTime, "hjd": ColTime, "jd": ColTime, "mjd": ColTime,
	"flux": ColFlux, "rel_flux": ColFlux, "f": ColFlux,
	"flux_err": ColFluxErr, "err": ColFluxErr, "error": ColFluxErr, "sigma": ColFluxErr, "flux_error": ColFluxErr, "e_flux": ColFluxErr,
	"airmass": ColAirmass, "am": ColAirmass,
}

// CSVOptions configures ReadObservationCSV.
type CSVOptions struct {
	Charset   string // IANA/WHATWG name such as "windows-1252"; empty means UTF-8
	Delimiter rune   // default ','
	Normalize bool   // divide flux and flux_err by the median flux
}

// ReadObservationFile opens path and parses it with ReadObservationCSV.
func ReadObservationFile(ctx context.Context, path string, opts CSVOptions) (*model.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	obs, err := ReadObservationCSV(ctx, f, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return obs, nil
}

// ReadObservationCSV parses a light curve with columns time, flux, flux_err
// and optional airmass. A header row is matched by name (case-insensitive,
// common aliases accepted); without one the columns are taken in that order.
// Lines starting with '#' are skipped. Rows are sorted by time and duplicate
// timestamps are rejected.
func ReadObservationCSV(ctx context.Context, r io.Reader, opts CSVOptions) (*model.Observation, error) {
	if opts.Charset != "" {
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return nil, fiterr.NewConfigError("charset", fmt.Sprintf("unsupported charset %q", opts.Charset))
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}

	var (
		cols   map[string]int
		rows   []row
		line   int
		hasAir bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ingest: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read row")
		}
		line++
		if isBlank(record) {
			continue
		}

		if cols == nil {
			var header bool
			cols, header, err = detectColumns(record)
			if err != nil {
				return nil, err
			}
			_, hasAir = cols[ColAirmass]
			if header {
				continue
			}
		}

		rw, err := parseRow(record, cols, hasAir)
		if err != nil {
			return nil, fiterr.NewConfigError("observation", fmt.Sprintf("line %d: %v", line, err))
		}
		rows = append(rows, rw)
	}
	if len(rows) == 0 {
		return nil, fiterr.NewConfigError("observation", "no data rows")
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		switch {
		case a.time < b.time:
			return -1
		case a.time > b.time:
			return 1
		}
		return 0
	})
	for i := 1; i < len(rows); i++ {
		if rows[i].time == rows[i-1].time {
			return nil, fiterr.NewConfigError("observation", fmt.Sprintf("duplicate timestamp %v", rows[i].time))
		}
	}

	n := len(rows)
	times, flux, fluxErr := make([]float64, n), make([]float64, n), make([]float64, n)
	var airmass []float64
	if hasAir {
		airmass = make([]float64, n)
	}
	for i, rw := range rows {
		times[i], flux[i], fluxErr[i] = rw.time, rw.flux, rw.fluxErr
		if hasAir {
			airmass[i] = rw.airmass
		}
	}

	if opts.Normalize {
		med := median(flux)
		if !(med > 0) {
			return nil, fiterr.NewConfigError("observation", fmt.Sprintf("cannot normalise by median flux %g", med))
		}
		for i := range flux {
			flux[i] /= med
			fluxErr[i] /= med
		}
		zap.L().Debug("ingest: normalised flux", zap.Float64("median", med))
	}

	return model.NewObservation(times, flux, fluxErr, airmass)
}

// WriteObservationCSV writes obs with a header row. The airmass column is
// included only when present.
func WriteObservationCSV(w io.Writer, obs *model.Observation) error {
	cw := csv.NewWriter(w)
	header := []string{ColTime, ColFlux, ColFluxErr}
	if obs.HasAirmass() {
		header = append(header, ColAirmass)
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "ingest: write header")
	}

	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	times, flux, fluxErr, air := obs.Times(), obs.Flux(), obs.FluxErr(), obs.Airmass()
	record := make([]string, len(header))
	for i := range times {
		record[0], record[1], record[2] = format(times[i]), format(flux[i]), format(fluxErr[i])
		if air != nil {
			record[3] = format(air[i])
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrapf(err, "ingest: write row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "ingest: flush")
}

type row struct {
	time, flux, fluxErr, airmass float64
}

// detectColumns maps column roles to indices. It reports header=false when
// the first record is numeric data.
func detectColumns(record []string) (map[string]int, bool, error) {
	if _, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64); err == nil {
		if len(record) < 3 {
			return nil, false, fiterr.NewConfigError("observation", "need at least time, flux and flux_err columns")
		}
		cols := map[string]int{ColTime: 0, ColFlux: 1, ColFluxErr: 2}
		if len(record) > 3 {
			cols[ColAirmass] = 3
		}
		return cols, false, nil
	}

	cols := make(map[string]int, 4)
	for i, name := range record {
		role, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		if _, dup := cols[role]; dup {
			return nil, true, fiterr.NewConfigError("observation", fmt.Sprintf("more than one %s column", role))
		}
		cols[role] = i
	}
	for _, role := range []string{ColTime, ColFlux, ColFluxErr} {
		if _, ok := cols[role]; !ok {
			return nil, true, fiterr.NewConfigError("observation", fmt.Sprintf("missing %s column in header %v", role, record))
		}
	}
	return cols, true, nil
}

func parseRow(record []string, cols map[string]int, hasAir bool) (row, error) {
	get := func(role string) (float64, error) {
		i := cols[role]
		if i >= len(record) {
			return 0, eris.Errorf("missing %s value", role)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return 0, eris.Wrap(err, role)
		}
		return v, nil
	}

	var rw row
	var err error
	if rw.time, err = get(ColTime); err != nil {
		return row{}, err
	}
	if rw.flux, err = get(ColFlux); err != nil {
		return row{}, err
	}
	if rw.fluxErr, err = get(ColFluxErr); err != nil {
		return row{}, err
	}
	if hasAir {
		if rw.airmass, err = get(ColAirmass); err != nil {
			return row{}, err
		}
	}
	return rw, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func median(x []float64) float64 {
	s := slices.Clone(x)
	slices.Sort(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}
