// Package export writes the participant data of an experiment as CSV files, one per data kind, or as a ZIP of them.
package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/data"
	"github.com/flare-portal/flare/core/experiment"
	"github.com/flare-portal/flare/core/module"
)

// TimestampLayout formats the UTC export time in file names.
const TimestampLayout = "2006-01-02-150405"

var baseColumns = []string{
	"experiment_id", "experiment_code", "module_type", "module_id", "module_label", "participant_id",
}

type (
	Service interface {
		// Columns returns the CSV header of a data kind.
		Columns(entry data.Entry) []string
		WriteCSV(ctx context.Context, w io.Writer, exp experiment.Experiment, entry data.Entry) error
		// WriteZIP writes a CSV file for every data kind, including kinds without data.
		WriteZIP(ctx context.Context, w io.Writer, exp experiment.Experiment, at time.Time) error
	}

	service struct {
		modules module.Service
		data    data.Service
	}
)

var _ Service = (*service)(nil)

func NewService(modules module.Service, dataSvc data.Service) Service {
	return &service{modules: modules, data: dataSvc}
}

// CSVFilename is the name of the CSV export of a data kind: `{code}-{timestamp}-{module slug}.csv`.
func CSVFilename(exp experiment.Experiment, entry data.Entry, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s.csv", exp.Code, at.UTC().Format(TimestampLayout), entry.ModuleNames.Slug)
}

// ZIPFilename is the name of the full export of an experiment: `{code}-{timestamp}.zip`.
func ZIPFilename(exp experiment.Experiment, at time.Time) string {
	return fmt.Sprintf("%s-%s.zip", exp.Code, at.UTC().Format(TimestampLayout))
}

func hasPhase(entry data.Entry) bool {
	return entry.ModuleKind == module.FearConditioning
}

func (svc *service) Columns(entry data.Entry) []string {
	cols := append([]string{}, baseColumns...)
	if hasPhase(entry) {
		cols = append(cols, "phase")
	}
	return append(cols, entry.NewPayload().Columns()...)
}

func (svc *service) WriteCSV(ctx context.Context, w io.Writer, exp experiment.Experiment, entry data.Entry) error {
	mods, err := svc.modules.Query(ctx, exp.ID)
	if err != nil {
		return errors.Wrap(err, "querying modules")
	}
	modsByID := make(map[int]module.Module, len(mods))
	for _, m := range mods {
		modsByID[m.ID] = m
	}

	rows, err := svc.data.Query(ctx, data.QueryFilter{ExperimentID: exp.ID, Kind: entry.ModuleKind})
	if err != nil {
		return errors.Wrap(err, "querying data")
	}

	cw := csv.NewWriter(w)
	if err = cw.Write(svc.Columns(entry)); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for _, d := range rows {
		mod := modsByID[d.ModuleID]
		record := []string{
			strconv.Itoa(exp.ID),
			exp.Code,
			mod.Kind.Tag(),
			strconv.Itoa(d.ModuleID),
			mod.Label,
			d.Participant,
		}
		if hasPhase(entry) {
			var phase string
			if s, ok := mod.Settings.(*module.FearConditioningSettings); ok {
				phase = s.Phase
			}
			record = append(record, phase)
		}
		record = append(record, d.Payload.Values()...)
		if err = cw.Write(record); err != nil {
			return errors.Wrapf(err, "writing data %d", d.ID)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}

func (svc *service) WriteZIP(ctx context.Context, w io.Writer, exp experiment.Experiment, at time.Time) error {
	zw := zip.NewWriter(w)
	for _, entry := range svc.data.Registry().Entries() {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     CSVFilename(exp, entry, at),
			Method:   zip.Deflate,
			Modified: at.UTC(),
		})
		if err != nil {
			return errors.Wrapf(err, "adding %s", entry.Names.Slug)
		}
		if err = svc.WriteCSV(ctx, fw, exp, entry); err != nil {
			return errors.Wrapf(err, "exporting %s", entry.Names.Slug)
		}
	}
	return errors.Wrap(zw.Close(), "closing zip")
}
