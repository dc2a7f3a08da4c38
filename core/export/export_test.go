package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io/ioutil"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/data"
	"github.com/flare-portal/flare/core/experiment"
	"github.com/flare-portal/flare/core/module"
	"github.com/flare-portal/flare/core/participant"
)

type fixture struct {
	svc          Service
	modules      module.Service
	participants participant.Service
	data         data.Service
	exp          experiment.Experiment
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tx := core.NewTransactorMock()
	modReg := module.NewDefaultRegistry()
	modules := module.NewService(module.NewRepositoryMock(), modReg, tx, core.NewCacheMock())
	participants := participant.NewService(participant.NewRepositoryMock())
	dataSvc := data.NewService(data.NewRepositoryMock(), data.NewDefaultRegistry(modReg), modules, participants, tx)
	return fixture{
		svc:          NewService(modules, dataSvc),
		modules:      modules,
		participants: participants,
		data:         dataSvc,
		exp:          experiment.Experiment{ID: 1, Code: "FEAR1"},
	}
}

func (f fixture) submit(t *testing.T, kind module.Kind, body string) {
	t.Helper()
	entry, ok := f.data.Registry().Get(kind)
	require.True(t, ok)
	sub, err := entry.DecodeSubmission([]byte(body))
	require.NoError(t, err)
	_, err = f.data.Submit(context.Background(), entry, sub)
	require.NoError(t, err)
}

func readCSV(t *testing.T, raw []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestFilenames(t *testing.T) {
	at := time.Date(2021, 2, 3, 4, 5, 6, 0, time.FixedZone("BST", 3600))
	exp := experiment.Experiment{Code: "FEAR1"}
	entry, _ := data.NewDefaultRegistry(module.NewDefaultRegistry()).Get(module.USUnpleasantness)

	assert.Equal(t, "FEAR1-2021-02-03-030506-us-unpleasantness.csv", CSVFilename(exp, entry, at))
	assert.Equal(t, "FEAR1-2021-02-03-030506.zip", ZIPFilename(exp, at))
}

func TestService_WriteCSV(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mod, err := f.modules.Create(ctx, f.exp.ID, module.FearConditioning, "Day 1", &module.FearConditioningSettings{
		Phase: module.PhaseAcquisition, TrialsPerStimulus: 2, ReinforcementRate: 1,
	})
	require.NoError(t, err)
	p, err := f.participants.Create(ctx, f.exp.ID, participant.NewParticipant{ParticipantID: "Flare.ABCDEF"})
	require.NoError(t, err)
	_, err = f.participants.Start(ctx, p)
	require.NoError(t, err)

	f.submit(t, module.FearConditioning, fmt.Sprintf(`{
		"participant": "Flare.ABCDEF", "module": %d, "trial": 1, "rating": 4,
		"conditional_stimulus": "CS+", "unconditional_stimulus": true,
		"trial_started_at": "2021-01-01T10:00:00Z", "volume_level": 0.5,
		"calibrated_volume_level": 0.25, "headphones": true
	}`, mod.ID))
	f.submit(t, module.FearConditioning, fmt.Sprintf(`{
		"participant": "Flare.ABCDEF", "module": %d, "trial": 2,
		"conditional_stimulus": "CS, with comma", "trial_started_at": "2021-01-01T10:00:05Z"
	}`, mod.ID))

	entry, _ := f.data.Registry().Get(module.FearConditioning)
	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteCSV(ctx, &buf, f.exp, entry))

	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 3)
	assert.Equal(t, []string{
		"experiment_id", "experiment_code", "module_type", "module_id", "module_label", "participant_id", "phase",
		"trial", "rating", "conditional_stimulus", "unconditional_stimulus", "trial_started_at",
		"response_recorded_at", "volume_level", "calibrated_volume_level", "headphones",
		"did_leave_iti", "did_leave_task",
	}, records[0])
	modID := fmt.Sprint(mod.ID)
	assert.Equal(t, []string{
		"1", "FEAR1", "FEAR_CONDITIONING", modID, "Day 1", "Flare.ABCDEF", "acquisition",
		"1", "4", "CS+", "True", "2021-01-01T10:00:00Z", "", "0.5", "0.25", "True", "False", "False",
	}, records[1])
	assert.Equal(t, "CS, with comma", records[2][9])
	assert.Equal(t, "", records[2][8], "no rating")
}

func TestService_WriteZIP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mod, err := f.modules.Create(ctx, f.exp.ID, module.USUnpleasantness, "", &module.USUnpleasantnessSettings{AudibleKeyword: "scream"})
	require.NoError(t, err)
	p, err := f.participants.Create(ctx, f.exp.ID, participant.NewParticipant{ParticipantID: "p1"})
	require.NoError(t, err)
	_, err = f.participants.Start(ctx, p)
	require.NoError(t, err)
	f.submit(t, module.USUnpleasantness, fmt.Sprintf(`{"participant": "p1", "module": %d, "rating": 9}`, mod.ID))

	at := time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteZIP(ctx, &buf, f.exp, at))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	entries := f.data.Registry().Entries()
	require.Len(t, zr.File, len(entries))

	files := make(map[string][][]string)
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		raw, err := ioutil.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[zf.Name] = readCSV(t, raw)
	}

	for _, entry := range entries {
		name := CSVFilename(f.exp, entry, at)
		records, ok := files[name]
		require.True(t, ok, name)
		assert.Equal(t, f.svc.Columns(entry), records[0])
		if entry.ModuleKind == module.USUnpleasantness {
			require.Len(t, records, 2)
			assert.Equal(t, "9", records[1][len(records[1])-1])
		} else {
			assert.Len(t, records, 1, "header only for %s", name)
		}
	}
}
