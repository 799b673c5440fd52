package ingestor

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neocontroller/internal/apperr"
	jobmodel "neocontroller/internal/model/job"
	resultmodel "neocontroller/internal/model/result"
)

type fakeJobRepo struct {
	byID map[string]*jobmodel.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{byID: map[string]*jobmodel.Job{}} }

func (f *fakeJobRepo) Create(ctx context.Context, j *jobmodel.Job) error           { return nil }
func (f *fakeJobRepo) CreateBatch(ctx context.Context, jobs []*jobmodel.Job) error { return nil }
func (f *fakeJobRepo) GetByJobID(ctx context.Context, jobID string) (*jobmodel.Job, error) {
	j, ok := f.byID[jobID]
	if !ok {
		return nil, nil
	}
	return j, nil
}
func (f *fakeJobRepo) NextQueued(ctx context.Context, agentID string, limit int) ([]*jobmodel.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) Claim(ctx context.Context, jobID string, visibleUntil time.Time) (bool, error) {
	return false, nil
}
func (f *fakeJobRepo) MarkRunning(ctx context.Context, jobID string) (bool, error) {
	return false, nil
}
func (f *fakeJobRepo) MarkTerminal(ctx context.Context, jobID string, status jobmodel.JobStatus, failReason string) (bool, error) {
	return false, nil
}
func (f *fakeJobRepo) ListExpired(ctx context.Context, now time.Time) ([]*jobmodel.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) ListStaleQueued(ctx context.Context, cutoff time.Time) ([]*jobmodel.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) CancelByScan(ctx context.Context, scanID string) (int64, error) {
	return 0, nil
}
func (f *fakeJobRepo) CancelByAgent(ctx context.Context, agentID string) (int64, error) {
	return 0, nil
}
func (f *fakeJobRepo) Requeue(ctx context.Context, jobID string) (bool, error) { return false, nil }
func (f *fakeJobRepo) CountByScan(ctx context.Context, scanID string) (total, terminal, succeeded, failed int64, err error) {
	return 0, 0, 0, 0, nil
}
func (f *fakeJobRepo) ListByScan(ctx context.Context, scanID string) ([]*jobmodel.Job, error) {
	return nil, nil
}

type fakeResultRepo struct {
	created []*resultmodel.Result
	batches map[string]bool
}

func (f *fakeResultRepo) CreateBatch(ctx context.Context, results []*resultmodel.Result) error {
	f.created = append(f.created, results...)
	return nil
}
func (f *fakeResultRepo) RecordBatch(ctx context.Context, jobID string, batchSequence int64, resultCount int) (bool, error) {
	if f.batches == nil {
		f.batches = map[string]bool{}
	}
	key := jobID + ":" + strconv.FormatInt(batchSequence, 10)
	if f.batches[key] {
		return false, nil
	}
	f.batches[key] = true
	return true, nil
}
func (f *fakeResultRepo) ListByScan(ctx context.Context, scanID string, offset, limit int) ([]*resultmodel.Result, int64, error) {
	return f.created, int64(len(f.created)), nil
}
func (f *fakeResultRepo) ListByJob(ctx context.Context, jobID string) ([]*resultmodel.Result, error) {
	return nil, nil
}

func validInput() ResultInput {
	return ResultInput{
		NVTOID:   "1.3.6.1.4.1.25623.1.0.10662",
		NVTName:  "Some check",
		Severity: 7.5,
		Host:     "10.0.0.5",
		Threat:   "High",
		QOD:      80,
	}
}

func TestIngest_RejectsWholeBatchOnMalformedOID(t *testing.T) {
	jobs := newFakeJobRepo()
	jobs.byID["job-1"] = &jobmodel.Job{JobID: "job-1", AgentID: "agent-1", Status: jobmodel.JobStatusRunning}
	results := &fakeResultRepo{}
	svc := NewService(jobs, results)

	bad := validInput()
	bad.NVTOID = "not-an-oid"

	n, err := svc.Ingest(context.Background(), IngestRequest{
		JobID:   "job-1",
		AgentID: "agent-1",
		Results: []ResultInput{validInput(), bad},
	})
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, results.created)
}

func TestIngest_RejectsWholeBatchOnUnknownThreatLevel(t *testing.T) {
	jobs := newFakeJobRepo()
	jobs.byID["job-1"] = &jobmodel.Job{JobID: "job-1", AgentID: "agent-1", Status: jobmodel.JobStatusRunning}
	results := &fakeResultRepo{}
	svc := NewService(jobs, results)

	bad := validInput()
	bad.Threat = "Severe"

	_, err := svc.Ingest(context.Background(), IngestRequest{
		JobID:   "job-1",
		AgentID: "agent-1",
		Results: []ResultInput{bad},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrValidation.Code, appErr.Code)
}

func TestIngest_RejectsJobBelongingToOtherAgent(t *testing.T) {
	jobs := newFakeJobRepo()
	jobs.byID["job-1"] = &jobmodel.Job{JobID: "job-1", AgentID: "agent-1", Status: jobmodel.JobStatusRunning}
	svc := NewService(jobs, &fakeResultRepo{})

	_, err := svc.Ingest(context.Background(), IngestRequest{
		JobID:   "job-1",
		AgentID: "agent-2",
		Results: []ResultInput{validInput()},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrForbidden.Code, appErr.Code)
}

func TestIngest_RejectsAlreadyTerminalJob(t *testing.T) {
	jobs := newFakeJobRepo()
	jobs.byID["job-1"] = &jobmodel.Job{JobID: "job-1", AgentID: "agent-1", Status: jobmodel.JobStatusSucceeded}
	svc := NewService(jobs, &fakeResultRepo{})

	_, err := svc.Ingest(context.Background(), IngestRequest{
		JobID:   "job-1",
		AgentID: "agent-1",
		Results: []ResultInput{validInput()},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrConflict.Code, appErr.Code)
}

func TestIngest_WritesFullBatchWhenAllValid(t *testing.T) {
	jobs := newFakeJobRepo()
	jobs.byID["job-1"] = &jobmodel.Job{JobID: "job-1", ScanID: "scan-1", AgentID: "agent-1", Status: jobmodel.JobStatusRunning}
	results := &fakeResultRepo{}
	svc := NewService(jobs, results)

	n, err := svc.Ingest(context.Background(), IngestRequest{
		JobID:         "job-1",
		AgentID:       "agent-1",
		BatchSequence: 1,
		Results:       []ResultInput{validInput(), validInput()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, results.created, 2)
	assert.Equal(t, "scan-1", results.created[0].ScanID)
}

func TestIngest_ResubmittingSameBatchSequenceIsIdempotent(t *testing.T) {
	jobs := newFakeJobRepo()
	jobs.byID["job-1"] = &jobmodel.Job{JobID: "job-1", ScanID: "scan-1", AgentID: "agent-1", Status: jobmodel.JobStatusRunning}
	results := &fakeResultRepo{}
	svc := NewService(jobs, results)

	req := IngestRequest{JobID: "job-1", AgentID: "agent-1", BatchSequence: 1, Results: []ResultInput{validInput()}}

	n1, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, n1)

	n2, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, n2, "replaying the same batch_sequence must not persist a duplicate")
	assert.Len(t, results.created, 1)
}

func TestIngest_RejectsCanceledJobAsNotFound(t *testing.T) {
	jobs := newFakeJobRepo()
	jobs.byID["job-1"] = &jobmodel.Job{JobID: "job-1", AgentID: "agent-1", Status: jobmodel.JobStatusCanceled}
	svc := NewService(jobs, &fakeResultRepo{})

	_, err := svc.Ingest(context.Background(), IngestRequest{
		JobID:         "job-1",
		AgentID:       "agent-1",
		BatchSequence: 1,
		Results:       []ResultInput{validInput()},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrNotFound.Code, appErr.Code)
}
