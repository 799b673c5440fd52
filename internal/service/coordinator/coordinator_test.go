package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neocontroller/internal/apperr"
	agentmodel "neocontroller/internal/model/agent"
	jobmodel "neocontroller/internal/model/job"
	scanmodel "neocontroller/internal/model/scan"
	agentrepo "neocontroller/internal/repo/mysql/agent"
)

type fakeAgentRepo struct {
	byID map[string]*agentmodel.Agent
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{byID: map[string]*agentmodel.Agent{}}
}

func (f *fakeAgentRepo) Create(ctx context.Context, a *agentmodel.Agent) error {
	f.byID[a.AgentID] = a
	return nil
}

func (f *fakeAgentRepo) GetByAgentID(ctx context.Context, agentID string) (*agentmodel.Agent, error) {
	a, ok := f.byID[agentID]
	if !ok {
		return nil, nil
	}
	return a, nil
}

func (f *fakeAgentRepo) List(ctx context.Context, filter agentrepo.ListFilter) ([]*agentmodel.Agent, int64, error) {
	var out []*agentmodel.Agent
	for _, a := range f.byID {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (f *fakeAgentRepo) UpdateDeclaredAttrs(ctx context.Context, agentID string, attrs agentrepo.DeclaredAttrs) error {
	return nil
}
func (f *fakeAgentRepo) UpdateHeartbeat(ctx context.Context, agentID string, at time.Time, configVersionSeen int64) error {
	return nil
}
func (f *fakeAgentRepo) UpdateStatus(ctx context.Context, agentID string, from, to agentmodel.AgentStatus) (bool, error) {
	return true, nil
}
func (f *fakeAgentRepo) ResetMissedHeartbeats(ctx context.Context, agentID string) error { return nil }
func (f *fakeAgentRepo) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*agentmodel.Agent, error) {
	return nil, nil
}
func (f *fakeAgentRepo) ListStaleOffline(ctx context.Context, cutoff time.Time) ([]*agentmodel.Agent, error) {
	return nil, nil
}
func (f *fakeAgentRepo) Tombstone(ctx context.Context, agentID string) error { return nil }
func (f *fakeAgentRepo) BulkSetAuthorized(ctx context.Context, agentIDs []string, authorized bool) (int64, error) {
	return 0, nil
}
func (f *fakeAgentRepo) BulkSetUpdateToLatest(ctx context.Context, agentIDs []string, updateToLatest bool) (int64, error) {
	return 0, nil
}
func (f *fakeAgentRepo) BulkTombstone(ctx context.Context, agentIDs []string) (int64, error) {
	return 0, nil
}

type fakeScanRepo struct {
	created  []*scanmodel.Scan
	started  map[string]bool
	finished map[string]scanmodel.ScanStatus
}

func newFakeScanRepo() *fakeScanRepo {
	return &fakeScanRepo{started: map[string]bool{}, finished: map[string]scanmodel.ScanStatus{}}
}

func (f *fakeScanRepo) Create(ctx context.Context, s *scanmodel.Scan) error {
	f.created = append(f.created, s)
	return nil
}
func (f *fakeScanRepo) GetByScanID(ctx context.Context, scanID string) (*scanmodel.Scan, error) {
	for _, s := range f.created {
		if s.ScanID == scanID {
			return s, nil
		}
	}
	return nil, nil
}
func (f *fakeScanRepo) List(ctx context.Context, page, pageSize int) ([]*scanmodel.Scan, int64, error) {
	return f.created, int64(len(f.created)), nil
}
func (f *fakeScanRepo) MarkStarted(ctx context.Context, scanID string) error {
	f.started[scanID] = true
	return nil
}
func (f *fakeScanRepo) UpdateProgress(ctx context.Context, scanID string, total, terminal, succeeded, failed int) error {
	return nil
}
func (f *fakeScanRepo) FinishIfTerminal(ctx context.Context, scanID string, status scanmodel.ScanStatus) (bool, error) {
	f.finished[scanID] = status
	return true, nil
}
func (f *fakeScanRepo) Cancel(ctx context.Context, scanID string) (bool, error) {
	return true, nil
}

type fakeJobRepo struct {
	created []*jobmodel.Job
}

func (f *fakeJobRepo) Create(ctx context.Context, j *jobmodel.Job) error { return nil }
func (f *fakeJobRepo) CreateBatch(ctx context.Context, jobs []*jobmodel.Job) error {
	f.created = append(f.created, jobs...)
	return nil
}
func (f *fakeJobRepo) GetByJobID(ctx context.Context, jobID string) (*jobmodel.Job, error) {
	return nil, nil
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
	var n int64
	for _, j := range f.created {
		if j.ScanID == scanID && !j.IsTerminal() {
			j.Status = jobmodel.JobStatusCanceled
			n++
		}
	}
	return n, nil
}
func (f *fakeJobRepo) CancelByAgent(ctx context.Context, agentID string) (int64, error) {
	var n int64
	for _, j := range f.created {
		if j.AgentID == agentID && !j.IsTerminal() {
			j.Status = jobmodel.JobStatusCanceled
			n++
		}
	}
	return n, nil
}
func (f *fakeJobRepo) Requeue(ctx context.Context, jobID string) (bool, error) { return false, nil }
func (f *fakeJobRepo) CountByScan(ctx context.Context, scanID string) (total, terminal, succeeded, failed int64, err error) {
	var t, term, s, fl int64
	for _, j := range f.created {
		if j.ScanID != scanID {
			continue
		}
		t++
		switch j.Status {
		case jobmodel.JobStatusSucceeded:
			term++
			s++
		case jobmodel.JobStatusFailed:
			term++
			fl++
		}
	}
	return t, term, s, fl, nil
}
func (f *fakeJobRepo) ListByScan(ctx context.Context, scanID string) ([]*jobmodel.Job, error) {
	return nil, nil
}

type fakeReadyQueue struct {
	pushed []string
}

func (f *fakeReadyQueue) Push(ctx context.Context, agentID, jobID string) error {
	f.pushed = append(f.pushed, jobID)
	return nil
}
func (f *fakeReadyQueue) PopBatch(ctx context.Context, agentID string, limit int64) ([]string, error) {
	return nil, nil
}
func (f *fakeReadyQueue) Len(ctx context.Context, agentID string) (int64, error) { return 0, nil }
func (f *fakeReadyQueue) Rebuild(ctx context.Context, agentID string, jobIDs []string) error {
	return nil
}

func newOnlineAuthorizedAgent(id string) *agentmodel.Agent {
	return &agentmodel.Agent{AgentID: id, Status: agentmodel.AgentStatusOnline, Authorized: true}
}

func TestCreateScan_ExplicitUnknownAgentRejectsWholeCallAtomically(t *testing.T) {
	agents := newFakeAgentRepo()
	agents.byID["agent-1"] = newOnlineAuthorizedAgent("agent-1")
	scans := newFakeScanRepo()
	jobs := &fakeJobRepo{}
	queue := &fakeReadyQueue{}
	svc := NewService(scans, jobs, agents, queue)

	_, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:     "sweep",
		Target:   scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}},
		AgentIDs: []string{"agent-1", "unknown-agent"},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrValidation.Code, appErr.Code)
	assert.Empty(t, scans.created, "no scan row should be created when validation fails")
	assert.Empty(t, jobs.created, "no job row should be created when validation fails")
}

func TestCreateScan_ExplicitUnauthorizedAgentRejectsWholeCall(t *testing.T) {
	agents := newFakeAgentRepo()
	agents.byID["agent-1"] = newOnlineAuthorizedAgent("agent-1")
	agents.byID["agent-2"] = &agentmodel.Agent{AgentID: "agent-2", Status: agentmodel.AgentStatusOnline, Authorized: false}
	svc := NewService(newFakeScanRepo(), &fakeJobRepo{}, agents, &fakeReadyQueue{})

	_, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:     "sweep",
		Target:   scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}},
		AgentIDs: []string{"agent-1", "agent-2"},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrValidation.Code, appErr.Code)
}

func TestCreateScan_ExplicitTombstonedAgentRejectsWholeCall(t *testing.T) {
	agents := newFakeAgentRepo()
	agents.byID["agent-1"] = &agentmodel.Agent{AgentID: "agent-1", Status: agentmodel.AgentStatusTombstoned, Authorized: true}
	svc := NewService(newFakeScanRepo(), &fakeJobRepo{}, agents, &fakeReadyQueue{})

	_, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:     "sweep",
		Target:   scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}},
		AgentIDs: []string{"agent-1"},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrValidation.Code, appErr.Code)
}

func TestCreateScan_FansOutOneJobPerEligibleAgent(t *testing.T) {
	agents := newFakeAgentRepo()
	agents.byID["agent-1"] = newOnlineAuthorizedAgent("agent-1")
	agents.byID["agent-2"] = newOnlineAuthorizedAgent("agent-2")
	scans := newFakeScanRepo()
	jobs := &fakeJobRepo{}
	queue := &fakeReadyQueue{}
	svc := NewService(scans, jobs, agents, queue)

	sc, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:     "sweep",
		Target:   scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}, VTOIDs: []string{"1.3.6.1.4.1.25623.1.0.10662"}},
		AgentIDs: []string{"agent-1", "agent-2"},
	})
	require.NoError(t, err)
	assert.Len(t, jobs.created, 2)
	assert.Equal(t, scanmodel.ScanStatusRunning, sc.Status)
	assert.True(t, scans.started[sc.ScanID])
	assert.Len(t, queue.pushed, 2)
}

func TestCreateScan_MalformedOIDRejected(t *testing.T) {
	agents := newFakeAgentRepo()
	agents.byID["agent-1"] = newOnlineAuthorizedAgent("agent-1")
	svc := NewService(newFakeScanRepo(), &fakeJobRepo{}, agents, &fakeReadyQueue{})

	_, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:     "sweep",
		Target:   scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}, VTOIDs: []string{"not-an-oid"}},
		AgentIDs: []string{"agent-1"},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrValidation.Code, appErr.Code)
}

func TestCreateScan_UnrecognizedScanTypeRejected(t *testing.T) {
	agents := newFakeAgentRepo()
	agents.byID["agent-1"] = newOnlineAuthorizedAgent("agent-1")
	svc := NewService(newFakeScanRepo(), &fakeJobRepo{}, agents, &fakeReadyQueue{})

	_, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:     "sweep",
		Target:   scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}, ScanType: "nonsense"},
		AgentIDs: []string{"agent-1"},
	})
	require.Error(t, err)
}

func TestCreateScan_EmptyAgentIDsRejected(t *testing.T) {
	agents := newFakeAgentRepo()
	svc := NewService(newFakeScanRepo(), &fakeJobRepo{}, agents, &fakeReadyQueue{})

	_, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:   "sweep",
		Target: scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrValidation.Code, appErr.Code)
}

func TestCreateScan_UnknownAgentIneligibleRejected(t *testing.T) {
	agents := newFakeAgentRepo()
	svc := NewService(newFakeScanRepo(), &fakeJobRepo{}, agents, &fakeReadyQueue{})

	_, err := svc.CreateScan(context.Background(), CreateScanRequest{
		Name:     "sweep",
		Target:   scanmodel.TargetSpec{Hosts: []string{"10.0.0.5"}},
		AgentIDs: []string{"agent-1"},
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrValidation.Code, appErr.Code)
}

func TestCancelScan_CascadesToNonTerminalJobs(t *testing.T) {
	jobs := &fakeJobRepo{created: []*jobmodel.Job{
		{JobID: "job-1", ScanID: "scan-1", Status: jobmodel.JobStatusQueued},
		{JobID: "job-2", ScanID: "scan-1", Status: jobmodel.JobStatusRunning},
		{JobID: "job-3", ScanID: "scan-1", Status: jobmodel.JobStatusSucceeded},
	}}
	svc := NewService(newFakeScanRepo(), jobs, newFakeAgentRepo(), &fakeReadyQueue{})

	err := svc.CancelScan(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.JobStatusCanceled, jobs.created[0].Status)
	assert.Equal(t, jobmodel.JobStatusCanceled, jobs.created[1].Status)
	assert.Equal(t, jobmodel.JobStatusSucceeded, jobs.created[2].Status, "already-terminal jobs are left untouched")
}

func TestOnJobTerminal_AtLeastOneSuccessMarksScanCompleted(t *testing.T) {
	jobs := &fakeJobRepo{created: []*jobmodel.Job{
		{ScanID: "scan-1", Status: jobmodel.JobStatusSucceeded},
		{ScanID: "scan-1", Status: jobmodel.JobStatusFailed},
	}}
	scans := newFakeScanRepo()
	svc := NewService(scans, jobs, newFakeAgentRepo(), &fakeReadyQueue{})

	err := svc.OnJobTerminal(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, scanmodel.ScanStatusCompleted, scans.finished["scan-1"])
}

func TestOnJobTerminal_AllFailedMarksScanFailed(t *testing.T) {
	jobs := &fakeJobRepo{created: []*jobmodel.Job{
		{ScanID: "scan-2", Status: jobmodel.JobStatusFailed},
		{ScanID: "scan-2", Status: jobmodel.JobStatusFailed},
	}}
	scans := newFakeScanRepo()
	svc := NewService(scans, jobs, newFakeAgentRepo(), &fakeReadyQueue{})

	err := svc.OnJobTerminal(context.Background(), "scan-2")
	require.NoError(t, err)
	assert.Equal(t, scanmodel.ScanStatusFailed, scans.finished["scan-2"])
}
