/**
 * 测试:端到端集成
 * @description: 驱动完整Gin引擎针对内存sqlite跑通Agent/Scanner/Admin三个接入面的
 *   典型协作序列，覆盖注册、授权、派发、上报、终态与级联取消
 * @func:
 */
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"neocontroller/internal/app/controller/handler"
	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/app/controller/router"
	"neocontroller/internal/config"
	agentconfigmodel "neocontroller/internal/model/agentconfig"
	agentmodel "neocontroller/internal/model/agent"
	installermodel "neocontroller/internal/model/installer"
	jobmodel "neocontroller/internal/model/job"
	resultmodel "neocontroller/internal/model/result"
	scanmodel "neocontroller/internal/model/scan"
	"neocontroller/internal/pkg/auth"
	agentconfigrepo "neocontroller/internal/repo/mysql/agentconfig"
	agentrepo "neocontroller/internal/repo/mysql/agent"
	installerrepo "neocontroller/internal/repo/mysql/installer"
	jobrepo "neocontroller/internal/repo/mysql/job"
	resultrepo "neocontroller/internal/repo/mysql/result"
	scanrepo "neocontroller/internal/repo/mysql/scan"
	readyqueue "neocontroller/internal/repo/redis"
	"neocontroller/internal/service/configsvc"
	"neocontroller/internal/service/coordinator"
	"neocontroller/internal/service/dispatcher"
	"neocontroller/internal/service/ingestor"
	"neocontroller/internal/service/registry"
)

// fakeReadyQueue is an in-memory stand-in for the Redis-backed ready queue accelerator,
// used because these tests never dial a real Redis instance.
type fakeReadyQueue struct {
	byAgent map[string][]string
}

func newFakeReadyQueue() *fakeReadyQueue {
	return &fakeReadyQueue{byAgent: map[string][]string{}}
}

func (q *fakeReadyQueue) Push(ctx context.Context, agentID, jobID string) error {
	q.byAgent[agentID] = append(q.byAgent[agentID], jobID)
	return nil
}

func (q *fakeReadyQueue) PopBatch(ctx context.Context, agentID string, limit int64) ([]string, error) {
	ids := q.byAgent[agentID]
	if int64(len(ids)) > limit {
		q.byAgent[agentID] = ids[limit:]
		return ids[:limit], nil
	}
	q.byAgent[agentID] = nil
	return ids, nil
}

func (q *fakeReadyQueue) Len(ctx context.Context, agentID string) (int64, error) {
	return int64(len(q.byAgent[agentID])), nil
}

func (q *fakeReadyQueue) Rebuild(ctx context.Context, agentID string, jobIDs []string) error {
	q.byAgent[agentID] = jobIDs
	return nil
}

var _ readyqueue.ReadyQueue = (*fakeReadyQueue)(nil)

// testHarness wires a full stack (real repos against an in-memory sqlite DB, real
// services, real router with real auth middleware) exactly the way NewApp does in
// production, minus the network dependencies (MySQL, Redis) it cannot use in tests.
type testHarness struct {
	t          *testing.T
	engine     *gin.Engine
	db         *gorm.DB
	agents     agentrepo.Repository
	jobs       jobrepo.Repository
	scans      scanrepo.Repository
	jwtManager *auth.AgentJWTManager
	adminKey   string
}

const testAdminAPIKey = "nctl_test_admin_key_for_integration_suite"

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&agentmodel.Agent{},
		&jobmodel.Job{},
		&scanmodel.Scan{},
		&resultmodel.Result{},
		&resultmodel.ResultBatch{},
		&agentconfigmodel.GlobalConfigVersion{},
		&agentconfigmodel.AgentConfigOverride{},
		&installermodel.Installer{},
	))

	agents := agentrepo.NewRepository(db)
	scans := scanrepo.NewRepository(db)
	jobs := jobrepo.NewRepository(db)
	results := resultrepo.NewRepository(db)
	agentConfigs := agentconfigrepo.NewRepository(db)
	installers := installerrepo.NewRepository(db)
	queue := newFakeReadyQueue()

	regSvc := registry.NewService(agents, jobs)
	cfgSvc := configsvc.NewService(agentConfigs)
	coordSvc := coordinator.NewService(scans, jobs, agents, queue)
	dispSvc := dispatcher.NewService(jobs, queue, coordSvc, 3, 24*time.Hour)
	ingSvc := ingestor.NewService(jobs, results)

	controllerCfg := config.ControllerConfig{
		HeartbeatInterval:  30 * time.Second,
		OfflineAfterMisses: 3,
		InactiveAfter:      time.Hour,
		MaxJobAttempts:     3,
		JobExpiryAfter:     24 * time.Hour,
		ResultBatchSize:    100,
	}

	jwtManager := auth.NewAgentJWTManager("integration-test-secret-key", "neoctl-test", time.Hour, 5*time.Second)

	// Low-cost Argon2id params so the admin-face requests in this suite stay fast.
	apiKeyManager := auth.NewAPIKeyManager(&auth.APIKeyConfig{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	adminHash, err := apiKeyManager.HashAPIKey(testAdminAPIKey)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Security: config.SecurityConfig{
			AdminAuth: config.AdminAuthConfig{
				HeaderName: "X-Admin-Api-Key",
				Keys:       map[string]string{"root": adminHash},
			},
			AgentAuth: config.AgentAuthConfig{
				Mode:             "bearer_jwt",
				Secret:           "integration-test-secret-key",
				Issuer:           "neoctl-test",
				TokenExpire:      time.Hour,
				AllowedClockSkew: 5 * time.Second,
			},
			Scanner:   config.ScannerConfig{RequireBearer: false},
			RateLimit: config.RateLimitConfig{Enabled: false},
			CORS:      config.CORSConfig{Enabled: false},
		},
		Controller: controllerCfg,
		App:        config.AppConfig{Name: "neocontroller", Environment: "test"},
	}

	adminLookup := middleware.AdminKeyLookup(func(c *gin.Context, key string) (string, error) {
		return middleware.VerifyAdminKey(apiKeyManager, key, cfg.Security.AdminAuth.Keys)
	})

	handlers := router.Handlers{
		Agent:   handler.NewAgentHandler(regSvc, dispSvc, ingSvc, cfgSvc, controllerCfg),
		Scanner: handler.NewScannerHandler(coordSvc, ingSvc),
		Admin:   handler.NewAdminHandler(regSvc, cfgSvc, installers),
		Health:  handler.NewHealthHandler(db),
	}

	r := router.New(cfg, handlers, jwtManager, adminLookup)

	return &testHarness{
		t:          t,
		engine:     r.GetEngine(),
		db:         db,
		agents:     agents,
		jobs:       jobs,
		scans:      scans,
		jwtManager: jwtManager,
		adminKey:   testAdminAPIKey,
	}
}

func (h *testHarness) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *testHarness) agentHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (h *testHarness) adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Api-Key": h.adminKey}
}

// agentHeartbeat drives the heartbeat endpoint for a not-yet-issued agent identity;
// bearer_jwt mode authenticates every request off a signed token, so the caller must
// mint one itself before the agent has ever been registered, exactly as a real Agent
// would after its updater burns in a long-lived token at install time.
func (h *testHarness) agentHeartbeat(agentID, hostname string) *httptest.ResponseRecorder {
	token, _, err := h.jwtManager.IssueToken(agentID, hostname)
	require.NoError(h.t, err)
	return h.do(http.MethodPost, "/api/v1/agents/heartbeat", map[string]interface{}{
		"hostname":            hostname,
		"ip_addresses":        []string{"10.0.0.5"},
		"operating_system":    "linux",
		"architecture":        "amd64",
		"agent_version":       "1.0.0",
		"config_version_seen": 0,
	}, h.agentHeaders(token))
}

func validResultInput() map[string]interface{} {
	return map[string]interface{}{
		"NVTOID":   "1.3.6.1.4.1.25623.1.0.10662",
		"NVTName":  "Outdated OpenSSH",
		"Severity": 7.5,
		"Host":     "10.0.0.5",
		"Threat":   "High",
		"QOD":      80,
	}
}

// TestFullScanLifecycle_HeartbeatToAuthorizeToDispatchToCompletion drives the six
// named collaboration steps end to end through the real Gin engine: an agent
// auto-registers on first heartbeat, an admin authorizes it, a scanner creates a
// scan that fans out into one job for the now-eligible agent, the agent claims and
// submits results, finalizes the job, and the scanner observes the scan complete.
func TestFullScanLifecycle_HeartbeatToAuthorizeToDispatchToCompletion(t *testing.T) {
	h := newTestHarness(t)
	agentID := "agent-integration-1"
	agentToken, _, err := h.jwtManager.IssueToken(agentID, "host-1")
	require.NoError(t, err)

	w := h.agentHeartbeat(agentID, "host-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authorized":false`)

	w = h.do(http.MethodPatch, "/api/v1/admin/agents", map[string]interface{}{
		"agent_ids":  []string{agentID},
		"authorized": true,
	}, h.adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, w.Body.String())

	// Re-heartbeat is what actually flips the agent from pending to online, since
	// authorization and liveness are deliberately decoupled.
	w = h.agentHeartbeat(agentID, "host-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authorized":true`)

	w = h.do(http.MethodPost, "/scans", map[string]interface{}{
		"name":      "sweep-1",
		"target":    map[string]interface{}{"hosts": []string{"10.0.0.5"}, "scan_type": "quick"},
		"agent_ids": []string{agentID},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var createResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	scanID, _ := createResp["scan_id"].(string)
	require.NotEmpty(t, scanID)
	assert.EqualValues(t, 1, createResp["agents_assigned"])

	w = h.do(http.MethodGet, "/api/v1/agents/jobs?limit=1", nil, h.agentHeaders(agentToken))
	require.Equal(t, http.StatusOK, w.Code)
	var jobsResp struct {
		Jobs []struct {
			JobID string `json:"job_id"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobsResp))
	require.Len(t, jobsResp.Jobs, 1)
	jobID := jobsResp.Jobs[0].JobID
	require.NotEmpty(t, jobID)

	w = h.do(http.MethodPost, "/api/v1/agents/jobs/"+jobID+"/results", map[string]interface{}{
		"batch_sequence": 1,
		"results":        []map[string]interface{}{validResultInput()},
	}, h.agentHeaders(agentToken))
	require.Equal(t, http.StatusAccepted, w.Code)

	// Resubmitting the same batch_sequence must be a no-op, not a duplicate write.
	w = h.do(http.MethodPost, "/api/v1/agents/jobs/"+jobID+"/results", map[string]interface{}{
		"batch_sequence": 1,
		"results":        []map[string]interface{}{validResultInput()},
	}, h.agentHeaders(agentToken))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = h.do(http.MethodPost, "/api/v1/agents/jobs/"+jobID+"/complete", map[string]interface{}{
		"outcome": "completed",
	}, h.agentHeaders(agentToken))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(http.MethodGet, "/scans/"+scanID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)
	assert.Contains(t, w.Body.String(), `"progress":100`)

	w = h.do(http.MethodGet, "/scans/"+scanID+"/results", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`, "the duplicate batch_sequence resubmission must not have persisted a second result")
}

// TestTombstoneAgent_CancelsOutstandingJobAndSubsequentSubmitIsNotFound shows the
// cascading cancellation wired into Tombstone: once an admin removes an agent, its
// claimed job is canceled as a side effect and further submissions from that agent
// are rejected as not found rather than silently accepted.
func TestTombstoneAgent_CancelsOutstandingJobAndSubsequentSubmitIsNotFound(t *testing.T) {
	h := newTestHarness(t)
	agentID := "agent-integration-2"
	agentToken, _, err := h.jwtManager.IssueToken(agentID, "host-2")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, h.agentHeartbeat(agentID, "host-2").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPatch, "/api/v1/admin/agents",
		map[string]interface{}{"agent_ids": []string{agentID}, "authorized": true}, h.adminHeaders()).Code)
	require.Equal(t, http.StatusOK, h.agentHeartbeat(agentID, "host-2").Code)

	w := h.do(http.MethodPost, "/scans", map[string]interface{}{
		"name":      "sweep-2",
		"target":    map[string]interface{}{"hosts": []string{"10.0.0.6"}, "scan_type": "quick"},
		"agent_ids": []string{agentID},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(http.MethodGet, "/api/v1/agents/jobs?limit=1", nil, h.agentHeaders(agentToken))
	require.Equal(t, http.StatusOK, w.Code)
	var jobsResp struct {
		Jobs []struct {
			JobID string `json:"job_id"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobsResp))
	require.Len(t, jobsResp.Jobs, 1)
	jobID := jobsResp.Jobs[0].JobID

	w = h.do(http.MethodPost, "/api/v1/admin/agents/delete", map[string]interface{}{
		"agent_ids": []string{agentID},
	}, h.adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())

	job, err := h.jobs.GetByJobID(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobmodel.JobStatusCanceled, job.Status)

	w = h.do(http.MethodPost, "/api/v1/agents/jobs/"+jobID+"/results", map[string]interface{}{
		"batch_sequence": 1,
		"results":        []map[string]interface{}{validResultInput()},
	}, h.agentHeaders(agentToken))
	require.Equal(t, http.StatusNotFound, w.Code)
}

// TestCancelScan_CascadesToOutstandingJobs shows CancelScan canceling its own
// non-terminal jobs rather than leaving them orphaned in claimed/queued state.
func TestCancelScan_CascadesToOutstandingJobs(t *testing.T) {
	h := newTestHarness(t)
	agentID := "agent-integration-3"

	require.Equal(t, http.StatusOK, h.agentHeartbeat(agentID, "host-3").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPatch, "/api/v1/admin/agents",
		map[string]interface{}{"agent_ids": []string{agentID}, "authorized": true}, h.adminHeaders()).Code)
	require.Equal(t, http.StatusOK, h.agentHeartbeat(agentID, "host-3").Code)

	w := h.do(http.MethodPost, "/scans", map[string]interface{}{
		"name":      "sweep-3",
		"target":    map[string]interface{}{"hosts": []string{"10.0.0.7"}, "scan_type": "quick"},
		"agent_ids": []string{agentID},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var createResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	scanID, _ := createResp["scan_id"].(string)

	w = h.do(http.MethodDelete, "/scans/"+scanID, nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	jobs, err := h.jobs.ListByScan(context.Background(), scanID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobmodel.JobStatusCanceled, jobs[0].Status)

	// Cancelling an already-terminal scan is a conflict, not a silent no-op.
	w = h.do(http.MethodDelete, "/scans/"+scanID, nil, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

// TestAgentAuth_RejectsRequestWithoutBearerToken confirms the Agent face middleware
// actually enforces authentication end to end, not just at the unit level.
func TestAgentAuth_RejectsRequestWithoutBearerToken(t *testing.T) {
	h := newTestHarness(t)
	w := h.do(http.MethodGet, "/api/v1/agents/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestAdminAuth_RejectsUnknownAPIKey confirms the Admin face middleware rejects a
// key that doesn't match any hash on file.
func TestAdminAuth_RejectsUnknownAPIKey(t *testing.T) {
	h := newTestHarness(t)
	w := h.do(http.MethodGet, "/api/v1/admin/agents", nil, map[string]string{"X-Admin-Api-Key": "not-the-real-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
