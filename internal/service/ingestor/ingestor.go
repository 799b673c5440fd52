/**
 * 服务:结果摄入器
 * @description: 校验并批量落盘Agent上报的扫描发现，除按(job_id, batch_sequence)跳过重放批次外不做去重，也不做告警评估，只负责可靠写入
 * @func:
 */
package ingestor

import (
	"context"
	"regexp"

	"github.com/go-playground/validator/v10"

	"neocontroller/internal/apperr"
	jobmodel "neocontroller/internal/model/job"
	resultmodel "neocontroller/internal/model/result"
	jobrepo "neocontroller/internal/repo/mysql/job"
	resultrepo "neocontroller/internal/repo/mysql/result"
	"neocontroller/internal/pkg/utils"
)

var oidPattern = regexp.MustCompile(`^\d+(\.\d+)+$`)

// ResultInput 是Agent对单条发现的上报载荷，摄入前需要通过结构体标签校验
type ResultInput struct {
	NVTOID         string  `validate:"required,oid"`
	NVTName        string  `validate:"required"`
	Severity       float64 `validate:"gte=0,lte=10"`
	CVSSBaseVector string
	Host           string `validate:"required"`
	Port           string
	Threat         string `validate:"required,oneof=Critical High Medium Low Log"`
	Description    string
	QOD            int `validate:"gte=0,lte=100"`
}

// IngestRequest 携带一批结果及其所属Job/Agent的上下文
// BatchSequence由Agent自行编号并单调递增，(JobID, BatchSequence)是重复提交检测的键
type IngestRequest struct {
	JobID         string
	AgentID       string
	BatchSequence int64
	Results       []ResultInput
}

// Service 定义结果摄入器对外暴露的用例
type Service interface {
	Ingest(ctx context.Context, req IngestRequest) (int, error)
	ListByScan(ctx context.Context, scanID string, offset, limit int) ([]*resultmodel.Result, int64, error)
}

type service struct {
	jobs      jobrepo.Repository
	results   resultrepo.Repository
	validate  *validator.Validate
}

// NewService 创建结果摄入器服务
func NewService(jobs jobrepo.Repository, results resultrepo.Repository) Service {
	v := validator.New()
	_ = v.RegisterValidation("oid", func(fl validator.FieldLevel) bool {
		return oidPattern.MatchString(fl.Field().String())
	})
	return &service{jobs: jobs, results: results, validate: v}
}

// Ingest 校验Job归属后批量写入结果，返回成功写入的条数
func (s *service) Ingest(ctx context.Context, req IngestRequest) (int, error) {
	j, err := s.jobs.GetByJobID(ctx, req.JobID)
	if err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}
	if j == nil {
		return 0, apperr.ErrNotFound.WithDetails("job not found")
	}
	if j.Status == jobmodel.JobStatusCanceled {
		// Agent被tombstone或所属Scan被取消后，Job已从权威表的意义上消失，
		// 后续提交一律视为对不存在的Job提交
		return 0, apperr.ErrNotFound.WithDetails("job not found")
	}
	if j.AgentID != req.AgentID {
		return 0, apperr.ErrForbidden.WithDetails("job does not belong to this agent")
	}
	if j.Status != jobmodel.JobStatusClaimed && j.Status != jobmodel.JobStatusRunning {
		return 0, apperr.ErrConflict.WithDetails("job is not in a state that accepts results")
	}
	if len(req.Results) == 0 {
		return 0, nil
	}

	// 先校验整批再登记batch_sequence：RecordBatch一旦落盘就把该序号标记为"已见"，
	// 若校验在其后进行，一次畸形批次会永久占用该序号，导致修正后的重新提交被
	// 误判为重放而静默丢弃
	for _, in := range req.Results {
		if err := s.validate.Struct(in); err != nil {
			return 0, apperr.ErrValidation.WithDetails(err.Error()).WithCause(err)
		}
	}

	recorded, err := s.results.RecordBatch(ctx, req.JobID, req.BatchSequence, len(req.Results))
	if err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}
	if !recorded {
		// 同一(job_id, batch_sequence)已经落盘过，重放提交是幂等空操作
		return 0, nil
	}

	rows := make([]*resultmodel.Result, 0, len(req.Results))
	for _, in := range req.Results {
		rows = append(rows, &resultmodel.Result{
			ResultID:       utils.GenerateUUID(),
			ScanID:         j.ScanID,
			JobID:          j.JobID,
			AgentID:        j.AgentID,
			NVTOID:         in.NVTOID,
			NVTName:        in.NVTName,
			Severity:       in.Severity,
			CVSSBaseVector: in.CVSSBaseVector,
			Host:           in.Host,
			Port:           in.Port,
			Threat:         resultmodel.ThreatLevel(in.Threat),
			Description:    in.Description,
			QOD:            in.QOD,
		})
	}

	if err := s.results.CreateBatch(ctx, rows); err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}
	return len(rows), nil
}

func (s *service) ListByScan(ctx context.Context, scanID string, offset, limit int) ([]*resultmodel.Result, int64, error) {
	results, total, err := s.results.ListByScan(ctx, scanID, offset, limit)
	if err != nil {
		return nil, 0, apperr.ErrInternal.WithCause(err)
	}
	return results, total, nil
}
