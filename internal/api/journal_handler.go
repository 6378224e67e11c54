package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/journal"
	"github.com/wfunc/coin-bank/internal/models"
	"github.com/wfunc/coin-bank/internal/repository"
	"go.uber.org/zap"
)

// JournalHandler 流水查询处理器；未启用数据库时只返回内存中的最近流水
type JournalHandler struct {
	repo   repository.JournalRepository
	writer *journal.Writer
	logger *zap.Logger
}

// NewJournalHandler 创建处理器
func NewJournalHandler(repo repository.JournalRepository, writer *journal.Writer, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{repo: repo, writer: writer, logger: logger}
}

// JournalListResponse 流水列表响应
type JournalListResponse struct {
	Entries  []models.JournalEntry `json:"entries"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Source   string                `json:"source"` // database / memory
}

// List 查询流水
// @Summary 查询账本流水
// @Tags Journal
// @Security Bearer
// @Produce json
// @Param kind query string false "类型: coin/adjust/rejected/milestone/motor"
// @Param since query string false "起始时间 RFC3339"
// @Param until query string false "结束时间 RFC3339"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} JournalListResponse
// @Router /api/v1/journal [get]
func (h *JournalHandler) List(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	p := repository.NewPagination(page, pageSize)

	if h.repo == nil {
		c.JSON(http.StatusOK, h.listMemory(filter, p))
		return
	}

	entries, err := h.repo.List(c.Request.Context(), filter, p)
	if err != nil {
		h.logger.Error("查询流水失败", zap.Error(err))
		respondError(c, err)
		return
	}
	out := make([]models.JournalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	c.JSON(http.StatusOK, JournalListResponse{
		Entries:  out,
		Total:    p.Total,
		Page:     p.Page,
		PageSize: p.PageSize,
		Source:   "database",
	})
}

func (h *JournalHandler) listMemory(filter repository.JournalFilter, p *repository.Pagination) JournalListResponse {
	var recent []models.JournalEntry
	if h.writer != nil {
		recent = h.writer.Recent(0)
	}

	matched := make([]models.JournalEntry, 0, len(recent))
	for _, e := range recent {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && e.OccurredAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !e.OccurredAt.Before(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}

	start := p.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + p.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return JournalListResponse{
		Entries:  matched[start:end],
		Total:    int64(len(matched)),
		Page:     p.Page,
		PageSize: p.PageSize,
		Source:   "memory",
	}
}

// Summary 按类型汇总
// @Summary 按类型汇总流水
// @Tags Journal
// @Security Bearer
// @Produce json
// @Param since query string false "起始时间 RFC3339"
// @Success 200 {object} []repository.KindSummary
// @Failure 503 {object} errors.ErrorResponse
// @Router /api/v1/journal/summary [get]
func (h *JournalHandler) Summary(c *gin.Context) {
	if h.repo == nil {
		respondError(c, errors.New(errors.ErrDatabaseConnect, "未启用数据库"))
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	summary, err := h.repo.Summary(c.Request.Context(), filter.Since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": filter.Since, "kinds": summary})
}

func parseFilter(c *gin.Context) (repository.JournalFilter, error) {
	var filter repository.JournalFilter
	if kind := c.Query("kind"); kind != "" {
		switch k := models.JournalKind(kind); k {
		case models.JournalKindCoin, models.JournalKindAdjust, models.JournalKindRejected,
			models.JournalKindMilestone, models.JournalKindMotor:
			filter.Kind = k
		default:
			return filter, errors.Newf(errors.ErrInvalidParam, "未知流水类型: %s", kind)
		}
	}
	for key, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.Wrapf(err, errors.ErrInvalidParam, "%s时间格式错误", key)
		}
		*dst = t
	}
	return filter, nil
}
