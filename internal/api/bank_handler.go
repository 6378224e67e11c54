package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/coin-bank/internal/controller"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/hardware"
	"github.com/wfunc/coin-bank/internal/journal"
	"github.com/wfunc/coin-bank/internal/middleware"
	"go.uber.org/zap"
)

// commandTimeout 等待主循环执行命令的上限
const commandTimeout = 2 * time.Second

// BankHandler 余额与电机处理器
type BankHandler struct {
	bank    Bank
	board   hardware.Board
	journal *journal.Writer
	logger  *zap.Logger
}

// NewBankHandler 创建处理器
func NewBankHandler(bank Bank, board hardware.Board, writer *journal.Writer, logger *zap.Logger) *BankHandler {
	return &BankHandler{bank: bank, board: board, journal: writer, logger: logger}
}

// StatusResponse 状态响应
type StatusResponse struct {
	controller.Snapshot
	Board   *hardware.Stats `json:"board,omitempty"`
	Journal *JournalStats   `json:"journal,omitempty"`
}

// JournalStats 流水写入统计
type JournalStats struct {
	Dropped uint64 `json:"dropped"`
	Stored  uint64 `json:"stored"`
	Failed  uint64 `json:"failed"`
}

// AdjustRequest 手动调整请求（最小货币单位，可为负）
type AdjustRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

// AdjustResponse 调整响应
type AdjustResponse struct {
	Total uint32 `json:"total"`
	Text  string `json:"text"`
}

// Status 当前状态
// @Summary 查询余额与状态机状态
// @Tags Bank
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /api/v1/status [get]
func (h *BankHandler) Status(c *gin.Context) {
	resp := StatusResponse{Snapshot: h.bank.Snapshot()}
	if h.board != nil {
		stats := h.board.Stats()
		resp.Board = &stats
	}
	if h.journal != nil {
		stats := h.journal.Stats()
		resp.Journal = &JournalStats{
			Dropped: h.journal.Dropped(),
			Stored:  stats.Stored,
			Failed:  stats.Failed,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Adjust 手动调整余额
// @Summary 手动调整余额
// @Tags Bank
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body AdjustRequest true "调整请求"
// @Success 200 {object} AdjustResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /api/v1/adjust [post]
func (h *BankHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrInvalidParam, "请求格式错误"))
		return
	}

	operator, _ := middleware.GetOperator(c)
	source := "api"
	if operator != "" {
		source = truncate("api:"+operator, 32)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	if err := h.bank.Adjust(ctx, req.Delta, source); err != nil {
		h.logger.Info("调整失败", zap.String("operator", operator), zap.Int64("delta", req.Delta), zap.Error(err))
		respondError(c, err)
		return
	}

	snap := h.bank.Snapshot()
	h.logger.Info("调整成功", zap.String("operator", operator), zap.Int64("delta", req.Delta),
		zap.Uint32("total", snap.Total))
	c.JSON(http.StatusOK, AdjustResponse{Total: snap.Total, Text: snap.Text})
}

// StartMotor 启动电机序列
// @Summary 启动电机脉冲序列
// @Tags Bank
// @Security Bearer
// @Produce json
// @Success 202 {object} map[string]interface{}
// @Failure 409 {object} errors.ErrorResponse
// @Router /api/v1/motor/start [post]
func (h *BankHandler) StartMotor(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	if err := h.bank.StartMotor(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "电机序列已启动"})
}

// Persist 立即保存余额
// @Summary 立即保存余额
// @Tags Bank
// @Security Bearer
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/persist [post]
func (h *BankHandler) Persist(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	if err := h.bank.Persist(ctx); err != nil {
		// 容量类错误重试无效，需要人工处理
		if errors.IsCritical(err) {
			h.logger.Error("保存余额失败", zap.Error(err))
		} else {
			h.logger.Warn("保存余额失败", zap.Error(err))
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": h.bank.Snapshot().Total})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
