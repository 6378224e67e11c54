// Package journal 缓存主循环产生的账本流水，在静止点批量落库。
package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/coin-bank/internal/models"
	"github.com/wfunc/coin-bank/internal/repository"
	"go.uber.org/zap"
)

// writeTimeout 单批写入超时
const writeTimeout = 10 * time.Second

// Writer 流水缓冲与后台写入
type Writer struct {
	repo   repository.JournalRepository // 可为nil，只保留内存中的最近流水
	logger *zap.Logger
	size   int

	pending []*models.JournalEntry // 仅主循环访问
	dropped atomic.Uint64

	mu     sync.RWMutex
	recent []*models.JournalEntry // 环形缓冲
	next   int
	count  int
	failed uint64
	stored uint64

	sendMu  sync.Mutex // 保护batches的发送与关闭
	closed  bool
	batches chan []*models.JournalEntry
	wg      sync.WaitGroup
	once    sync.Once
	started bool
	now     func() time.Time
}

// NewWriter 创建写入器，size为缓冲上限
func NewWriter(repo repository.JournalRepository, size int, logger *zap.Logger) *Writer {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		repo:    repo,
		logger:  logger,
		size:    size,
		pending: make([]*models.JournalEntry, 0, size),
		recent:  make([]*models.JournalEntry, size),
		batches: make(chan []*models.JournalEntry, 4),
		now:     time.Now,
	}
}

// Start 启动后台写入协程
func (w *Writer) Start() {
	w.started = true
	w.wg.Add(1)
	go w.loop()
}

// Record 记录一条流水（不做IO）；缓冲已满时丢弃并计数
func (w *Writer) Record(kind models.JournalKind, delta int64, totalAfter uint32, source string, meta models.JSONData) {
	entry := &models.JournalEntry{
		EntryID:    uuid.NewString(),
		Kind:       kind,
		Delta:      delta,
		TotalAfter: totalAfter,
		Source:     source,
		Meta:       meta,
		OccurredAt: w.now(),
	}

	w.remember(entry)
	if len(w.pending) >= w.size {
		w.dropped.Add(1)
		return
	}
	w.pending = append(w.pending, entry)
}

// Pending 尚未交给后台的条数
func (w *Writer) Pending() int {
	return len(w.pending)
}

// Dropped 因缓冲满丢弃的条数
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Flush 把缓冲交给后台写入；后台忙时保留到下一次
func (w *Writer) Flush() {
	if len(w.pending) == 0 {
		return
	}
	if w.repo == nil {
		w.pending = w.pending[:0]
		return
	}

	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed {
		w.dropped.Add(uint64(len(w.pending)))
		w.logger.Warn("写入器已关闭，丢弃流水", zap.Int("count", len(w.pending)))
		w.pending = w.pending[:0]
		return
	}

	batch := make([]*models.JournalEntry, len(w.pending))
	copy(batch, w.pending)
	select {
	case w.batches <- batch:
		w.pending = w.pending[:0]
	default:
		w.logger.Warn("流水写入繁忙，延后提交", zap.Int("pending", len(w.pending)))
	}
}

// Close 提交剩余流水并等待后台写完；之后的Flush只丢弃并计数。
// 主循环仍在运行时调用会与Record竞争pending，应使用Stop。
func (w *Writer) Close() {
	w.once.Do(func() {
		w.sendMu.Lock()
		if w.started && w.repo != nil && len(w.pending) > 0 {
			batch := make([]*models.JournalEntry, len(w.pending))
			copy(batch, w.pending)
			w.batches <- batch
			w.pending = w.pending[:0]
		}
		w.closed = true
		close(w.batches)
		w.sendMu.Unlock()
		w.wg.Wait()
	})
}

// Stop 停止后台写入但不触碰主循环缓冲，主循环未退出时使用
func (w *Writer) Stop() {
	w.once.Do(func() {
		w.sendMu.Lock()
		w.closed = true
		close(w.batches)
		w.sendMu.Unlock()
		w.wg.Wait()
	})
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for batch := range w.batches {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.repo.CreateBatch(ctx, batch)
		cancel()

		w.mu.Lock()
		if err != nil {
			w.failed += uint64(len(batch))
		} else {
			w.stored += uint64(len(batch))
		}
		w.mu.Unlock()

		if err != nil {
			w.logger.Error("流水写入失败", zap.Int("count", len(batch)), zap.Error(err))
			continue
		}
		w.logger.Debug("流水已写入", zap.Int("count", len(batch)))
	}
}

func (w *Writer) remember(entry *models.JournalEntry) {
	w.mu.Lock()
	w.recent[w.next] = entry
	w.next = (w.next + 1) % len(w.recent)
	if w.count < len(w.recent) {
		w.count++
	}
	w.mu.Unlock()
}

// Recent 最近n条流水，新的在前
func (w *Writer) Recent(n int) []models.JournalEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if n <= 0 || n > w.count {
		n = w.count
	}
	out := make([]models.JournalEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (w.next - i + len(w.recent)) % len(w.recent)
		out = append(out, *w.recent[idx])
	}
	return out
}

// Stats 写入统计
type Stats struct {
	Stored uint64 `json:"stored"`
	Failed uint64 `json:"failed"`
}

// Stats 返回后台写入统计
func (w *Writer) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Stats{Stored: w.stored, Failed: w.failed}
}
