package application

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"stockpile/internal/service/inventory/domain"
)

// ExpirySweeper 周期性释放已过期但仍为 ACTIVE 的预约。
// 核心语义是惰性过期（release/confirm 时才观察到过期），
// sweeper 是可选扩展: 不启动它，过期预约的数量会一直占用
// reservedQuantity 直到有人显式释放。
type ExpirySweeper struct {
	service      *StockAvailabilityService
	reservations domain.ReservationRepository
	interval     time.Duration
	batchSize    int
	now          func() time.Time
}

func NewExpirySweeper(service *StockAvailabilityService, reservations domain.ReservationRepository, interval time.Duration, batchSize int) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		service:      service,
		reservations: reservations,
		interval:     interval,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Run 阻塞运行直到 ctx 取消。interval 非正时直接返回（扩展未启用）。
func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce 执行一轮清理，返回成功释放的数量。
// 单条释放失败不影响本轮其余预约。
func (s *ExpirySweeper) SweepOnce(ctx context.Context) int {
	expired, err := s.reservations.FindExpiredActive(ctx, s.now(), s.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("sweeper failed to list expired reservations")
		return 0
	}

	released := 0
	for _, reservation := range expired {
		if err := s.service.ReleaseReservation(ctx, reservation.ID()); err != nil {
			// 另一个释放方可能刚好抢先，状态类错误属于正常竞争
			if domain.IsKind(err, domain.ErrKindInvalidReservationState) {
				continue
			}
			log.Error().Err(err).Str("reservation_id", reservation.ID()).Msg("sweeper failed to release reservation")
			continue
		}
		released++
		sweptReservationsTotal.Inc()
	}

	if released > 0 {
		log.Info().Int("released", released).Msg("expired reservations swept")
	}
	return released
}
