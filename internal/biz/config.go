package biz

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"credit-service/internal/conf"
	"credit-service/internal/constants"
)

// PackPolicy 套餐额度策略
type PackPolicy struct {
	TakesLimit    int32
	HDLimit       int32
	SLA           time.Duration
	PlaylistSteps int32 // >0 表示多步合集
}

// LadderStep 奖励阶梯：支付 Stars 达到阈值可获得 Credits 个 HD 额度
type LadderStep struct {
	Stars   int64
	Credits int64
}

// ReferralPolicy 推荐奖励策略
type ReferralPolicy struct {
	MinQualifyingStars int64
	Hold               time.Duration
	DailyLimit         int64
	MonthlyLimit       int64
	Ladder             []LadderStep // 按 Stars 升序
	BatchSize          int
}

// WatchdogPolicy 巡检策略
type WatchdogPolicy struct {
	StaleAfter     time.Duration
	AbandonedAfter time.Duration
	BatchSize      int
}

// LedgerConfig 账本策略配置，构造时注入各 UseCase
type LedgerConfig struct {
	ModeratorBypass bool
	DefaultSLA      time.Duration
	Packs           map[string]PackPolicy
	Referral        ReferralPolicy
	Watchdog        WatchdogPolicy
}

// NewLedgerConfig 从配置创建 LedgerConfig
func NewLedgerConfig(c *conf.Bootstrap) (*LedgerConfig, error) {
	config := &LedgerConfig{
		ModeratorBypass: true,
		DefaultSLA:      constants.DefaultSLAMinutes * time.Minute,
		Packs:           make(map[string]PackPolicy),
		Referral: ReferralPolicy{
			Hold:         constants.DefaultBonusHoldHours * time.Hour,
			DailyLimit:   constants.DefaultReferralDaily,
			MonthlyLimit: constants.DefaultReferralMonthly,
			BatchSize:    constants.DefaultBonusBatchSize,
		},
		Watchdog: WatchdogPolicy{
			StaleAfter:     constants.DefaultStaleAfter,
			AbandonedAfter: constants.DefaultAbandonedAfter,
			BatchSize:      constants.DefaultSweepBatchSize,
		},
	}
	if c == nil || c.Ledger == nil {
		return config, nil
	}

	l := c.Ledger
	if l.ModeratorBypass != nil {
		config.ModeratorBypass = *l.ModeratorBypass
	}
	if l.DefaultSlaMinutes > 0 {
		config.DefaultSLA = time.Duration(l.DefaultSlaMinutes) * time.Minute
	}
	for id, p := range l.Packs {
		if p == nil {
			continue
		}
		sla := config.DefaultSLA
		if p.HdSlaMinutes > 0 {
			sla = time.Duration(p.HdSlaMinutes) * time.Minute
		}
		config.Packs[id] = PackPolicy{
			TakesLimit:    p.TakesLimit,
			HDLimit:       p.HdLimit,
			SLA:           sla,
			PlaylistSteps: p.PlaylistSteps,
		}
	}

	if r := l.Referral; r != nil {
		config.Referral.MinQualifyingStars = r.MinQualifyingStars
		if r.HoldHours > 0 {
			config.Referral.Hold = time.Duration(r.HoldHours) * time.Hour
		}
		if r.DailyLimit > 0 {
			config.Referral.DailyLimit = int64(r.DailyLimit)
		}
		if r.MonthlyLimit > 0 {
			config.Referral.MonthlyLimit = int64(r.MonthlyLimit)
		}
		if r.BatchSize > 0 {
			config.Referral.BatchSize = int(r.BatchSize)
		}
		ladder := make(map[int64]int64, len(r.Ladder))
		for k, v := range r.Ladder {
			stars, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid referral ladder threshold %q: %w", k, err)
			}
			ladder[stars] = v
		}
		config.Referral.Ladder = NewLadder(ladder)
	}

	if w := l.Watchdog; w != nil {
		if d := w.StaleAfter.AsDuration(); d > 0 {
			config.Watchdog.StaleAfter = d
		}
		if d := w.AbandonedAfter.AsDuration(); d > 0 {
			config.Watchdog.AbandonedAfter = d
		}
		if w.BatchSize > 0 {
			config.Watchdog.BatchSize = int(w.BatchSize)
		}
	}
	return config, nil
}

// NewLadder 构造升序奖励阶梯
func NewLadder(steps map[int64]int64) []LadderStep {
	ladder := make([]LadderStep, 0, len(steps))
	for stars, credits := range steps {
		ladder = append(ladder, LadderStep{Stars: stars, Credits: credits})
	}
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].Stars < ladder[j].Stars })
	return ladder
}

// CalcBonus 取不超过支付金额的最高阈值对应的奖励，未达到最低阈值返回 0
func (p ReferralPolicy) CalcBonus(stars int64) int64 {
	var credits int64
	for _, step := range p.Ladder {
		if step.Stars > stars {
			break
		}
		credits = step.Credits
	}
	return credits
}

// Pack 查询套餐策略
func (c *LedgerConfig) Pack(packID string) (PackPolicy, bool) {
	p, ok := c.Packs[packID]
	return p, ok
}

// SLAFor 套餐的 HD 交付 SLA，未配置时使用默认值
func (c *LedgerConfig) SLAFor(packID string) time.Duration {
	if p, ok := c.Packs[packID]; ok && p.SLA > 0 {
		return p.SLA
	}
	return c.DefaultSLA
}
