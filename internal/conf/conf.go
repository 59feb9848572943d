package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 启动配置（对应 configs/config.yaml）
type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Ledger *Ledger `json:"ledger"`
	Cron   *Cron   `json:"cron"`
	Log    *Log    `json:"log"`
}

// Server 服务监听配置
type Server struct {
	Http *Server_HTTP `json:"http"`
	Grpc *Server_GRPC `json:"grpc"`
}

type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Server_GRPC struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 数据源配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_RocketMQ `json:"rocketmq"`
}

type Data_Database struct {
	Driver      string `json:"driver"`
	Source      string `json:"source"`
	AutoMigrate bool   `json:"auto_migrate"`
}

type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int       `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

type Data_RocketMQ struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	NotifyTopic string   `json:"notify_topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Pack 套餐配置
type Pack struct {
	TakesLimit    int32 `json:"takes_limit"`
	HdLimit       int32 `json:"hd_limit"`
	HdSlaMinutes  int32 `json:"hd_sla_minutes"`
	PlaylistSteps int32 `json:"playlist_steps"`
}

// Ledger 账本策略配置
type Ledger struct {
	ModeratorBypass   *bool            `json:"moderator_bypass"`
	DefaultSlaMinutes int32            `json:"default_sla_minutes"`
	Packs             map[string]*Pack `json:"packs"`
	Referral          *Referral        `json:"referral"`
	Watchdog          *Watchdog        `json:"watchdog"`
}

// Referral 推荐奖励配置
type Referral struct {
	MinQualifyingStars int64            `json:"min_qualifying_stars"`
	HoldHours          int32            `json:"hold_hours"`
	DailyLimit         int32            `json:"daily_limit"`
	MonthlyLimit       int32            `json:"monthly_limit"`
	Ladder             map[string]int64 `json:"ladder"` // stars -> hd credits
	BatchSize          int32            `json:"batch_size"`
}

// Watchdog 巡检配置
type Watchdog struct {
	StaleAfter     *Duration `json:"stale_after"`
	AbandonedAfter *Duration `json:"abandoned_after"`
	BatchSize      int32     `json:"batch_size"`
}

// Cron 定时任务配置
type Cron struct {
	StuckRendering string    `json:"stuck_rendering"`
	AbandonedSweep string    `json:"abandoned_sweep"`
	BonusPromotion string    `json:"bonus_promotion"`
	LockExpiry     *Duration `json:"lock_expiry"`
	JobTimeout     *Duration `json:"job_timeout"`
}

// Duration 支持 "5m"/"1.5s" 字符串或纳秒整数
type Duration struct {
	time.Duration
}

// AsDuration 返回 time.Duration（nil 安全）
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
