package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

// sweepJob 一个定时巡检任务
type sweepJob struct {
	name     string
	schedule string
}

func main() {
	flag.Parse()

	bc, closeConf, err := conf.Load(flagconf)
	if err != nil {
		panic(err)
	}
	defer closeConf()

	loggerInstance := log.With(logger.NewLogger(bc.Log.LoggerConfig("credit-cron")),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "credit-cron",
	)
	logHelper := log.NewHelper(loggerInstance)

	app, cleanup, err := wireApp(bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	cronConf := bc.Cron
	if cronConf == nil {
		cronConf = &conf.Cron{}
	}
	lockTTL := cronConf.LockExpiry.AsDuration()
	if lockTTL <= 0 {
		lockTTL = 4 * time.Minute
	}
	jobTimeout := cronConf.JobTimeout.AsDuration()
	if jobTimeout <= 0 || jobTimeout >= lockTTL {
		// 任务必须在锁过期前结束，否则另一实例可能重复执行
		jobTimeout = lockTTL * 3 / 4
	}

	jobs := []sweepJob{
		{name: constants.SweepStuckRendering, schedule: orDefault(cronConf.StuckRendering, "@every 5m")},
		{name: constants.SweepAbandoned, schedule: orDefault(cronConf.AbandonedSweep, "@every 6h")},
		{name: constants.SweepBonusPromotion, schedule: orDefault(cronConf.BonusPromotion, "@every 10m")},
	}

	// 创建定时任务调度器（支持秒级调度），同一任务上一轮未结束时跳过
	cronScheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		),
	)

	for _, job := range jobs {
		_, err = cronScheduler.AddFunc(job.schedule, func() {
			logHelper.Infof("[CRON] Starting sweep %s...", job.name)
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()

			result, err := app.reconciler.RunSweep(ctx, job.name, lockTTL)
			if err != nil {
				logHelper.Errorf("[CRON] Error running sweep %s: %v", job.name, err)
				return
			}
			if result.Skipped {
				logHelper.Infof("[CRON] Sweep %s skipped, another instance holds the lock", job.name)
				return
			}
			logHelper.Infof("[CRON] Sweep %s completed: scanned=%d, processed=%d, failed=%d",
				job.name, result.Scanned, result.Processed, result.Failed)
		})
		if err != nil {
			logHelper.Errorf("Failed to add sweep job %s: %v", job.name, err)
		}
	}

	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	for _, job := range jobs {
		logHelper.Infof("  - %s: %s", job.name, job.schedule)
	}
	logHelper.Infof("  lock_expiry=%v, job_timeout=%v", lockTTL, jobTimeout)
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
