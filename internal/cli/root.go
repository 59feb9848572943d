package cli

import (
	"os"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cobra"
)

var confPath string

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operator tools for the credit ledger",
	Long: `ledgerctl runs operator actions against the credit ledger database:
freezing or revoking referral bonuses, reporting HD problems, clearing
referral debt and running reconciler sweeps once.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&confPath, "conf", "c", "configs/config.yaml", "config path")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app 命令行所需的用例集合
type app struct {
	ledger     *biz.LedgerUseCase
	favorite   *biz.FavoriteUseCase
	referral   *biz.ReferralUseCase
	reconciler *biz.ReconcilerUseCase
	lockTTL    conf.Duration
}

// newApp 加载配置并组装依赖
func newApp() (*app, func(), error) {
	bc, closeConf, err := conf.Load(confPath)
	if err != nil {
		return nil, nil, err
	}

	level := "warn"
	if bc.Log != nil && bc.Log.Level != "" {
		level = bc.Log.Level
	}
	logger := log.With(
		log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.ParseLevel(level))),
		"ts", log.DefaultTimestamp,
		"service.name", "ledgerctl",
	)

	db, err := data.NewDB(bc)
	if err != nil {
		closeConf()
		return nil, nil, err
	}
	rdb, err := data.NewRedis(bc)
	if err != nil {
		closeConf()
		return nil, nil, err
	}
	d, cleanupData, err := data.NewData(logger, db, rdb)
	if err != nil {
		closeConf()
		return nil, nil, err
	}
	producer, cleanupMQ, err := data.NewMQProducer(bc, logger)
	if err != nil {
		cleanupData()
		closeConf()
		return nil, nil, err
	}
	cleanup := func() {
		cleanupMQ()
		cleanupData()
		closeConf()
	}

	lc, err := biz.NewLedgerConfig(bc)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	sessionRepo := data.NewSessionRepo(d, logger)
	favoriteRepo := data.NewFavoriteRepo(d, logger)
	ledgerUC := biz.NewLedgerUseCase(data.NewLedgerRepo(d, logger), lc, logger)
	favoriteUC := biz.NewFavoriteUseCase(favoriteRepo, sessionRepo, lc, logger)
	referralUC := biz.NewReferralUseCase(data.NewReferralRepo(d, logger), data.NewNotifier(bc, producer, logger), lc, logger)
	locker := data.NewSweepLocker(data.NewRedsync(rdb), logger)

	a := &app{
		ledger:     ledgerUC,
		favorite:   favoriteUC,
		referral:   referralUC,
		reconciler: biz.NewReconcilerUseCase(favoriteRepo, sessionRepo, favoriteUC, referralUC, locker, lc, logger),
	}
	if bc.Cron != nil && bc.Cron.LockExpiry != nil {
		a.lockTTL = *bc.Cron.LockExpiry
	}
	return a, cleanup, nil
}

// withApp 组装依赖后执行 fn，结束时释放资源
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd, args, a)
	}
}
