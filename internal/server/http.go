package server

import (
	"context"

	"credit-service/internal/conf"
	"credit-service/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(
	c *conf.Bootstrap,
	ledger *service.LedgerService,
	session *service.SessionService,
	favorite *service.FavoriteService,
	referral *service.ReferralService,
	logger log.Logger,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			logging.Server(logger),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.Timeout != nil {
			opts = append(opts, http.Timeout(c.Server.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)
	srv.Handle("/metrics", promhttp.Handler())

	r := srv.Route("/")

	// 账本（面向生成调度 / 支付方）
	r.POST("/v1/ledger/hold", handle(ledger.Hold))
	r.POST("/v1/ledger/capture", handle(ledger.Capture))
	r.POST("/v1/ledger/release", handle(ledger.Release))
	r.GET("/v1/ledger/entries", handleQuery(ledger.ListEntries))
	r.GET("/v1/balance", handleQuery(ledger.GetBalance))
	r.POST("/v1/balance/credit", handle(ledger.CreditTokens))
	r.POST("/v1/balance/hd/grant", handle(ledger.GrantHD))
	r.POST("/v1/balance/hd/spend", handle(ledger.SpendHD))
	r.POST("/v1/balance/role", handle(ledger.SetRole))

	// 会话额度
	r.POST("/v1/sessions", handle(session.CreateSession))
	r.GET("/v1/sessions", handleQuery(session.GetSession))
	r.POST("/v1/sessions/consume", handle(session.Consume))
	r.POST("/v1/sessions/return", handle(session.Return))
	r.POST("/v1/sessions/hd/consume", handle(session.ConsumeHD))
	r.POST("/v1/sessions/hd/return", handle(session.ReturnHD))
	r.POST("/v1/sessions/upgrade", handle(session.Upgrade))
	r.POST("/v1/sessions/takes", handle(session.RecordTake))
	r.GET("/v1/sessions/takes", handleQuery(session.ListTakes))
	r.POST("/v1/sessions/advance", handle(session.AdvanceStep))
	r.POST("/v1/sessions/complete", handle(session.Complete))
	r.POST("/v1/sessions/abandon", handle(session.Abandon))

	// 收藏 / 补偿
	r.POST("/v1/favorites", handle(favorite.CreateFavorite))
	r.GET("/v1/favorites", handleQuery(favorite.GetFavorite))
	r.POST("/v1/favorites/rendering", handle(favorite.MarkRendering))
	r.POST("/v1/favorites/delivered", handle(favorite.MarkDelivered))
	r.POST("/v1/favorites/reset", handle(favorite.ResetOnFailure))
	r.POST("/v1/favorites/sla", handle(favorite.CheckSLA))
	r.POST("/v1/favorites/failed", handle(favorite.CompensateOnFail))
	r.POST("/v1/favorites/report", handle(favorite.ReportProblem))
	r.GET("/v1/compensations", handleQuery(favorite.ListCompensations))

	// 推荐奖励
	r.POST("/v1/referral/bonus", handle(referral.CreateBonus))
	r.GET("/v1/referral/bonus", handleQuery(referral.GetBonus))
	r.GET("/v1/referral/bonuses", handleQuery(referral.ListBonuses))
	r.GET("/v1/referral/anomaly", handleQuery(referral.CheckAnomaly))
	r.POST("/v1/referral/spend", handle(referral.SpendCredits))
	r.POST("/v1/referral/bonus/spent", handle(referral.MarkSpent))
	r.POST("/v1/referral/bonus/revoke", handle(referral.RevokeBonus))
	r.POST("/v1/referral/bonus/freeze", handle(referral.FreezeBonus))
	r.POST("/v1/referral/debt/clear", handle(referral.ClearDebt))

	return srv
}

// handle JSON body 请求，经过 server 中间件链
func handle[Req, Reply any](fn func(context.Context, *Req) (*Reply, error)) http.HandlerFunc {
	return route(fn, func(ctx http.Context, req *Req) error { return ctx.Bind(req) })
}

// handleQuery query 参数请求
func handleQuery[Req, Reply any](fn func(context.Context, *Req) (*Reply, error)) http.HandlerFunc {
	return route(fn, func(ctx http.Context, req *Req) error { return ctx.BindQuery(req) })
}

func route[Req, Reply any](fn func(context.Context, *Req) (*Reply, error), bind func(http.Context, *Req) error) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in Req
		if err := bind(ctx, &in); err != nil {
			return err
		}
		http.SetOperation(ctx, ctx.Request().URL.Path)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*Req))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
