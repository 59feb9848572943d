package service

import (
	"context"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewLedgerService,
	NewSessionService,
	NewFavoriteService,
	NewReferralService,
)

// wrapError 领域错误原样返回，基础设施错误包装为业务错误码
func wrapError(ctx context.Context, err error, code int) error {
	if err == nil {
		return nil
	}
	if se := new(kerrors.Error); kerrors.As(err, &se) {
		return err
	}
	return pkgErrors.WrapErrorWithLang(ctx, err, code)
}
