package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainMessage "github.com/AzielCF/az-hub/domains/message"
	"github.com/AzielCF/az-hub/domains/provider"
	domainSession "github.com/AzielCF/az-hub/domains/session"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
)

func ValidateCreateSession(ctx context.Context, request domainSession.CreateSessionRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.ID, validation.Length(0, 64)),
		validation.Field(&request.Provider, validation.Required, validation.In(provider.KindWhatsapp, provider.KindTelegram)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateFilter(ctx context.Context, request domainMessage.Filter) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.From, validation.Length(0, 128)),
		validation.Field(&request.MessageType, validation.Length(0, 32)),
		validation.Field(&request.ContainsText, validation.Length(0, 256)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
