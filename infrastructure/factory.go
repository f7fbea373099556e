package infrastructure

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-hub/domains/provider"
	"github.com/AzielCF/az-hub/infrastructure/telegram"
	"github.com/AzielCF/az-hub/infrastructure/whatsapp"
)

// NewProviderFactory returns the production provider.Factory covering every
// supported provider kind.
func NewProviderFactory() provider.Factory {
	return func(ctx context.Context, kind provider.Kind, storagePath string) (provider.Client, error) {
		switch kind {
		case provider.KindWhatsapp:
			return whatsapp.NewClient(ctx, storagePath)
		case provider.KindTelegram:
			return telegram.NewClient(ctx, storagePath)
		default:
			return nil, fmt.Errorf("unsupported provider kind: %s", kind)
		}
	}
}
