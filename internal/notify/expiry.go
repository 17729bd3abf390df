package notify

import (
	"context"
	"fmt"

	"github.com/mmeshcher/holidayd/internal/model"
)

var kindTitles = map[model.EntityKind]string{
	model.KindAdvertisement:     "advertisement",
	model.KindMembership:        "membership",
	model.KindCommercialPartner: "commercial partnership",
	model.KindPromoCode:         "promo code",
}

func describe(e model.Expirable) string {
	title := kindTitles[e.Kind]
	if e.Label == "" {
		return "Your " + title
	}
	return fmt.Sprintf("Your %s %q", title, e.Label)
}

func expiryData(e model.Expirable) map[string]any {
	data := map[string]any{
		"kind":       string(e.Kind),
		"entity_id":  e.ID,
		"label":      e.Label,
		"expires_at": e.ExpiresAt,
	}
	if e.Content != nil {
		data["content_type"] = string(e.Content.Type)
		data["content_id"] = e.Content.ID
	}
	return data
}

// ExpirationWarning предупреждает владельца о скором окончании срока действия.
func (n *Notifier) ExpirationWarning(ctx context.Context, e model.Expirable) error {
	what := describe(e)
	return n.Send(ctx, e.Owner, Note{
		Title:    fmt.Sprintf("%s is expiring soon", kindTitles[e.Kind]),
		Message:  fmt.Sprintf("%s expires on %s. Renew it to keep it active.", what, n.formatTime(e.ExpiresAt)),
		Severity: model.SeverityWarning,
		Subject:  fmt.Sprintf("%s expires soon", what),
		Template: string(e.Kind) + "_expiring",
		Data:     expiryData(e),
	})
}

// Expired сообщает владельцу, что срок действия истёк.
func (n *Notifier) Expired(ctx context.Context, e model.Expirable) error {
	what := describe(e)
	return n.Send(ctx, e.Owner, Note{
		Title:    fmt.Sprintf("%s has expired", kindTitles[e.Kind]),
		Message:  fmt.Sprintf("%s expired on %s.", what, n.formatTime(e.ExpiresAt)),
		Severity: model.SeverityError,
		Subject:  fmt.Sprintf("%s has expired", what),
		Template: string(e.Kind) + "_expired",
		Data:     expiryData(e),
	})
}
