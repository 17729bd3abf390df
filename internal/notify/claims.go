package notify

import (
	"context"
	"fmt"

	"github.com/mmeshcher/holidayd/internal/model"
)

// ClaimApproved сообщает агенту об одобрении заявки на выплату.
func (n *Notifier) ClaimApproved(ctx context.Context, to model.Recipient, c *model.ClaimRequest) error {
	return n.Send(ctx, to, Note{
		Title:    "Claim approved",
		Message:  fmt.Sprintf("Your claim #%d for LKR %s has been approved.", c.ID, c.Total),
		Severity: model.SeveritySuccess,
		Subject:  "Your earnings claim has been approved",
		Template: "claim_approved",
		Data:     claimData(c),
	})
}

// ClaimRejected сообщает агенту об отклонении заявки на выплату.
func (n *Notifier) ClaimRejected(ctx context.Context, to model.Recipient, c *model.ClaimRequest) error {
	msg := fmt.Sprintf("Your claim #%d for LKR %s has been rejected.", c.ID, c.Total)
	if c.Note != "" {
		msg += " Reason: " + c.Note
	}
	return n.Send(ctx, to, Note{
		Title:    "Claim rejected",
		Message:  msg,
		Severity: model.SeverityWarning,
		Subject:  "Your earnings claim has been rejected",
		Template: "claim_rejected",
		Data:     claimData(c),
	})
}

func claimData(c *model.ClaimRequest) map[string]any {
	data := map[string]any{
		"claim_id":    c.ID,
		"total_lkr":   c.Total.String(),
		"earning_ids": c.EarningIDs,
		"status":      string(c.Status),
	}
	if c.Note != "" {
		data["note"] = c.Note
	}
	return data
}
