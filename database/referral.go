package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"
)

// LinkReferral records an inviter/invitee pair once. A second attempt for the
// same pair, or a self-referral, is reported as not linked without error.
func (d Datasource) LinkReferral(ctx context.Context, referral *model.Referral) (bool, error) {
	if referral.InviterID == referral.InviteeID {
		return false, nil
	}
	if referral.ReferralID == "" {
		referral.ReferralID = model.GenerateUUIDWithSuffix("ref")
	}
	if referral.CreatedAt.IsZero() {
		referral.CreatedAt = time.Now()
	}

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO referrals (referral_id, inviter_id, invitee_id, invitee_paid, reward_given, created_at)
		VALUES ($1, $2, $3, FALSE, FALSE, $4)
		ON CONFLICT (inviter_id, invitee_id) DO NOTHING
	`, referral.ReferralID, referral.InviterID, referral.InviteeID, referral.CreatedAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to link referral", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check referral link", err)
	}
	return rows > 0, nil
}

// MarkInviteePaid flips the one-shot paid flag on the invitee's referral row.
// It returns the inviter to reward, and false when the invitee has no
// referral or the flag was already set.
func (d Datasource) MarkInviteePaid(ctx context.Context, inviteeID string) (string, bool, error) {
	var inviterID string
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE referrals SET invitee_paid = TRUE, reward_given = TRUE
		WHERE invitee_id = $1 AND invitee_paid = FALSE
		RETURNING inviter_id
	`, inviteeID).Scan(&inviterID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark invitee paid", err)
	}
	return inviterID, true, nil
}

func (d Datasource) GetReferralStats(ctx context.Context, inviterID string) (*model.ReferralStats, error) {
	stats := &model.ReferralStats{InviterID: inviterID}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE invitee_paid)
		FROM referrals WHERE inviter_id = $1
	`, inviterID).Scan(&stats.InvitedCount, &stats.PaidCount)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load referral stats", err)
	}
	return stats, nil
}

func (d Datasource) GetReferralsByInviter(ctx context.Context, inviterID string, limit, offset int) ([]*model.Referral, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT referral_id, inviter_id, invitee_id, invitee_paid, reward_given, created_at
		FROM referrals WHERE inviter_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, inviterID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve referrals", err)
	}
	defer rows.Close()

	var referrals []*model.Referral
	for rows.Next() {
		ref := &model.Referral{}
		if err := rows.Scan(&ref.ReferralID, &ref.InviterID, &ref.InviteeID, &ref.InviteePaid, &ref.RewardGiven, &ref.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan referral", err)
		}
		referrals = append(referrals, ref)
	}
	return referrals, rows.Err()
}
