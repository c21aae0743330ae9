package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/issuerelay/internal/models"
	"gorm.io/gorm"
)

// DefaultLeaseTimeout is the duration after which a lease's heartbeat is
// considered stale and the lease can be reclaimed.
const DefaultLeaseTimeout = 90 * time.Second

// ErrLeaseHeld is returned by AcquireLease when another live relay already
// forwards the same repository into the same channel.
var ErrLeaseHeld = errors.New("journal: lease held by another relay")

// AcquireLease takes the relay lease for repo and channelID. It first
// expires leases whose heartbeat is older than timeout, then fails with
// ErrLeaseHeld if an active lease remains.
func (j *Journal) AcquireLease(ctx context.Context, repo, channelID, holder string, timeout time.Duration) (*models.RelayLease, error) {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}

	var lease *models.RelayLease

	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		cutoff := now.Add(-timeout)

		// Expire stale leases for this repo/channel.
		if err := tx.Model(&models.RelayLease{}).
			Where("status = ? AND last_heartbeat < ? AND repo = ? AND channel_id = ?",
				"active", cutoff, repo, channelID).
			Updates(map[string]interface{}{
				"status":      "expired",
				"released_at": now,
			}).Error; err != nil {
			return fmt.Errorf("expire stale leases: %w", err)
		}

		var existing models.RelayLease
		result := tx.Where("status = ? AND repo = ? AND channel_id = ?", "active", repo, channelID).First(&existing)
		if result.Error == nil {
			return fmt.Errorf("%w: %q since %s", ErrLeaseHeld, existing.Holder, existing.CreatedAt.Format(time.RFC3339))
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing lease: %w", result.Error)
		}

		lease = &models.RelayLease{
			Repo:          repo,
			ChannelID:     channelID,
			Holder:        holder,
			Status:        "active",
			LastHeartbeat: now,
		}
		if err := tx.Create(lease).Error; err != nil {
			return fmt.Errorf("create lease: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: acquire lease: %w", err)
	}
	j.log.Info().Uint("lease_id", lease.ID).Str("holder", holder).Msg("relay lease acquired")
	return lease, nil
}

// Heartbeat refreshes the LastHeartbeat timestamp of an active lease.
func (j *Journal) Heartbeat(ctx context.Context, leaseID uint) error {
	result := j.db.WithContext(ctx).Model(&models.RelayLease{}).
		Where("id = ? AND status = ?", leaseID, "active").
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("journal: heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("journal: heartbeat: lease %d not found or not active", leaseID)
	}
	return nil
}

// ReleaseLease marks the lease released.
func (j *Journal) ReleaseLease(ctx context.Context, leaseID uint) error {
	result := j.db.WithContext(ctx).Model(&models.RelayLease{}).
		Where("id = ? AND status = ?", leaseID, "active").
		Updates(map[string]interface{}{
			"status":      "released",
			"released_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("journal: release lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("journal: release lease: lease %d not found or not active", leaseID)
	}
	return nil
}

// KeepLease heartbeats leaseID every interval until ctx is cancelled. It
// returns nil on cancellation and an error once the lease is lost.
func (j *Journal) KeepLease(ctx context.Context, leaseID uint, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.Heartbeat(ctx, leaseID); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
