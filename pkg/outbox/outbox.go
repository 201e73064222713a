package outbox

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"BookAI/models"
	"BookAI/pkg/config"
	svc "BookAI/pkg/services"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outbox mirrors chat messages to the remote session store. A write that
// fails every retry lands in the pending_messages table and the local
// message row is flagged pending; RetryPending drains the table on start,
// on every offline→online transition and on explicit client triggers.
type Outbox struct {
	db      *gorm.DB
	store   *svc.RemoteStore
	retries int

	drainMu sync.Mutex // serializes drains so overlapping triggers cannot double-send
}

func New(db *gorm.DB, store *svc.RemoteStore) *Outbox {
	retries := config.PendingRetries
	if retries <= 0 {
		retries = 3
	}
	return &Outbox{db: db, store: store, retries: retries}
}

// Send mirrors one payload to the remote store. Retryable exhaustion queues
// the payload and reports queued=true; permanent rejections are returned to
// the caller and never queued.
func (o *Outbox) Send(ctx context.Context, p svc.MessagePayload) (queued bool, err error) {
	if !o.store.Enabled() {
		return false, nil
	}
	err = o.store.PostWithRetry(ctx, p, o.retries)
	if err == nil {
		o.setPending(p.ClientMessageID, false)
		return false, nil
	}
	if svc.IsPermanent(err) {
		log.Printf("[outbox] permanent remote rejection for %s: %v", p.ClientMessageID, err)
		return false, err
	}
	if qerr := o.enqueue(p, err); qerr != nil {
		log.Printf("[outbox] enqueue failed for %s: %v", p.ClientMessageID, qerr)
		return false, qerr
	}
	o.setPending(p.ClientMessageID, true)
	return true, nil
}

// enqueue stores the payload at most once per client message id.
func (o *Outbox) enqueue(p svc.MessagePayload, cause error) error {
	row := models.PendingMessage{
		SessionToken:    p.SessionToken,
		Role:            p.Role,
		Message:         p.Message,
		ClientMessageID: p.ClientMessageID,
		SentAt:          p.CreatedAt,
		Attempts:        o.retries,
		LastError:       cause.Error(),
	}
	return o.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_message_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

func (o *Outbox) setPending(clientMessageID string, pending bool) {
	if clientMessageID == "" {
		return
	}
	if err := o.db.Model(&models.ChatMessage{}).
		Where("client_message_id = ?", clientMessageID).
		Update("pending", pending).Error; err != nil {
		log.Printf("[outbox] pending flag update failed for %s: %v", clientMessageID, err)
	}
}

// RetryPending re-posts every queued payload once. An item leaves the queue
// only after a confirmed remote write; permanent rejections are dropped
// since they can never succeed. Returns how many items were delivered.
func (o *Outbox) RetryPending(ctx context.Context) (int, error) {
	if !o.store.Enabled() {
		return 0, nil
	}
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	var rows []models.PendingMessage
	if err := o.db.Order("id ASC").Find(&rows).Error; err != nil {
		return 0, err
	}
	delivered := 0
	for _, row := range rows {
		p := svc.MessagePayload{
			SessionToken:    row.SessionToken,
			Role:            row.Role,
			Message:         row.Message,
			CreatedAt:       row.SentAt,
			ClientMessageID: row.ClientMessageID,
		}
		err := o.store.PostMessage(ctx, p)
		switch {
		case err == nil:
			o.db.Unscoped().Delete(&models.PendingMessage{}, row.ID)
			o.setPending(row.ClientMessageID, false)
			delivered++
		case svc.IsPermanent(err):
			log.Printf("[outbox] dropping permanently rejected item %s: %v", row.ClientMessageID, err)
			o.db.Unscoped().Delete(&models.PendingMessage{}, row.ID)
		default:
			// still unreachable; keep it for the next trigger
			o.db.Model(&models.PendingMessage{}).Where("id = ?", row.ID).
				Updates(map[string]any{"attempts": row.Attempts + 1, "last_error": err.Error()})
		}
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
	}
	if delivered > 0 {
		log.Printf("[outbox] drained %d pending message(s)", delivered)
	}
	return delivered, nil
}

// RewriteToken moves queued payloads to the canonical token after an
// associate call, then drains them.
func (o *Outbox) RewriteToken(ctx context.Context, oldToken, canonical string) error {
	if oldToken == canonical {
		return nil
	}
	if err := o.db.Model(&models.PendingMessage{}).
		Where("session_token = ?", oldToken).
		Update("session_token", canonical).Error; err != nil {
		return err
	}
	_, err := o.RetryPending(ctx)
	return err
}

// PendingCount reports queued items for a session (UI spinner state).
func (o *Outbox) PendingCount(sessionToken string) int64 {
	var n int64
	o.db.Model(&models.PendingMessage{}).Where("session_token = ?", sessionToken).Count(&n)
	return n
}

// Watch probes the remote store and drains the queue on every
// offline→online transition. It also drains once at startup. Blocks until
// ctx is done; run it in a goroutine.
func (o *Outbox) Watch(ctx context.Context) {
	if !o.store.Enabled() {
		log.Printf("[outbox] remote store disabled; watcher not started")
		return
	}
	interval := time.Duration(config.OnlineProbeSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	if _, err := o.RetryPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[outbox] startup drain failed: %v", err)
	}

	online := o.store.Ping(ctx) == nil
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			nowOnline := o.store.Ping(ctx) == nil
			if nowOnline && !online {
				log.Printf("[outbox] remote store back online; retrying pending messages")
				if _, err := o.RetryPending(ctx); err != nil {
					log.Printf("[outbox] drain failed: %v", err)
				}
			}
			online = nowOnline
		}
	}
}
