package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/service"
)

const (
	// QueueDefault is the queue every minimarket task is enqueued on.
	QueueDefault = "default"
	// TaskInventoryAlertsScan recomputes the low stock and expiry snapshot.
	TaskInventoryAlertsScan = "inventory:alerts_scan"
)

// AlertScanPayload records what triggered a scan.
type AlertScanPayload struct {
	Trigger string `json:"trigger"`
}

// NewAlertScanTask constructs an alerts scan task.
func NewAlertScanTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "schedule"
	}
	data, err := json.Marshal(AlertScanPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryAlertsScan, data, asynq.Queue(QueueDefault), asynq.Timeout(2*time.Minute)), nil
}

// AlertRefresher is satisfied by *service.Service.
type AlertRefresher interface {
	RefreshAlerts(ctx context.Context) (domain.AlertSnapshot, error)
}

// AlertScanJob refreshes the cached alert snapshot off the request path.
type AlertScanJob struct {
	alerts AlertRefresher
	log    *zap.Logger
}

func NewAlertScanJob(alerts AlertRefresher, log *zap.Logger) *AlertScanJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertScanJob{alerts: alerts, log: log.Named("jobs")}
}

// Handle processes TaskInventoryAlertsScan tasks. Malformed payloads are not retried.
func (j *AlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.alerts == nil {
		return fmt.Errorf("alerts scan: handler not configured")
	}
	var payload AlertScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.log.Warn("alerts scan payload rejected", zap.Error(err))
		return fmt.Errorf("alerts scan payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx = service.WithActor(ctx, domain.Actor{Username: "scheduler", Role: "system"})
	snapshot, err := j.alerts.RefreshAlerts(ctx)
	if err != nil {
		j.log.Error("alerts scan failed", zap.String("trigger", payload.Trigger), zap.Error(err))
		return err
	}
	j.log.Info("alerts scan finished",
		zap.String("trigger", payload.Trigger),
		zap.Int("low_stock", len(snapshot.LowStock)),
		zap.Int("expiring", len(snapshot.Expiring)),
		zap.Int("expired", len(snapshot.Expired)),
	)
	return nil
}
