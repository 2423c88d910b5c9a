package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/realtime"
	"github.com/threadscope/threadscope-backend/internal/realtime/bus"
	"github.com/threadscope/threadscope-backend/internal/sse"
)

type JobNotifier interface {
	JobCreated(job *types.JobBatch, itemCount int)
	ItemProgress(jobID uuid.UUID, item *types.JobItem, stage string, message string)
	ItemCompleted(jobID uuid.UUID, item *types.JobItem)
	ItemFailed(jobID uuid.UUID, item *types.JobItem, stage string, errorMessage string)
	JobDone(job *types.JobBatch, summary types.JobSummary)
	JobCancelled(jobID uuid.UUID)
}

type jobNotifier struct {
	hub *sse.Hub
	bus bus.Bus
}

// NewJobNotifier wires job events to the local hub and, when a bus is
// provided, to other processes too. The bus may be nil.
func NewJobNotifier(hub *sse.Hub, b bus.Bus) JobNotifier {
	return &jobNotifier{hub: hub, bus: b}
}

func (n *jobNotifier) emit(msg realtime.SSEMessage) {
	n.hub.Broadcast(msg)
	global := msg
	global.Channel = realtime.GlobalChannel
	n.hub.Broadcast(global)
	if n.bus != nil {
		_ = n.bus.Publish(context.Background(), msg)
	}
}

func (n *jobNotifier) JobCreated(job *types.JobBatch, itemCount int) {
	n.emit(realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.EventJobCreated,
		Data:    map[string]any{"job": job, "item_count": itemCount},
	})
}

func (n *jobNotifier) ItemProgress(jobID uuid.UUID, item *types.JobItem, stage string, message string) {
	n.emit(realtime.SSEMessage{
		Channel: jobID.String(),
		Event:   realtime.EventJobProgress,
		Data: map[string]any{
			"item_id":  item.ID,
			"post_url": item.PostURL,
			"stage":    stage,
			"message":  message,
		},
	})
}

func (n *jobNotifier) ItemCompleted(jobID uuid.UUID, item *types.JobItem) {
	n.emit(realtime.SSEMessage{
		Channel: jobID.String(),
		Event:   realtime.EventItemCompleted,
		Data: map[string]any{
			"item_id":        item.ID,
			"post_url":       item.PostURL,
			"result_post_id": item.ResultPostID,
		},
	})
}

func (n *jobNotifier) ItemFailed(jobID uuid.UUID, item *types.JobItem, stage string, errorMessage string) {
	n.emit(realtime.SSEMessage{
		Channel: jobID.String(),
		Event:   realtime.EventItemFailed,
		Data: map[string]any{
			"item_id":  item.ID,
			"post_url": item.PostURL,
			"stage":    stage,
			"error":    errorMessage,
		},
	})
}

func (n *jobNotifier) JobDone(job *types.JobBatch, summary types.JobSummary) {
	n.emit(realtime.SSEMessage{
		Channel: job.ID.String(),
		Event:   realtime.EventJobDone,
		Data:    map[string]any{"job": job, "summary": summary},
	})
}

func (n *jobNotifier) JobCancelled(jobID uuid.UUID) {
	n.emit(realtime.SSEMessage{
		Channel: jobID.String(),
		Event:   realtime.EventJobCancelled,
		Data:    map[string]any{"job_id": jobID},
	})
}
