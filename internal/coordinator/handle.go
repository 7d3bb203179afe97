package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/errors"
)

// Handle implements channel.Handler.
func (c *Coordinator) Handle(ctx context.Context, req *channel.Request) *channel.Response {
	start := time.Now()
	resp := c.dispatch(ctx, req)

	fields := []zap.Field{
		zap.String("action", string(req.Action)),
		zap.String("request_id", req.RequestID),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("success", resp.Success),
	}
	if !resp.Success {
		fields = append(fields, zap.String("code", string(resp.Code)))
		c.logger.Warn("request failed", append(fields, zap.String("error", resp.Error))...)
	} else {
		c.logger.Info("request handled", fields...)
	}
	return resp
}

func (c *Coordinator) dispatch(ctx context.Context, req *channel.Request) *channel.Response {
	switch req.Action {
	case channel.ActionSummarize:
		text, err := c.Summarize(ctx, req.Text)
		if err != nil {
			return c.fail(err)
		}
		return &channel.Response{Success: true, Summary: text}

	case channel.ActionSaveSummary:
		out, err := c.SaveSummary(ctx, SaveInput{
			Summary: req.Summary,
			URL:     req.URL,
			Title:   req.Title,
		})
		if err != nil {
			return c.fail(err)
		}
		return &channel.Response{Success: true, ID: out.ID, Summaries: out.Summaries}

	case channel.ActionDeleteSummary:
		if err := c.DeleteSummary(ctx, req.ID); err != nil {
			return c.fail(err)
		}
		return channel.OK()

	case channel.ActionToggleExtension:
		if req.Enabled == nil {
			return c.fail(errors.NewInvalidRequest("enabled is required"))
		}
		if err := c.ToggleExtension(ctx, *req.Enabled); err != nil {
			return c.fail(err)
		}
		return &channel.Response{Success: true, Enabled: channel.Bool(*req.Enabled)}

	case channel.ActionListSummaries:
		summaries, err := c.ListSummaries(ctx)
		if err != nil {
			return c.fail(err)
		}
		return &channel.Response{Success: true, Summaries: summaries}

	default:
		return c.fail(errors.NewInvalidRequest(fmt.Sprintf("unknown action %q", req.Action)))
	}
}

// fail logs internal causes that the response hides.
func (c *Coordinator) fail(err error) *channel.Response {
	sErr := errors.As(err)
	if sErr.Code == errors.ErrInternal || sErr.Code == errors.ErrStore {
		c.logger.Error("internal failure", zap.Error(err))
	}
	return channel.Fail(sErr)
}
