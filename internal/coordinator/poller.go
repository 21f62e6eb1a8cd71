package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

const workPath = "/api/v1/work"

// Poller asks the coordinator for the next job.
type Poller struct {
	client *Client
	logger *slog.Logger
}

func NewPoller(client *Client, logger *slog.Logger) *Poller {
	return &Poller{client: client, logger: logger}
}

// Poll issues GET /api/v1/work?worker_id=<id> and interprets the reply.
// When the body carries both a job and an error the job wins.
func (p *Poller) Poll(ctx context.Context, workerID string) (domain.Envelope, error) {
	query := url.Values{"worker_id": {workerID}}

	resp, err := p.client.Send(ctx, http.MethodGet, workPath+"?"+query.Encode(), nil, nil)
	if err != nil {
		return domain.Envelope{}, err
	}

	return p.decode(resp)
}

func (p *Poller) decode(resp *Response) (domain.Envelope, error) {
	const op = "poll"

	var body domain.WorkResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return domain.Envelope{}, domain.ErrProtocol{Op: op, Status: resp.Status, Body: string(resp.Body), Err: err}
	}

	if hasWork(body.Work) {
		var job domain.Job
		if err := json.Unmarshal(body.Work, &job); err != nil {
			return domain.Envelope{}, domain.ErrProtocol{Op: op, Status: resp.Status, Body: string(resp.Body), Err: err}
		}
		if err := job.Validate(); err != nil {
			return domain.Envelope{}, domain.ErrProtocol{Op: op, Status: resp.Status, Body: string(resp.Body), Err: err}
		}
		if body.Error != nil {
			p.logger.Warn("poll response carries both work and error, taking the job",
				"job_id", job.UUID,
				"error", *body.Error,
			)
		}
		return domain.JobEnvelope(&job), nil
	}

	if body.Error != nil {
		return domain.ErrorEnvelope(*body.Error), nil
	}

	return domain.EmptyEnvelope(), nil
}

func hasWork(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("false"))
}
