package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

const resultsPath = "/api/v1/work/results"

// Reporter posts job results back to the coordinator.
type Reporter struct {
	client *Client
}

func NewReporter(client *Client) *Reporter {
	return &Reporter{client: client}
}

// Report POSTs result as JSON to /api/v1/work/results/<worker>/<job>.
// A result that cannot be encoded yields domain.ErrResultEncoding and nothing
// is sent. Transport failures are returned unchanged.
func (r *Reporter) Report(ctx context.Context, workerID, jobID string, result any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return domain.ErrResultEncoding{JobID: jobID, Err: err}
	}

	path := fmt.Sprintf("%s/%s/%s", resultsPath, url.PathEscape(workerID), url.PathEscape(jobID))
	header := http.Header{"Content-Type": {applicationJSON}}

	_, err = r.client.Send(ctx, http.MethodPost, path, header, body)
	return err
}
