package jobs

import (
	"context"

	"github.com/partline/partline/pkg/queuex"
	"github.com/partline/partline/pkg/scanx"
)

// ScanHandler runs AI scans through the scan service. The service response
// becomes the job result; backend notifications are best effort and never
// affect the job outcome.
type ScanHandler struct {
	scans *scanx.Client
}

// NewScanHandler creates the scan queue handler.
func NewScanHandler(scans *scanx.Client) *ScanHandler {
	return &ScanHandler{scans: scans}
}

// Handle submits the scan and stores the service response as the job result.
func (h *ScanHandler) Handle(ctx context.Context, job *queuex.Job) ([]byte, error) {
	var p ScanPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return nil, err
	}

	req := scanx.ScanRequest{
		ScanID:    p.ScanID,
		ScanType:  p.ScanType,
		Images:    p.Images,
		UserID:    p.UserID,
		VehicleID: p.VehicleID,
	}

	resp, err := h.scans.ProcessScan(ctx, req)
	if err != nil {
		// Only report terminal failures; retries will run the scan again.
		if job.AttemptsMade >= job.MaxAttempts {
			h.scans.NotifyScanFailed(ctx, p.ScanID, err.Error())
		}
		return nil, err
	}

	if resp.Result != nil {
		h.scans.NotifyScanComplete(ctx, p.ScanID, resp.Result)
	}
	return resp.MarshalResult()
}
