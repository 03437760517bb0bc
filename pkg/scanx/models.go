package scanx

import "encoding/json"

// ScanType selects the analysis pipeline applied to the uploaded images.
type ScanType string

const (
	ScanTypeEngineBay          ScanType = "engine_bay"
	ScanTypeVIN                ScanType = "vin"
	ScanTypePartIdentification ScanType = "part_identification"
	ScanTypeFullVehicle        ScanType = "full_vehicle"
)

// Valid reports whether t is a known scan type.
func (t ScanType) Valid() bool {
	switch t {
	case ScanTypeEngineBay, ScanTypeVIN, ScanTypePartIdentification, ScanTypeFullVehicle:
		return true
	}
	return false
}

// ScanStatus is the processing state reported by the scan service.
type ScanStatus string

const (
	ScanStatusPending    ScanStatus = "pending"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
)

const maxImages = 10

// ScanRequest asks the scan service to analyze a set of vehicle images.
type ScanRequest struct {
	ScanID    string   `json:"scan_id"`
	ScanType  ScanType `json:"scan_type"`
	Images    []string `json:"images"`
	UserID    string   `json:"user_id"`
	VehicleID string   `json:"vehicle_id,omitempty"`
}

// Validate checks the request against the scan service contract.
func (r *ScanRequest) Validate() error {
	if r.ScanID == "" {
		return scanxErrors.New(ErrInvalidRequest).WithDetail("reason", "missing scan_id")
	}
	if !r.ScanType.Valid() {
		return scanxErrors.New(ErrInvalidRequest).WithDetail("scan_type", string(r.ScanType))
	}
	if len(r.Images) == 0 {
		return scanxErrors.New(ErrInvalidRequest).WithDetail("reason", "at least one image is required")
	}
	if len(r.Images) > maxImages {
		return scanxErrors.New(ErrInvalidRequest).WithDetail("reason", "too many images").
			WithDetail("max", maxImages)
	}
	return nil
}

// DetectedPart is one part the scan service identified in an image.
type DetectedPart struct {
	PartID       string    `json:"part_id,omitempty"`
	PartName     string    `json:"part_name"`
	PartNumber   string    `json:"part_number,omitempty"`
	Confidence   float64   `json:"confidence"`
	Location     []float64 `json:"location,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
}

// DetectedModification is a non-stock part found on the vehicle.
type DetectedModification struct {
	PartID           string  `json:"part_id"`
	ModificationType string  `json:"modification_type"`
	Confidence       float64 `json:"confidence"`
	Description      string  `json:"description,omitempty"`
}

// ScanResult is the full analysis output for one scan.
type ScanResult struct {
	AIResults             map[string]any         `json:"ai_results,omitempty"`
	DetectedParts         []DetectedPart         `json:"detected_parts,omitempty"`
	DetectedModifications []DetectedModification `json:"detected_modifications,omitempty"`
	DetectedVIN           string                 `json:"detected_vin,omitempty"`
	DetectedVehicleInfo   map[string]any         `json:"detected_vehicle_info,omitempty"`
	ConfidenceScore       float64                `json:"confidence_score"`
}

// ScanResponse is the scan service's reply to a processing request.
type ScanResponse struct {
	ScanID           string      `json:"scan_id"`
	Status           ScanStatus  `json:"status"`
	Message          string      `json:"message,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms,omitempty"`
	Result           *ScanResult `json:"result,omitempty"`
}

// MarshalResult encodes the scan result for storage as a job result.
func (r *ScanResponse) MarshalResult() (json.RawMessage, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, scanxErrors.NewWithCause(ErrEncodeResult, err).WithDetail("scan_id", r.ScanID)
	}
	return body, nil
}
