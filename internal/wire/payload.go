package wire

import (
	validation "github.com/jellydator/validation"

	appvalidation "github.com/popwandee/lprserver-v3-sub001/internal/validation"
)

// DetectionPayload carries one finished detection produced by the vehicle and
// plate pipeline. Images arrive base64-encoded and already downscaled by the
// producer; this layer is payload-size-ignorant.
type DetectionPayload struct {
	VehiclesCount      int      `json:"vehicles_count"`
	PlatesCount        int      `json:"plates_count"`
	ProcessingTimeMs   float64  `json:"processing_time_ms"`
	ConfidenceScore    float64  `json:"confidence_score"`
	PlateNumber        string   `json:"plate_number"`
	Image              string   `json:"image,omitempty"`
	CroppedPlateImages []string `json:"cropped_plate_images,omitempty"`
}

// Validate checks the detection payload fields.
func (p *DetectionPayload) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.VehiclesCount, validation.Min(0)),
		validation.Field(&p.PlatesCount, validation.Min(0)),
		validation.Field(&p.ProcessingTimeMs, validation.Min(0.0)),
		validation.Field(&p.ConfidenceScore, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.Image, appvalidation.Base64),
		validation.Field(&p.CroppedPlateImages, validation.Each(appvalidation.Base64)),
	)
}

// HealthStatus is the outcome of a single named health check.
type HealthStatus string

const (
	HealthStatusPass    HealthStatus = "PASS"
	HealthStatusWarning HealthStatus = "WARNING"
	HealthStatusFail    HealthStatus = "FAIL"
)

// HealthPayload carries the result of one health check cycle for one component.
type HealthPayload struct {
	Component string             `json:"component"`
	Status    HealthStatus       `json:"status"`
	Message   string             `json:"message,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Validate checks the health payload fields.
func (p *HealthPayload) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Component, validation.Required, validation.Length(1, 128)),
		validation.Field(&p.Status,
			validation.Required,
			validation.In(HealthStatusPass, HealthStatusWarning, HealthStatusFail),
		),
	)
}
