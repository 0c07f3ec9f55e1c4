package models

// Requests for the surface HTTP endpoints. Defined in domain for consistency and reuse.

type CalibrateRequest struct {
	Snapshot MarketSnapshot    `json:"snapshot" validate:"required"`
	Quotes   []OptionQuote     `json:"quotes" validate:"required,min=1,dive"`
	Config   CalibrationConfig `json:"config"`
	Async    bool              `json:"async" query:"async"`
}

type SurfacePointRequest struct {
	Underlying string  `query:"underlying" json:"underlying" validate:"required"`
	Strike     float64 `query:"strike" json:"strike" validate:"required,gt=0"`
	T          float64 `query:"t" json:"t" validate:"required,gt=0"`
}

type SurfaceGridRequest struct {
	Underlying  string  `query:"underlying" json:"underlying" validate:"required"`
	Resolution  int     `query:"resolution" json:"resolution" default:"100" validate:"gte=2,lte=2000"`
	StrikeRange float64 `query:"strike_range" json:"strike_range" default:"0.5" validate:"gt=0,lt=1"`
	Moneyness   bool    `query:"moneyness" json:"moneyness"`
}

type GreeksRequest struct {
	Underlying string     `json:"underlying" validate:"required"`
	Strike     float64    `json:"strike" validate:"required,gt=0"`
	T          float64    `json:"t" validate:"required,gt=0"`
	Type       OptionType `json:"type" default:"call" validate:"oneof=call put"`
	Mode       VolSource  `json:"mode" default:"svi" validate:"oneof=raw svi"`
}

type GreeksBatchRequest struct {
	Underlying string     `json:"underlying" validate:"required"`
	Strikes    []float64  `json:"strikes" validate:"required,min=1,dive,gt=0"`
	Ts         []float64  `json:"ts" validate:"required,min=1,dive,gt=0"`
	Type       OptionType `json:"type" default:"call" validate:"oneof=call put"`
	Mode       VolSource  `json:"mode" default:"svi" validate:"oneof=raw svi"`
}

type JobStatusRequest struct {
	ID string `query:"id" json:"id" validate:"required"`
}
