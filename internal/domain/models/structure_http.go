package models

import "time"

// Requests for structure HTTP endpoints.

type StructureRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,ticker"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1s 1m 5m 15m 1h"`
}

type SwingsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,ticker"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1s 1m 5m 15m 1h"`
	Kind   string `query:"kind" json:"kind" default:"all" validate:"oneof=high low all"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type ReplayRequest struct {
	Symbol string    `json:"symbol" validate:"required,ticker"`
	TF     string    `json:"tf" default:"1m" validate:"oneof=1s 1m 5m 15m 1h"`
	From   time.Time `json:"from" validate:"required"`
	To     time.Time `json:"to" validate:"required,gtfield=From"`
	Limit  int       `json:"limit" default:"20000" validate:"gte=1,lte=100000"`
}
