package maintenance

// OpenRequest reports a problem on a kiosk.
type OpenRequest struct {
	KioskID     int64    `json:"kiosk_id" validate:"required,gt=0"`
	Title       string   `json:"title" validate:"required,max=160"`
	Description string   `json:"description" validate:"omitempty,max=4000"`
	Priority    Priority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
}

// CloseRequest carries optional notes when resolving or cancelling.
type CloseRequest struct {
	Resolution string `json:"resolution" validate:"omitempty,max=4000"`
}
