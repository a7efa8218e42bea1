package kiosks

// CreateRequest registers a kiosk owned by the company.
type CreateRequest struct {
	Code      string   `json:"code" validate:"omitempty,max=40"`
	Name      string   `json:"name" validate:"required,max=120"`
	Type      Type     `json:"type" validate:"required,oneof=STANDARD DOUBLE CORNER MOBILE"`
	Address   string   `json:"address" validate:"required,max=255"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
	Status    Status   `json:"status" validate:"omitempty"`
}

// KioskRequest asks staff to provision a new kiosk at a location.
type KioskRequest struct {
	Name           string   `json:"name" validate:"required,max=120"`
	Type           Type     `json:"type" validate:"required,oneof=STANDARD DOUBLE CORNER MOBILE"`
	Address        string   `json:"address" validate:"required,max=255"`
	Latitude       *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude      *float64 `json:"longitude" validate:"omitempty,longitude"`
	RequesterEmail string   `json:"requester_email" validate:"required,email"`
	Notes          string   `json:"notes" validate:"omitempty,max=1000"`
}

// SetStatusesRequest is the bulk status update payload.
type SetStatusesRequest struct {
	IDs    []int64 `json:"ids" validate:"min=1,dive,gt=0"`
	Status Status  `json:"status" validate:"required"`
}

// SyncResponse is the JSON form of SyncResult.
type SyncResponse struct {
	Updated int              `json:"updated"`
	Errors  map[int64]string `json:"errors"`
}

func toSyncResponse(r SyncResult) SyncResponse {
	out := SyncResponse{Updated: r.Updated, Errors: make(map[int64]string, len(r.Errors))}
	for id, err := range r.Errors {
		out.Errors[id] = err.Error()
	}
	return out
}
