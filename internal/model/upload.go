package model

import "time"

// UploadBundleResponse is returned after a project bundle upload
type UploadBundleResponse struct {
	InputKey  string    `json:"inputKey"`
	FileURL   string    `json:"fileUrl"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
