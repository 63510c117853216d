package models

type CreateJobRequest struct {
	Prompt        string   `json:"prompt" binding:"required"`
	InputImageIDs []string `json:"input_image_ids" binding:"required,min=1,max=4,dive,uuid"`
	// NumImages defaults to 1.
	NumImages    int    `json:"num_images,omitempty" binding:"omitempty,min=1,max=4"`
	OutputFormat string `json:"output_format,omitempty" binding:"omitempty,oneof=jpeg png"`
}

type CommitUploadRequest struct {
	Key string `json:"key" binding:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
