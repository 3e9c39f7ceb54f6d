package entities

import "time"

// Video is an entry of the educational catalog. RelevantFor lists the stress
// types the video helps with.
type Video struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Thumbnail   string       `json:"thumbnail"`
	Duration    string       `json:"duration"`
	Category    string       `json:"category"`
	Views       int64        `json:"views"`
	UploadDate  time.Time    `json:"uploadDate"`
	URL         string       `json:"url"`
	RelevantFor []StressType `json:"relevantFor,omitempty"`
}
