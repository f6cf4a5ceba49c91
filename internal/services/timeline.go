package services

// Timeline is the advisory service-level expectation for a category: how
// urgent the category is treated and how quickly a citizen should expect a
// first response and a full resolution. It is display data, never enforced
// by rejecting writes.
type Timeline struct {
	Priority        string `json:"priority"`
	ResponseHours   int    `json:"response_hours"`
	ResolutionHours int    `json:"resolution_hours"`
}

// categoryTimelines is the fixed lookup from category name to timeline.
var categoryTimelines = map[string]Timeline{
	"Public Safety":      {Priority: "critical", ResponseHours: 6, ResolutionHours: 24},
	"Water Leak":         {Priority: "critical", ResponseHours: 24, ResolutionHours: 48},
	"Drainage Problems":  {Priority: "critical", ResponseHours: 24, ResolutionHours: 48},
	"Road Repair":        {Priority: "high", ResponseHours: 72, ResolutionHours: 336},
	"Garbage Collection": {Priority: "high", ResponseHours: 72, ResolutionHours: 240},
	"Street Light Issue": {Priority: "medium", ResponseHours: 120, ResolutionHours: 336},
	"Traffic Signal":     {Priority: "medium", ResponseHours: 120, ResolutionHours: 336},
	"Parking Violation":  {Priority: "low", ResponseHours: 168, ResolutionHours: 504},
	"Noise Complaint":    {Priority: "low", ResponseHours: 168, ResolutionHours: 504},
	"Others":             {Priority: "medium", ResponseHours: 120, ResolutionHours: 336},
}

// defaultTimeline covers categories missing from the lookup table.
var defaultTimeline = Timeline{Priority: "medium", ResponseHours: 120, ResolutionHours: 336}

// TimelineFor returns the expected-response timeline for a category name.
// Pure and deterministic: same input, same output, no state.
func TimelineFor(category string) Timeline {
	if timeline, ok := categoryTimelines[category]; ok {
		return timeline
	}
	return defaultTimeline
}
