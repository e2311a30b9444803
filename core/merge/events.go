package merge

// EventType names a merge progress event.
type EventType string

const (
	EventStarted          EventType = "started"
	EventDocumentAppended EventType = "document_appended"
	EventResourceConflict EventType = "resource_conflict"
	EventCompleted        EventType = "completed"
)

// Event reports merge progress to an Observer.
type Event struct {
	Type     EventType `json:"type"`
	Index    int       `json:"index"` // input index, -1 for started/completed
	Total    int       `json:"total"`
	Location string    `json:"location,omitempty"`
	Nodes    int       `json:"nodes,omitempty"`
	Conflict *Conflict `json:"conflict,omitempty"`
}

// Observer receives events synchronously, in merge order. It must not block.
type Observer func(Event)
