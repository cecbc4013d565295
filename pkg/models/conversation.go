package models

// Conversation is owned by the external conversation service; the sync core
// only reads it to key subscriptions and caches. Status and priority are
// mutated by collaborator services, never here.
type Conversation struct {
	ID       string `json:"id"`
	Subject  string `json:"subject,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}
