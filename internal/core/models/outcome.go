package models

import "time"

// Outcome is the terminal transition of one queue item as published to listeners
type Outcome struct {
	ItemID      uint      `json:"itemId"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Log         string    `json:"log"`
	ExternalKey string    `json:"externalKey,omitempty"`
	At          time.Time `json:"at"`
}
