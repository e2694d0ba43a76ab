// internal/model/send_result.go
package model

// SendResult aggregates per-recipient outcomes of one campaign send.
type SendResult struct {
	Success    bool   `json:"success"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Suppressed int    `json:"suppressed"`
	Total      int    `json:"total"`
	Status     string `json:"status,omitempty"`
}

// FinalStatus classifies the run: no failures is sent, a mix is
// partially_sent, and only failures is failed.
func (r SendResult) FinalStatus() string {
	switch {
	case r.Failed == 0:
		return StatusSent
	case r.Sent > 0:
		return StatusPartiallySent
	default:
		return StatusFailed
	}
}
