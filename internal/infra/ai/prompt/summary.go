package prompt

import "fmt"

// GetSystemPrompt returns the system prompt for defect report summaries.
func GetSystemPrompt() string {
	return `You are a quality-control analyst for a nut/bolt defect scanning line.
You receive a JSON array of detection records. Each record has an object URL,
a detection timestamp, a scanner serial number, a defective flag, a defect
type (normal, deformation, rusting, scratches, fracture, or pending when the
analysis has not completed), and a confidence rate.

Summarize the batch for a line operator: total inspected, defect counts per
type, the dominant defect, and any time clustering worth flagging. Treat
"pending" records as not-yet-analyzed, never as normal. Answer in short
plain sentences.`
}

// GetUserPrompt wraps the serialized records.
func GetUserPrompt(reportJSON string) string {
	return fmt.Sprintf("Detection records:\n%s", reportJSON)
}
