package detection

import "time"

// Record is the payload pushed to live clients when a trigger fires. It is
// built once per trigger and never mutated afterwards.
type Record struct {
	ObjectURL    string      `json:"object_url"`
	DetectedAt   time.Time   `json:"detection_date"`
	SerialNumber int64       `json:"scanner_serial_number"`
	Defective    bool        `json:"is_defective"`
	DefectType   DefectClass `json:"defect_type"`
	Confidence   float64     `json:"confidence_rate"`
}

// BuildRecord combines a detection with its (possibly absent) analysis.
// A defective detection with no analysis yet is reported as ClassPending
// with zero confidence, never as normal.
func BuildRecord(d *Detection, a *Analysis, serial int64) Record {
	rec := Record{
		ObjectURL:    d.ObjectURL,
		DetectedAt:   d.CompletedAt,
		SerialNumber: serial,
		Defective:    d.Defective(),
		DefectType:   ClassNormal,
	}
	if !d.Defective() {
		return rec
	}
	if a == nil {
		rec.DefectType = ClassPending
		return rec
	}
	rec.DefectType = a.Class
	rec.Confidence = a.Confidence
	return rec
}
