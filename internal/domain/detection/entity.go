package detection

import (
	"time"
)

// DetectionID identifier type
type DetectionID int64

// Detection type values as persisted by the vision pipeline.
const (
	TypeNormal    = 0
	TypeDefective = 1
)

// Detection is one captured object passing the scanner.
type Detection struct {
	ID          DetectionID `json:"id"`
	ScannerID   int64       `json:"scanner_id"`
	ObjectURL   string      `json:"object_url"`
	CompletedAt time.Time   `json:"completed_at"`
	Type        int         `json:"detection_type"` // TypeNormal | TypeDefective
}

// Defective reports whether the vision pipeline flagged this object.
func (d *Detection) Defective() bool { return d.Type == TypeDefective }

// DefectClass is the closed set of analysis outcomes.
type DefectClass string

const (
	ClassNormal      DefectClass = "normal"
	ClassDeformation DefectClass = "deformation"
	ClassRusting     DefectClass = "rusting"
	ClassScratches   DefectClass = "scratches"
	ClassFracture    DefectClass = "fracture"

	// ClassPending marks a defective detection whose analysis row has not
	// been written yet. Distinct from ClassNormal: an unanalyzed object is
	// not a confirmed-good object.
	ClassPending DefectClass = "pending"
)

// Valid reports whether c is one of the closed variants.
func (c DefectClass) Valid() bool {
	switch c {
	case ClassNormal, ClassDeformation, ClassRusting, ClassScratches, ClassFracture, ClassPending:
		return true
	}
	return false
}

// Analysis is the per-detection classification row.
type Analysis struct {
	ID          int64       `json:"id"`
	DetectionID DetectionID `json:"detection_id"`
	Class       DefectClass `json:"class"`
	Confidence  float64     `json:"confidence"`
	CreatedAt   time.Time   `json:"created_at"`
}
