package em

// Default geometry for the detector readout. All of these can be overridden
// through config.CalibrationConfig; the values here match the instrument the
// training data was recorded with.
const (
	// DefaultCanvasSize is the side length of the working canvas that hits
	// are accumulated onto before windowing.
	DefaultCanvasSize = 101
	// DefaultSearchWindow is the side length of the centered window scanned
	// for the peak pixel.
	DefaultSearchWindow = 11
	// DefaultPatchSize is the side length of the extracted event patch.
	DefaultPatchSize = 10
	// DefaultBinCount is the number of error bins per axis.
	DefaultBinCount = 10
	// DefaultPixelSize is the physical pitch of one pixel.
	DefaultPixelSize = 10.0
	// DefaultErrRangeMin and DefaultErrRangeMax bound the continuous error
	// covered by the bin grid: ±(SearchWindow/2 + 0.5) pixels of pitch.
	DefaultErrRangeMin = -55.0
	DefaultErrRangeMax = 55.0
)

// PixelHit is one sparse readout sample: a count deposited at (Row, Col).
// Multiple hits may land on the same pixel and accumulate.
type PixelHit struct {
	Row    int
	Col    int
	Counts float64
}

// Event is one detection event: its sparse hit list plus the ground-truth
// incidence offset (physical units, relative to the central pixel).
// Events are immutable once read from the store.
type Event struct {
	ID   int64
	Hits []PixelHit

	// XInc, YInc are the true sub-pixel incidence offsets.
	XInc float64
	YInc float64
}

// PeakShift is the integer offset of the strongest pixel relative to the
// canvas center, in (row, col) order.
type PeakShift struct {
	Row int
	Col int
}

// PhysErr is a continuous incidence error in physical units.
type PhysErr struct {
	X float64
	Y float64
}

// Patch is a dense square pixel-count image extracted around one event.
// Pix is row-major; Size is the side length.
type Patch struct {
	Size int
	Pix  []float64
}

// NewPatch allocates a zeroed Size×Size patch.
func NewPatch(size int) Patch {
	return Patch{Size: size, Pix: make([]float64, size*size)}
}

// Idx returns the flat index of (row, col).
func (p Patch) Idx(row, col int) int { return row*p.Size + col }

// At returns the value at (row, col).
func (p Patch) At(row, col int) float64 { return p.Pix[row*p.Size+col] }

// Set stores v at (row, col).
func (p Patch) Set(row, col int, v float64) { p.Pix[row*p.Size+col] = v }
