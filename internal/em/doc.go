// Package em owns the event-level data model for the EM pixel detector
// incidence pipeline.
//
// Responsibilities: sparse hit accumulation onto a working canvas, peak
// search and window extraction, and discretization of continuous incidence
// errors into bin labels.
// Key types: Event, Canvas, Patch, Extractor, Discretizer.
//
// Coordinate conventions: (row, col) index pixel space with row as the y
// axis; physical errors are (x, y) with x derived from the column shift and
// y from the row shift.
package em
