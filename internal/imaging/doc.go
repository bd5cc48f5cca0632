// Package imaging provides the stack model and the numeric helpers used by
// microscopy analysis scripts.
//
// A Stack is a multi-dimensional image of 2D planes along channel (C), depth
// (Z) and time (T). Planes are stored in XYCZT order and addressed with
// 1-based (c, z, t) indices. Pixel values are kept unscaled, so an 8-bit
// stack holds 0-255 and a 16-bit stack 0-65535.
//
// # Operations
//
//   - Statistics: MeanAndStdDev, Percentage, StackStatistics
//   - Focus: FindFocus, FindFocusPerFrame, FocusScores
//   - Thresholding: ThresholdValue, ApplyThreshold, StackHistogram
//   - Arithmetic: Subtract, MaxProjection
//   - Geometry and display: CropStack, Preview, DisplayImage, Composite
//   - Titles: SanitizeTitle
//
// # Coordinate System
//
// Pixel coordinates are 0-based with (0,0) at the top-left corner, X
// increasing rightward and Y downward. Regions follow image.Rectangle
// semantics: Min is inclusive, Max is exclusive.
//
// # Thread Safety
//
// PlaneCache is safe for concurrent use. Stack operations that return a new
// stack never modify their inputs. Mutating a stack (SetPlane) while other
// goroutines read it must be synchronized by the caller.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Positions outside the stack (ErrDimensionMismatch for shape mismatches)
//   - Multi-channel input where a single channel is required (ErrMultiChannel)
//   - Unknown focus or threshold method names (ErrUnknownMethod)
//   - File I/O and decoding errors during plane loading
package imaging
