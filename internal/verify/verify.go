// Package verify decides whether the person in front of the camera is the
// enrolled owner.
//
// Verification never fails loudly: every problem, from an empty frame to a
// broken distance computation, ends in a non-matching Result. Only
// OutcomeMatch grants access.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/visage/internal/enroll"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/rs/zerolog"
)

// DefaultThreshold is the Euclidean distance below which two FaceNet
// embeddings are considered the same person.
const DefaultThreshold = 0.8

// Outcome classifies a verification attempt.
type Outcome int

const (
	OutcomeNoMatch Outcome = iota
	OutcomeMatch
	OutcomeNoFace
	OutcomeNoReference
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeNoFace:
		return "no_face"
	case OutcomeNoReference:
		return "no_reference"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the verdict of one verification.
type Result struct {
	Outcome     Outcome
	MinDistance float64 // NaN unless a distance was computed
	Err         error   // set for OutcomeFailure
}

// Matched reports whether access should be granted.
func (r Result) Matched() bool {
	return r.Outcome == OutcomeMatch
}

var (
	errEmptySample = errors.New("empty sample embedding")
	errNotFinite   = errors.New("distance is not finite")
)

// Capturer grabs one live frame. A nil frame means nothing was captured.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Encoder detects faces in a frame and embeds them.
type Encoder interface {
	ProcessScanFrame(frame []byte) ([]types.FaceResult, error)
}

// Engine verifies live samples against the owner's reference set.
type Engine struct {
	capture   Capturer
	encoder   Encoder
	refs      *enroll.ReferenceSet
	threshold float64
	log       zerolog.Logger
}

// NewEngine returns an Engine. A threshold <= 0 selects DefaultThreshold.
func NewEngine(c Capturer, e Encoder, refs *enroll.ReferenceSet, threshold float64, log zerolog.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{capture: c, encoder: e, refs: refs, threshold: threshold, log: log}
}

// Threshold returns the configured match threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Verify captures one frame and compares the largest face in it to the reference set.
func (e *Engine) Verify(ctx context.Context) Result {
	if e.refs.Len() == 0 {
		return Result{Outcome: OutcomeNoReference, MinDistance: math.NaN()}
	}

	frame, err := e.capture.Capture(ctx)
	if err != nil {
		e.log.Debug().Err(err).Msg("capture failed, treating as no face")
		return Result{Outcome: OutcomeNoFace, MinDistance: math.NaN()}
	}
	if len(frame) == 0 {
		return Result{Outcome: OutcomeNoFace, MinDistance: math.NaN()}
	}

	faces, err := e.encoder.ProcessScanFrame(frame)
	if err != nil {
		return Result{Outcome: OutcomeFailure, MinDistance: math.NaN(), Err: fmt.Errorf("encode frame: %w", err)}
	}

	face, ok := largestFace(faces)
	if !ok {
		return Result{Outcome: OutcomeNoFace, MinDistance: math.NaN()}
	}
	if len(faces) > 1 {
		e.log.Debug().Int("faces", len(faces)).Msg("multiple faces in frame, using the largest")
	}

	return Evaluate(face.Vec, e.refs.Vectors(), e.threshold)
}

// Evaluate compares sample to refs. It is Verify without the capture step.
func Evaluate(sample []float32, refs [][]float32, threshold float64) Result {
	if len(refs) == 0 {
		return Result{Outcome: OutcomeNoReference, MinDistance: math.NaN()}
	}
	if len(sample) == 0 {
		return Result{Outcome: OutcomeNoFace, MinDistance: math.NaN()}
	}

	d, err := MinDistance(sample, refs)
	if err != nil {
		return Result{Outcome: OutcomeFailure, MinDistance: math.NaN(), Err: err}
	}
	if d < threshold {
		return Result{Outcome: OutcomeMatch, MinDistance: d}
	}
	return Result{Outcome: OutcomeNoMatch, MinDistance: d}
}

// MinDistance returns the smallest Euclidean distance from sample to any row of refs.
// Mismatched dimensions and non-finite distances are errors.
func MinDistance(sample []float32, refs [][]float32) (float64, error) {
	if len(sample) == 0 {
		return 0, errEmptySample
	}
	if len(refs) == 0 {
		return 0, enroll.ErrEmptySet
	}

	best := math.Inf(1)
	for i, ref := range refs {
		if len(ref) != len(sample) {
			return 0, fmt.Errorf("reference %d has dimension %d, sample has %d", i, len(ref), len(sample))
		}
		d := EuclideanDistance(sample, ref)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, fmt.Errorf("reference %d: %w", i, errNotFinite)
		}
		if d < best {
			best = d
		}
	}
	return best, nil
}

// EuclideanDistance assumes len(a) == len(b).
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// largestFace picks the face with the biggest bounding box, ignoring faces
// without an embedding.
func largestFace(faces []types.FaceResult) (types.FaceResult, bool) {
	best := -1
	bestArea := -1
	for i, f := range faces {
		if len(f.Vec) == 0 {
			continue
		}
		if a := f.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	if best == -1 {
		return types.FaceResult{}, false
	}
	return faces[best], true
}
