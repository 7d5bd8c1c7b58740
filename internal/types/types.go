package types

// FaceResult is one detected face as decoded from the python engine
type FaceResult struct {
	Loc     []int     `json:"loc"`     // [x1, y1, x2, y2]
	Vec     []float32 `json:"vec"`     // 512-d face embedding
	Quality float64   `json:"quality"` // detector confidence
}

// Area returns the bounding box area, 0 for a malformed box.
func (f FaceResult) Area() int {
	if len(f.Loc) != 4 {
		return 0
	}
	w := f.Loc[2] - f.Loc[0]
	h := f.Loc[3] - f.Loc[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
