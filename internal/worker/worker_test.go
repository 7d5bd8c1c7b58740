package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os/exec"
	"testing"
	"time"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/rs/zerolog"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func TestProcessScanFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Protocol: [Status:0] [NumFaces:1] [Box] [Vec] [Qual]
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(1))

	binary.Write(payload, binary.BigEndian, [4]int32{10, 10, 20, 30})

	vec := [EmbeddingDim]float32{}
	vec[0] = 0.5
	binary.Write(payload, binary.BigEndian, vec)

	binary.Write(payload, binary.BigEndian, float32(0.99))

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: framed(payload.Bytes()),
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	faces, err := w.ProcessScanFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessScanFrame failed: %v", err)
	}

	// Expect 4 bytes header + 4 bytes data
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if !bytes.Equal(sentData[4:], inputFrame) {
		t.Errorf("Expected frame bytes %X to follow the header, got %X", inputFrame, sentData[4:])
	}

	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if len(faces[0].Vec) != EmbeddingDim {
		t.Fatalf("Expected %d-d vector, got %d", EmbeddingDim, len(faces[0].Vec))
	}
	if math.Abs(float64(faces[0].Vec[0])-0.5) > 1e-6 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", faces[0].Vec[0])
	}
	if faces[0].Area() != 200 {
		t.Errorf("Expected box area 200, got %d", faces[0].Area())
	}
	if math.Abs(faces[0].Quality-0.99) > 1e-6 {
		t.Errorf("Expected quality 0.99, got %f", faces[0].Quality)
	}
}

func TestProcessScanFrame_NoFaces(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(0))

	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	faces, err := w.ProcessScanFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessScanFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessScanFrame_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1)

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	_, err := w.ProcessScanFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessScanFrame_Truncated(t *testing.T) {
	oneBox := new(bytes.Buffer)
	oneBox.WriteByte(0)
	binary.Write(oneBox, binary.BigEndian, uint32(1))
	binary.Write(oneBox, binary.BigEndian, [4]int32{0, 0, 1, 1})
	// Embedding missing entirely

	tests := []struct {
		name    string
		payload []byte
	}{
		{"missing embedding", oneBox.Bytes()},
		{"huge face count", []byte{0, 0x7f, 0xff, 0xff, 0xff}},
		{"face count without faces", []byte{0, 0, 0, 0, 2}},
		{"huge error message", []byte{1, 0xff, 0xff, 0xff, 0xff, 'x'}},
		{"missing face count", []byte{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &PythonWorker{
				Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
				DataPipe: framed(tt.payload),
			}
			if _, err := w.ProcessScanFrame([]byte("frame")); err == nil {
				t.Fatal("Expected error for malformed response, got nil")
			}
		})
	}
}

func TestCommunicate_OversizedResponse(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(pipe, binary.BigEndian, uint32(maxResponseSize+1))

	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: pipe,
	}
	if _, err := w.Communicate([]byte("frame")); err == nil {
		t.Fatal("Expected error for a response over the size limit")
	}
}

func TestProcessScanFrame_PipeClosed(t *testing.T) {
	// Python died before answering: the data pipe is empty
	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}

	if _, err := w.ProcessScanFrame([]byte("frame")); err == nil {
		t.Fatal("Expected error when the engine never answers")
	}
}

type fakeProcessor struct {
	faces  []types.FaceResult
	err    error
	closed bool
}

func (f *fakeProcessor) ProcessScanFrame([]byte) ([]types.FaceResult, error) { return f.faces, f.err }
func (f *fakeProcessor) Close()                                             { f.closed = true }

func TestSupervisor_RestartsAfterFailure(t *testing.T) {
	broken := &fakeProcessor{err: errors.New("pipe closed")}
	healthy := &fakeProcessor{faces: []types.FaceResult{{Vec: []float32{1}}}}
	queue := []*fakeProcessor{broken, healthy}
	starts := 0

	s := NewSupervisorWith(context.Background(), func(context.Context) (FrameProcessor, error) {
		p := queue[starts]
		starts++
		return p, nil
	}, zerolog.Nop())

	if _, err := s.ProcessScanFrame(nil); err == nil {
		t.Fatal("Expected first call to surface the engine error")
	}
	if !broken.closed {
		t.Error("Expected the failed engine to be closed")
	}

	faces, err := s.ProcessScanFrame(nil)
	if err != nil {
		t.Fatalf("Expected restarted engine to succeed, got %v", err)
	}
	if len(faces) != 1 {
		t.Errorf("Expected 1 face, got %d", len(faces))
	}
	if starts != 2 {
		t.Errorf("Expected 2 engine starts, got %d", starts)
	}

	s.Close()
	if !healthy.closed {
		t.Error("Expected Close to stop the running engine")
	}
}

func TestSupervisor_StartFailure(t *testing.T) {
	s := NewSupervisorWith(context.Background(), func(context.Context) (FrameProcessor, error) {
		return nil, errors.New("python3 not found")
	}, zerolog.Nop())

	if _, err := s.ProcessScanFrame(nil); err == nil {
		t.Fatal("Expected start failure to be returned")
	}
}

func TestSupervisor_HungEngineTimesOut(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	s := NewSupervisor(context.Background(), ScanConfig{
		Command:     []string{"sh", "-c", "exec sleep 20"},
		ReadTimeout: 200 * time.Millisecond,
	}, zerolog.Nop())
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.ProcessScanFrame([]byte{0xFF, 0xD8, 0xFF, 0xD9})
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected a timeout error from an engine that never answers")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ProcessScanFrame still blocked long after the read timeout")
	}
}

func TestPythonWorker_CloseKillsStuckEngine(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	// Ignores stdin closing, so only the grace period kill ends it
	w, err := NewPythonScanWorker(context.Background(), 0, ScanConfig{
		Command: []string{"sh", "-c", "exec sleep 20"},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	start := time.Now()
	w.Close()
	if elapsed := time.Since(start); elapsed > closeGrace+3*time.Second {
		t.Errorf("Close took %v, expected the engine to be killed after %v", elapsed, closeGrace)
	}
}
