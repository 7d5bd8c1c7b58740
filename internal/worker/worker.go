package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/utils" // Using the SafeCommand wrapper
)

// EmbeddingDim is the size of the FaceNet (InceptionResnetV1) embedding.
const EmbeddingDim = 512

const (
	statusOK    byte = 0
	statusError byte = 1
)

const (
	// maxResponseSize caps a single engine reply; anything larger means the
	// stream is out of sync.
	maxResponseSize = 64 << 20
	// faceRecordSize is one encoded face: box, embedding, quality.
	faceRecordSize = 4*4 + 4*EmbeddingDim + 4
	// closeGrace is how long Close waits for the engine to exit on its own.
	closeGrace = 2 * time.Second
)

// ScanConfig tunes the python face engine.
type ScanConfig struct {
	Command            []string // e.g. ["python3", "-u", "python/engine.py"]
	DetectionThreshold float64
	ReadTimeout        time.Duration
}

// DefaultCommand is the engine started when ScanConfig.Command is empty.
var DefaultCommand = []string{"python3", "-u", "python/engine.py"}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonScanWorker starts the face detection+encoding engine.
func NewPythonScanWorker(ctx context.Context, id int, cfg ScanConfig) (*PythonWorker, error) {
	command := cfg.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	args := append([]string{}, command[1:]...)
	if cfg.DetectionThreshold > 0 {
		args = append(args, "--detection-threshold", strconv.FormatFloat(cfg.DetectionThreshold, 'f', -1, 64))
	}
	py := utils.NewSafeCommand(ctx, command[0], args...)
	py.Cmd.WaitDelay = closeGrace

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// os.File pipes support deadlines; in-memory mocks don't need them.
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		defer d.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseSize {
		return nil, fmt.Errorf("response of %d bytes exceeds %d byte limit", respLen, maxResponseSize)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessScanFrame sends an encoded image and decodes the faces found in it.
// Protocol: [Status:0] [NumFaces] ([Box] [Vec] [Qual])... or [Status:1] [MsgLen] [Msg]
func (w *PythonWorker) ProcessScanFrame(frame []byte) ([]types.FaceResult, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return decodeScanResponse(resp)
}

func decodeScanResponse(resp []byte) ([]types.FaceResult, error) {
	if len(resp) == 0 {
		return nil, errors.New("empty response from python worker")
	}
	r := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		if int64(msgLen) > int64(r.Len()) {
			return nil, fmt.Errorf("malformed error response: message of %d bytes, %d left", msgLen, r.Len())
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown python worker status %d", resp[0])
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}
	if uint64(numFaces)*faceRecordSize > uint64(r.Len()) {
		return nil, fmt.Errorf("malformed face count: %d faces need %d bytes, %d left",
			numFaces, uint64(numFaces)*faceRecordSize, r.Len())
	}

	faces := make([]types.FaceResult, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var box [4]int32
		vec := make([]float32, EmbeddingDim)
		var quality float32

		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: malformed box: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return nil, fmt.Errorf("face %d: malformed embedding: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &quality); err != nil {
			return nil, fmt.Errorf("face %d: malformed quality: %w", i, err)
		}

		faces = append(faces, types.FaceResult{
			Loc:     []int{int(box[0]), int(box[1]), int(box[2]), int(box[3])},
			Vec:     vec,
			Quality: float64(quality),
		})
	}
	return faces, nil
}

// Close shuts the engine down and waits for it to exit. An engine still
// running after closeGrace is killed.
func (w *PythonWorker) Close() {
	w.shutdown(closeGrace)
}

// Kill stops the engine without waiting for it to notice its closed stdin.
func (w *PythonWorker) Kill() {
	w.shutdown(0)
}

func (w *PythonWorker) shutdown(grace time.Duration) {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd == nil || w.Cmd.Process == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		w.Cmd.Wait()
		close(done)
	}()

	if grace > 0 {
		select {
		case <-done:
			return
		case <-time.After(grace):
		}
	}
	_ = w.Cmd.Process.Kill()
	<-done
}
