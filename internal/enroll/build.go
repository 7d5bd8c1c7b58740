package enroll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// MinReferenceImages is how many images the capture step is expected to leave
// behind before enrollment counts as complete.
const MinReferenceImages = 200

// FaceEncoder turns an encoded image into detected faces.
type FaceEncoder interface {
	ProcessScanFrame(frame []byte) ([]types.FaceResult, error)
}

// BuildOptions controls Build.
type BuildOptions struct {
	Progress io.Writer // progress bar output, nil disables the bar
	Log      zerolog.Logger
}

// ListReferenceImages returns the .jpg/.jpeg/.png files in dir, sorted by name.
func ListReferenceImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Ready reports whether dir holds enough reference images.
func Ready(dir string) (int, bool) {
	files, err := ListReferenceImages(dir)
	if err != nil {
		return 0, false
	}
	return len(files), len(files) > MinReferenceImages
}

// Build encodes every reference image in dir. Every face found contributes one
// row, images without a face contribute nothing.
func Build(ctx context.Context, dir string, enc FaceEncoder, opts BuildOptions) (*ReferenceSet, error) {
	files, err := ListReferenceImages(dir)
	if err != nil {
		return nil, fmt.Errorf("list reference images: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no reference images in %s: %w", dir, ErrEmptySet)
	}

	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("🧬 Encoding reference images"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
	)

	var vectors [][]float32
	skipped := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar.Add(1)

		data, err := os.ReadFile(path)
		if err != nil {
			opts.Log.Warn().Err(err).Str("file", path).Msg("skipping unreadable reference image")
			skipped++
			continue
		}

		faces, err := enc.ProcessScanFrame(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
		}
		if len(faces) == 0 {
			skipped++
			continue
		}
		for _, f := range faces {
			vectors = append(vectors, f.Vec)
		}
	}
	bar.Finish()

	opts.Log.Info().
		Int("images", len(files)).
		Int("skipped", skipped).
		Int("embeddings", len(vectors)).
		Msg("reference images encoded")

	if len(vectors) == 0 {
		return nil, fmt.Errorf("no faces found in %d reference images: %w", len(files), ErrEmptySet)
	}
	return NewReferenceSet(vectors)
}

// LoadOrBuild returns the cached set at cachePath, building and saving it from
// imageDir when no cache exists yet.
func LoadOrBuild(ctx context.Context, cachePath, imageDir string, enc FaceEncoder, opts BuildOptions) (*ReferenceSet, error) {
	set, err := Load(cachePath)
	if err == nil {
		opts.Log.Debug().Str("path", cachePath).Int("embeddings", set.Len()).Msg("loaded embeddings cache")
		return set, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load embeddings cache: %w", err)
	}

	if n, ok := Ready(imageDir); !ok {
		opts.Log.Warn().Int("images", n).Int("expected_over", MinReferenceImages).
			Msg("reference image capture looks incomplete")
	}

	return Rebuild(ctx, cachePath, imageDir, enc, opts)
}

// Rebuild encodes imageDir and replaces the cache at cachePath. The old cache
// is left untouched when encoding fails.
func Rebuild(ctx context.Context, cachePath, imageDir string, enc FaceEncoder, opts BuildOptions) (*ReferenceSet, error) {
	set, err := Build(ctx, imageDir, enc, opts)
	if err != nil {
		return nil, err
	}
	if err := Save(cachePath, set); err != nil {
		return nil, fmt.Errorf("save embeddings cache: %w", err)
	}
	return set, nil
}
