package drapto

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"
)

// Library implements Client using the Drapto Go library directly.
type Library struct {
	responsive bool
}

// NewLibrary constructs a Library client. Responsive mode leaves CPU headroom
// for the other stages sharing the host.
func NewLibrary(responsive bool) *Library {
	return &Library{responsive: responsive}
}

// Encode encodes inputPath into outputDir and returns the encoded file path.
func (l *Library) Encode(ctx context.Context, inputPath, outputDir string, opts EncodeOptions) (string, error) {
	if inputPath == "" {
		return "", errors.New("input path required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return "", errors.New("output directory required")
	}

	var encoderOpts []draptolib.Option
	if l.responsive {
		encoderOpts = append(encoderOpts, draptolib.WithResponsive())
	}
	encoder, err := draptolib.New(encoderOpts...)
	if err != nil {
		return "", err
	}

	var rep draptolib.Reporter
	if opts.Progress != nil {
		rep = newReporter(opts.Progress)
	}
	if _, err := encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep); err != nil {
		return "", err
	}
	return OutputPath(inputPath, outputDir), nil
}

// OutputPath is where Drapto writes the encode of inputPath.
func OutputPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(strings.TrimSpace(outputDir), stem+".mkv")
}

var _ Client = (*Library)(nil)
