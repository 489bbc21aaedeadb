package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
)

// MagickPreprocessor converts an image to grayscale, straightens it and
// stretches its contrast, which noticeably helps tesseract on phone photos.
type MagickPreprocessor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewMagickPreprocessor(cfg Config, runner Runner, logger *slog.Logger) *MagickPreprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MagickPreprocessor{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

func (p *MagickPreprocessor) Prepare(ctx context.Context, img extract.PageImage) (extract.PageImage, error) {
	wd, err := newWorkdir(p.cfg.TempDir, "statement-prep-*", p.logger)
	if err != nil {
		return extract.PageImage{}, err
	}
	defer wd.cleanup()

	in, err := wd.write("in."+imageExt(img.Format), img.Data)
	if err != nil {
		return extract.PageImage{}, err
	}
	out := wd.file("out.png")

	// magick <in> -colorspace Gray -deskew 80% -normalize <out.png>
	_, errb, err := p.runner.Run(ctx, p.cfg.Magick,
		in,
		"-colorspace", "Gray",
		"-deskew", "80%",
		"-normalize",
		out,
	)
	if err != nil {
		return extract.PageImage{}, fmt.Errorf("magick: %w (%s)", err, strings.TrimSpace(string(errb)))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return extract.PageImage{}, fmt.Errorf("magick produced no output: %w", err)
	}

	return extract.PageImage{Page: img.Page, Format: "png", Data: data}, nil
}
