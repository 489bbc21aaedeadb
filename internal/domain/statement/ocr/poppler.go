package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
)

// PopplerRasterizer renders single pages with pdftoppm
type PopplerRasterizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewPopplerRasterizer(cfg Config, runner Runner, logger *slog.Logger) *PopplerRasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PopplerRasterizer{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// RasterizePage renders the 0-based page as PNG
func (r *PopplerRasterizer) RasterizePage(ctx context.Context, doc extract.Document, page, dpi int) (extract.PageImage, error) {
	wd, err := newWorkdir(r.cfg.TempDir, "statement-page-*", r.logger)
	if err != nil {
		return extract.PageImage{}, fmt.Errorf("%w: %w", extract.ErrRasterizationFailed, err)
	}
	defer wd.cleanup()

	in, err := wd.write("statement.pdf", doc.Data)
	if err != nil {
		return extract.PageImage{}, fmt.Errorf("%w: %w", extract.ErrRasterizationFailed, err)
	}

	pageNum := strconv.Itoa(page + 1)
	prefix := wd.file("page")

	// pdftoppm -r <dpi> -f n -l n -png -singlefile <in.pdf> <prefix>  => <prefix>.png
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm,
		"-r", strconv.Itoa(dpi),
		"-f", pageNum,
		"-l", pageNum,
		"-png",
		"-singlefile",
		in,
		prefix,
	)
	if err != nil {
		return extract.PageImage{}, fmt.Errorf("%w: pdftoppm page %s: %w (%s)",
			extract.ErrRasterizationFailed, pageNum, err, strings.TrimSpace(string(errb)))
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return extract.PageImage{}, fmt.Errorf("%w: pdftoppm produced no image for page %s: %w",
			extract.ErrRasterizationFailed, pageNum, err)
	}

	return extract.PageImage{Page: page, Format: "png", Data: data}, nil
}
