package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/parser"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeTextProvider struct {
	pages []string
	err   error
}

func (f *fakeTextProvider) PageTexts(ctx context.Context, _ Document) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

type fakeRasterizer struct {
	calls atomic.Int32
	fail  map[int]error
}

func (f *fakeRasterizer) RasterizePage(_ context.Context, _ Document, page, dpi int) (PageImage, error) {
	f.calls.Add(1)
	if err := f.fail[page]; err != nil {
		return PageImage{}, err
	}
	return PageImage{Page: page, Format: "png", Data: []byte(fmt.Sprintf("page-%d@%d", page, dpi))}, nil
}

type fakeRecognizer struct {
	calls     atomic.Int32
	texts     map[int]string
	fail      map[int]error
	languages sync.Map
	hook      func(ctx context.Context, img PageImage) (string, error)
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img PageImage, languages string) (string, error) {
	f.calls.Add(1)
	f.languages.Store(languages, true)
	if f.hook != nil {
		return f.hook(ctx, img)
	}
	if err := f.fail[img.Page]; err != nil {
		return "", err
	}
	return f.texts[img.Page], nil
}

type fakePreprocessor struct {
	calls atomic.Int32
	err   error
}

func (f *fakePreprocessor) Prepare(_ context.Context, img PageImage) (PageImage, error) {
	f.calls.Add(1)
	if f.err != nil {
		return PageImage{}, f.err
	}
	img.Data = append([]byte("clean:"), img.Data...)
	return img, nil
}

type countingRecorder struct {
	mu          sync.Mutex
	extractions int
	lastDocType string
	lastOutcome string
	pageOK      int
	pageFailed  int
}

func (r *countingRecorder) ExtractionFinished(docType string, _ bool, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractions++
	r.lastDocType = docType
	r.lastOutcome = outcome
}

func (r *countingRecorder) PageRecognized(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if outcome != "ok" {
		r.pageFailed++
		return
	}
	r.pageOK++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type gateFixture struct {
	text   *fakeTextProvider
	raster *fakeRasterizer
	rec    *fakeRecognizer
	pre    *fakePreprocessor
	gate   *Gate
}

func newFixture(pages []string, cfg GateConfig, opts ...Option) *gateFixture {
	f := &gateFixture{
		text:   &fakeTextProvider{pages: pages},
		raster: &fakeRasterizer{fail: map[int]error{}},
		rec:    &fakeRecognizer{texts: map[int]string{}, fail: map[int]error{}},
		pre:    &fakePreprocessor{},
	}
	f.gate = NewGate(cfg, Providers{
		Text:         f.text,
		Rasterizer:   f.raster,
		Preprocessor: f.pre,
		Recognizer:   f.rec,
	}, testLogger(), opts...)
	return f
}

// ledgerPage is long enough and has enough date lines to pass the heuristic
const ledgerPage = "ESTADO DE CUENTA BANCO POPULAR DOMINICANO\n" +
	"01/03/2024 DEPOSITO EFECTIVO RD$1.000,00 RD$1.000,00\n" +
	"02/03/2024 PAGO SERVICIO RD$-100,00 RD$900,00 00123\n"

// ============================================================================
// Quality heuristic
// ============================================================================

func TestGate_StructuralTextAccepted(t *testing.T) {
	f := newFixture([]string{ledgerPage, "03/03/2024 CARGO RD$-10,00 RD$890,00"}, DefaultGateConfig())

	res, err := f.gate.ExtractBestText(context.Background(), Document{Name: "ok.pdf"})

	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, ledgerPage+"03/03/2024 CARGO RD$-10,00 RD$890,00", res.Text)
	assert.Equal(t, 2, res.Pages)
	assert.Zero(t, f.raster.calls.Load())
	assert.Zero(t, f.rec.calls.Load())
}

func TestGate_FallbackTriggers(t *testing.T) {
	longNarrative := strings.Repeat("Resumen de movimientos del periodo. ", 10)
	require.GreaterOrEqual(t, len(longNarrative), 100)

	tests := []struct {
		name  string
		pages []string
	}{
		{"short text with date lines", []string{"01/03/2024 A RD$1,00 RD$1,00\n02/03/2024 B RD$1,00 RD$2,00"}},
		{"long text with one date line", []string{longNarrative + "\n01/03/2024 A RD$1,00 RD$1,00"}},
		{"long text without date lines", []string{longNarrative}},
		{"blank pages", []string{"", ""}},
		{"date not at line start", []string{longNarrative + " 01/03/2024 x 02/03/2024 y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.pages, DefaultGateConfig())
			for i := range tt.pages {
				f.rec.texts[i] = fmt.Sprintf("0%d/04/2024 OCR PAGE %d RD$5,00 RD$5,00", i+1, i)
			}

			res, err := f.gate.ExtractBestText(context.Background(), Document{Name: "scan.pdf"})

			require.NoError(t, err)
			assert.True(t, res.UsedFallback)
			assert.Equal(t, int32(len(tt.pages)), f.rec.calls.Load())
			assert.Equal(t, len(tt.pages), res.RecognizedPages)
			for i := range tt.pages {
				assert.Contains(t, res.Text, fmt.Sprintf("OCR PAGE %d", i))
			}
		})
	}
}

func TestGate_FallbackAppendsInsteadOfReplacing(t *testing.T) {
	structural := "01/03/2024 A RD$1,00 RD$1,00"
	f := newFixture([]string{structural}, DefaultGateConfig())
	f.rec.texts[0] = "01/03/2024 A RD$1,00 RD$1,00\n02/03/2024 B RD$1,00 RD$2,00"

	res, err := f.gate.ExtractBestText(context.Background(), Document{Name: "thin.pdf"})

	require.NoError(t, err)
	assert.Equal(t, structural+"\n"+f.rec.texts[0], res.Text)
	assert.True(t, strings.HasPrefix(res.Text, structural))
}

func TestGate_ThresholdsUseCharactersNotBytes(t *testing.T) {
	// 2 date lines and 100 characters, but more than 100 bytes
	line1 := "01/03/2024 CAFÉ RD$1,00 RD$1,00\n"
	line2 := "02/03/2024 AÑO RD$1,00 RD$2,00\n"
	filler := strings.Repeat("ñ", 100-len([]rune(line1+line2)))
	text := line1 + line2 + filler
	require.Equal(t, 100, len([]rune(text)))
	require.Greater(t, len(text), 100)

	f := newFixture([]string{text}, DefaultGateConfig())
	res, err := f.gate.ExtractBestText(context.Background(), Document{})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)

	shorter := newFixture([]string{text[:len(text)-2]}, DefaultGateConfig())
	res, err = shorter.gate.ExtractBestText(context.Background(), Document{})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
}

func TestGate_PageBoundaryKeepsLineStarts(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.MinTextLength = 10
	f := newFixture([]string{"01/03/2024 A RD$1,00 RD$1,00", "02/03/2024 B RD$1,00 RD$2,00"}, cfg)

	res, err := f.gate.ExtractBestText(context.Background(), Document{})

	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, 2, parser.CountDateLines(res.Text))
}

// ============================================================================
// Ordering and failure isolation
// ============================================================================

func TestGate_RecognizedPagesKeepPageOrder(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.Concurrency = 4
	pages := []string{"", "", "", ""}
	f := newFixture(pages, cfg)

	// later pages finish first
	f.rec.hook = func(ctx context.Context, img PageImage) (string, error) {
		time.Sleep(time.Duration(len(pages)-img.Page) * 15 * time.Millisecond)
		return fmt.Sprintf("0%d/05/2024 PAGE%d RD$1,00 RD$1,00", img.Page+1, img.Page), nil
	}

	res, err := f.gate.ExtractBestText(context.Background(), Document{})

	require.NoError(t, err)
	assert.Equal(t,
		"01/05/2024 PAGE0 RD$1,00 RD$1,00\n"+
			"02/05/2024 PAGE1 RD$1,00 RD$1,00\n"+
			"03/05/2024 PAGE2 RD$1,00 RD$1,00\n"+
			"04/05/2024 PAGE3 RD$1,00 RD$1,00",
		res.Text,
	)
}

func TestGate_RecognizedTextSortsAfterStructuralText(t *testing.T) {
	structural := []string{"10/03/2024 LAST RD$1,00 RD$1,00\n", "11/03/2024 MORE RD$1,00 RD$2,00\n"}
	f := newFixture(structural, DefaultGateConfig())
	f.rec.texts[0] = "01/01/2024 EARLY RD$1,00 RD$3,00"

	res, err := f.gate.ExtractBestText(context.Background(), Document{})
	require.NoError(t, err)

	p, err := parser.New(parser.DefaultConfig(), testLogger())
	require.NoError(t, err)

	records := p.ParseTransactions(res.Text)
	var order []string
	for _, r := range records {
		order = append(order, r.Description)
	}
	assert.Equal(t, []string{"LAST", "MORE", "EARLY"}, order)
}

func TestGate_PageFailuresAreIsolated(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *gateFixture)
		wantIs    error
		wantPages int
	}{
		{
			name:      "recognition failure",
			setup:     func(f *gateFixture) { f.rec.fail[1] = errors.New("tesseract exit 1") },
			wantIs:    ErrRecognitionFailed,
			wantPages: 2,
		},
		{
			name:      "rasterization failure",
			setup:     func(f *gateFixture) { f.raster.fail[1] = errors.New("pdftoppm crashed") },
			wantIs:    ErrRasterizationFailed,
			wantPages: 2,
		},
		{
			name: "two failed pages",
			setup: func(f *gateFixture) {
				f.raster.fail[0] = fmt.Errorf("%w: bad page", ErrRasterizationFailed)
				f.rec.fail[2] = fmt.Errorf("%w: garbage", ErrRecognitionFailed)
			},
			wantIs:    ErrRasterizationFailed,
			wantPages: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &countingRecorder{}
			f := newFixture([]string{"", "", ""}, DefaultGateConfig(), WithRecorder(recorder))
			f.rec.texts = map[int]string{0: "page zero", 1: "page one", 2: "page two"}
			tt.setup(f)

			res, err := f.gate.ExtractBestText(context.Background(), Document{})

			require.NoError(t, err)
			assert.True(t, res.UsedFallback)
			assert.Equal(t, tt.wantPages, res.RecognizedPages)
			require.Len(t, res.Warnings, 3-tt.wantPages)
			assert.Contains(t, res.Warnings[0], tt.wantIs.Error())
			assert.Equal(t, 3-tt.wantPages, recorder.pageFailed)
			assert.Equal(t, tt.wantPages, recorder.pageOK)
			assert.Equal(t, 1, recorder.extractions)
			assert.Equal(t, string(statement.DocumentTypePDF), recorder.lastDocType)
			assert.Equal(t, "ok", recorder.lastOutcome)
		})
	}

	t.Run("failed page contributes no text", func(t *testing.T) {
		f := newFixture([]string{"", "", ""}, DefaultGateConfig())
		f.rec.texts = map[int]string{0: "page zero", 1: "page one", 2: "page two"}
		f.rec.fail[1] = errors.New("boom")

		res, err := f.gate.ExtractBestText(context.Background(), Document{})

		require.NoError(t, err)
		assert.Equal(t, "page zero\npage two", res.Text)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "page 2")
	})
}

func TestGate_RecognitionUnavailable(t *testing.T) {
	structural := "01/03/2024 A RD$1,00 RD$1,00"
	f := newFixture([]string{structural, ""}, DefaultGateConfig())
	f.rec.fail[0] = fmt.Errorf("%w: spa.traineddata not found", ErrRecognitionUnavailable)
	f.rec.fail[1] = fmt.Errorf("%w: spa.traineddata not found", ErrRecognitionUnavailable)

	res, err := f.gate.ExtractBestText(context.Background(), Document{})

	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, structural, res.Text)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "unavailable")
}

func TestGate_DocumentUnreadable(t *testing.T) {
	f := newFixture(nil, DefaultGateConfig())
	f.text.err = errors.New("malformed xref table")

	res, err := f.gate.ExtractBestText(context.Background(), Document{Name: "broken.pdf"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentUnreadable)
	assert.Empty(t, res.Text)
	assert.Zero(t, f.rec.calls.Load())
}

// ============================================================================
// Cancellation
// ============================================================================

func TestGate_CancellationReturnsCompletedPages(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.Concurrency = 1
	structural := "01/03/2024 A RD$1,00 RD$1,00"
	f := newFixture([]string{structural, "", ""}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.rec.hook = func(ctx context.Context, img PageImage) (string, error) {
		if img.Page == 0 {
			return "page zero", nil
		}
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	res, err := f.gate.ExtractBestText(ctx, Document{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, structural+"\npage zero", res.Text)
	assert.Equal(t, 1, res.RecognizedPages)
	assert.Empty(t, res.Warnings)
}

func TestGate_CanceledBeforeStart(t *testing.T) {
	f := newFixture([]string{ledgerPage}, DefaultGateConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.gate.ExtractBestText(ctx, Document{})

	assert.ErrorIs(t, err, ErrExtractionCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_DeadlineExceeded(t *testing.T) {
	f := newFixture([]string{""}, DefaultGateConfig())
	f.rec.hook = func(ctx context.Context, img PageImage) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := f.gate.ExtractBestText(ctx, Document{})

	assert.ErrorIs(t, err, ErrExtractionCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, res.Text)
}

// ============================================================================
// Preprocessing and configuration
// ============================================================================

func TestGate_Preprocessing(t *testing.T) {
	t.Run("disabled for pdf pages", func(t *testing.T) {
		f := newFixture([]string{""}, DefaultGateConfig())
		_, err := f.gate.ExtractBestText(context.Background(), Document{})
		require.NoError(t, err)
		assert.Zero(t, f.pre.calls.Load())
	})

	t.Run("enabled for pdf pages", func(t *testing.T) {
		cfg := DefaultGateConfig()
		cfg.Preprocess = true
		f := newFixture([]string{""}, cfg)

		var seen []byte
		f.rec.hook = func(_ context.Context, img PageImage) (string, error) {
			seen = img.Data
			return "x", nil
		}

		_, err := f.gate.ExtractBestText(context.Background(), Document{})
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.pre.calls.Load())
		assert.True(t, strings.HasPrefix(string(seen), "clean:"))
	})

	t.Run("failure falls back to the raw page", func(t *testing.T) {
		cfg := DefaultGateConfig()
		cfg.Preprocess = true
		f := newFixture([]string{""}, cfg)
		f.pre.err = errors.New("magick: no decode delegate")
		f.rec.texts[0] = "raw text"

		res, err := f.gate.ExtractBestText(context.Background(), Document{})
		require.NoError(t, err)
		assert.Equal(t, "raw text", res.Text)
	})
}

func TestGate_PassesDPIAndLanguages(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.DPI = 200
	cfg.Languages = "spa"
	f := newFixture([]string{""}, cfg)

	var data string
	f.rec.hook = func(_ context.Context, img PageImage) (string, error) {
		data = string(img.Data)
		return "", nil
	}

	_, err := f.gate.ExtractBestText(context.Background(), Document{})
	require.NoError(t, err)
	assert.Equal(t, "page-0@200", data)
	_, ok := f.rec.languages.Load("spa")
	assert.True(t, ok)
}

func TestGate_ZeroThresholdsStillFallBack(t *testing.T) {
	f := newFixture([]string{"01/03/2024 X"}, GateConfig{})
	f.rec.texts[0] = "01/03/2024 PAGO RD$1,00 RD$2,00"

	res, err := f.gate.ExtractBestText(context.Background(), Document{})

	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Contains(t, res.Text, "PAGO")
}

func TestNewGate_Defaults(t *testing.T) {
	g := NewGate(GateConfig{}, Providers{}, nil)
	assert.Equal(t, 100, g.cfg.MinTextLength)
	assert.Equal(t, 2, g.cfg.MinDateLines)
	assert.Equal(t, 300, g.cfg.DPI)
	assert.Equal(t, "eng+spa", g.cfg.Languages)
	assert.Positive(t, g.cfg.Concurrency)
}

// ============================================================================
// Image documents
// ============================================================================

func TestGate_ExtractImageText(t *testing.T) {
	t.Run("preprocesses and recognizes", func(t *testing.T) {
		f := newFixture(nil, DefaultGateConfig())
		var seen PageImage
		f.rec.hook = func(_ context.Context, img PageImage) (string, error) {
			seen = img
			return "15/03/2024 PAGO RD$1,00 RD$2,00", nil
		}

		res, err := f.gate.ExtractImageText(context.Background(), Document{Name: "Scan.JPG", Data: []byte("jpeg")})

		require.NoError(t, err)
		assert.Equal(t, "15/03/2024 PAGO RD$1,00 RD$2,00", res.Text)
		assert.True(t, res.UsedFallback)
		assert.Equal(t, 1, res.RecognizedPages)
		assert.Equal(t, "jpg", seen.Format)
		assert.Equal(t, "clean:jpeg", string(seen.Data))
		assert.Zero(t, f.raster.calls.Load())
	})

	t.Run("recognition failure is fatal", func(t *testing.T) {
		f := newFixture(nil, DefaultGateConfig())
		f.rec.fail[0] = errors.New("exit status 1")

		_, err := f.gate.ExtractImageText(context.Background(), Document{Name: "a.png", Data: []byte("png")})
		assert.ErrorIs(t, err, ErrRecognitionFailed)
	})

	t.Run("engine unavailable", func(t *testing.T) {
		f := newFixture(nil, DefaultGateConfig())
		f.rec.fail[0] = fmt.Errorf("%w: tesseract not found", ErrRecognitionUnavailable)

		_, err := f.gate.ExtractImageText(context.Background(), Document{Name: "a.png", Data: []byte("png")})
		assert.ErrorIs(t, err, ErrRecognitionUnavailable)
		assert.NotErrorIs(t, err, ErrRecognitionFailed)
	})

	t.Run("empty upload", func(t *testing.T) {
		f := newFixture(nil, DefaultGateConfig())
		_, err := f.gate.ExtractImageText(context.Background(), Document{Name: "a.png"})
		assert.ErrorIs(t, err, ErrDocumentUnreadable)
	})
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{canceled(context.Canceled), "canceled"},
		{context.DeadlineExceeded, "canceled"},
		{fmt.Errorf("%w: x", ErrDocumentUnreadable), "unreadable"},
		{fmt.Errorf("%w: x", ErrRecognitionUnavailable), "recognition_unavailable"},
		{fmt.Errorf("%w: x", ErrRasterizationFailed), "rasterization_failed"},
		{fmt.Errorf("%w: x", ErrRecognitionFailed), "recognition_failed"},
		{errors.New("other"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}
