package parser

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

func newTestParser(t testing.TB, mutate ...func(*Config)) *Parser {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParser_ParseTransactions(t *testing.T) {
	p := newTestParser(t)

	t.Run("line with check number", func(t *testing.T) {
		records := p.ParseTransactions("15/03/2024 PAGO SERVICIO RD$1.234,56 RD$45.000,00 00123")

		require.Len(t, records, 1)
		r := records[0]
		assert.True(t, r.Date.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, "PAGO SERVICIO", r.Description)
		assert.True(t, r.Amount.Equal(dec("1234.56")), "amount %s", r.Amount)
		assert.True(t, r.Balance.Equal(dec("45000.00")), "balance %s", r.Balance)
		assert.Equal(t, "00123", r.CheckNumber)
		assert.Equal(t, int64(0), r.ID)
		assert.Equal(t, 1, r.Line)
	})

	t.Run("non-breaking spaces from the text layer", func(t *testing.T) {
		tests := []string{
			"15/03/2024\u00a0PAGO SERVICIO RD$1.234,56 RD$45.000,00 00123",
			"15/03/2024 PAGO SERVICIO RD$\u00a01.234,56 RD$\u00a045.000,00\u00a000123",
			"15/03/2024 PAGO SERVICIO\u00a0RD$1.234,56\u202fRD$45.000,00 00123",
		}
		for _, line := range tests {
			records := p.ParseTransactions(line)

			require.Len(t, records, 1, "%q", line)
			assert.Equal(t, "PAGO SERVICIO", records[0].Description)
			assert.True(t, records[0].Amount.Equal(dec("1234.56")), "amount %s", records[0].Amount)
			assert.True(t, records[0].Balance.Equal(dec("45000.00")), "balance %s", records[0].Balance)
			assert.Equal(t, "00123", records[0].CheckNumber)
			assert.Equal(t, CountDateLines(line), len(records))
		}
	})

	t.Run("debit without check number", func(t *testing.T) {
		records := p.ParseTransactions("15/03/2024 RETIRO CAJERO RD$-500,00 RD$44.500,00")

		require.Len(t, records, 1)
		assert.True(t, records[0].Amount.Equal(dec("-500.00")))
		assert.Equal(t, "-500.00", records[0].Amount.StringFixed(2))
		assert.True(t, records[0].IsDebit())
		assert.Equal(t, "", records[0].CheckNumber)
	})

	t.Run("trailing minus marks a debit", func(t *testing.T) {
		records := p.ParseTransactions("02/01/2024 COMISION RD$1.234,56- RD$10,00")

		require.Len(t, records, 1)
		assert.True(t, records[0].Amount.Equal(dec("-1234.56")))
	})

	t.Run("whitespace after the marker", func(t *testing.T) {
		records := p.ParseTransactions("02/01/2024 DEPOSITO RD$ 100,00 RD$  1.100,00")

		require.Len(t, records, 1)
		assert.True(t, records[0].Amount.Equal(dec("100")))
		assert.True(t, records[0].Balance.Equal(dec("1100")))
	})

	t.Run("description is trimmed and keeps inner spacing", func(t *testing.T) {
		records := p.ParseTransactions("02/01/2024    PAGO   LUZ EDESUR    RD$10,00 RD$20,00")

		require.Len(t, records, 1)
		assert.Equal(t, "PAGO   LUZ EDESUR", records[0].Description)
	})

	t.Run("description containing currency-looking text", func(t *testing.T) {
		records := p.ParseTransactions("05/02/2024 RECARGA RD$50 CLARO RD$50,00 RD$1.000,00")

		require.Len(t, records, 1)
		assert.Equal(t, "RECARGA RD$50 CLARO", records[0].Description)
		assert.True(t, records[0].Amount.Equal(dec("50")))
		assert.True(t, records[0].Balance.Equal(dec("1000")))
	})

	t.Run("only the first trailing token is the check", func(t *testing.T) {
		records := p.ParseTransactions("05/02/2024 CHEQUE RD$-75,00 RD$925,00 004512 OFICINA")

		require.Len(t, records, 1)
		assert.Equal(t, "004512", records[0].CheckNumber)
	})

	t.Run("blank trailing space is not a check", func(t *testing.T) {
		records := p.ParseTransactions("05/02/2024 CHEQUE RD$-75,00 RD$925,00   \t")

		require.Len(t, records, 1)
		assert.Equal(t, "", records[0].CheckNumber)
	})

	t.Run("windows line endings", func(t *testing.T) {
		text := "01/01/2024 A RD$1,00 RD$1,00 77\r\n02/01/2024 B RD$2,00 RD$3,00\r\n"
		records := p.ParseTransactions(text)

		require.Len(t, records, 2)
		assert.Equal(t, "77", records[0].CheckNumber)
		assert.Equal(t, "", records[1].CheckNumber)
	})

	t.Run("date must start the line", func(t *testing.T) {
		records := p.ParseTransactions("  15/03/2024 PAGO RD$1,00 RD$2,00\nREF 15/03/2024 PAGO RD$1,00 RD$2,00")
		assert.Empty(t, records)
	})

	t.Run("zero matches is an empty slice", func(t *testing.T) {
		records := p.ParseTransactions("ESTADO DE CUENTA\nBANCO POPULAR\nBalance anterior")
		assert.NotNil(t, records)
		assert.Empty(t, records)

		assert.NotNil(t, p.ParseTransactions(""))
	})
}

func TestParser_NextLineIsNotACheckNumber(t *testing.T) {
	p := newTestParser(t)

	text := "15/03/2024 RETIRO CAJERO RD$-500,00 RD$44.500,00\n16/03/2024 DEPOSITO RD$1.000,00 RD$45.500,00"
	records := p.ParseTransactions(text)

	require.Len(t, records, 2)
	assert.Equal(t, "", records[0].CheckNumber)
	assert.Equal(t, "DEPOSITO", records[1].Description)
}

func TestParser_DropAndContinue(t *testing.T) {
	p := newTestParser(t)

	valid := []string{
		"01/03/2024 DEPOSITO RD$1.000,00 RD$1.000,00",
		"02/03/2024 PAGO RD$-100,00 RD$900,00",
		"03/03/2024 CARGO RD$-10,00 RD$890,00",
	}

	t.Run("unparseable date drops exactly one line", func(t *testing.T) {
		base := strings.Join(valid, "\n")
		withBad := strings.Join([]string{valid[0], "99/99/2024 PAGO RD$-100,00 RD$900,00", valid[2]}, "\n")

		baseResult := p.Parse(base)
		badResult := p.Parse(withBad)

		assert.Len(t, baseResult.Records, 3)
		assert.Len(t, badResult.Records, 2)
		assert.Equal(t, 3, badResult.Matched)
		require.Len(t, badResult.Rejected, 1)
		assert.Equal(t, 2, badResult.Rejected[0].Line)
		assert.Equal(t, "date", badResult.Rejected[0].Field)
		assert.Equal(t, "99/99/2024", badResult.Rejected[0].Value)
	})

	t.Run("impossible calendar date", func(t *testing.T) {
		result := p.Parse("31/02/2024 PAGO RD$1,00 RD$1,00\n" + valid[0])

		assert.Len(t, result.Records, 1)
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "date", result.Rejected[0].Field)
	})

	t.Run("amount without digits", func(t *testing.T) {
		result := p.Parse("01/03/2024 PAGO RD$.,- RD$1,00\n" + valid[1])

		assert.Len(t, result.Records, 1)
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "amount", result.Rejected[0].Field)
	})

	t.Run("malformed balance", func(t *testing.T) {
		result := p.Parse(valid[0] + "\n01/03/2024 PAGO RD$1,00 RD$1,2,3")

		assert.Len(t, result.Records, 1)
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "balance", result.Rejected[0].Field)
		assert.Equal(t, 2, result.Rejected[0].Line)
		assert.Contains(t, result.Rejected[0].String(), "line 2, field balance")
	})

	t.Run("narrative lines are not rejections", func(t *testing.T) {
		result := p.Parse("Pagina 1 de 2\n" + valid[0] + "\nTotal RD$1.000,00")

		assert.Len(t, result.Records, 1)
		assert.Equal(t, 1, result.Matched)
		assert.Empty(t, result.Rejected)
	})
}

func TestParser_OrderAndIdempotence(t *testing.T) {
	p := newTestParser(t)

	page1 := "01/03/2024 C RD$3,00 RD$3,00\n28/02/2024 B RD$2,00 RD$5,00\n"
	page2 := "15/01/2024 A RD$1,00 RD$6,00\n"
	recognized := "10/03/2024 Z RD$-1,00 RD$5,00\n01/01/2024 Y RD$-1,00 RD$4,00"
	text := page1 + page2 + recognized

	first := p.ParseTransactions(text)
	second := p.ParseTransactions(text)

	require.Len(t, first, 5)
	assert.Equal(t, first, second)

	var order []string
	for _, r := range first {
		order = append(order, r.Description)
	}
	assert.Equal(t, []string{"C", "B", "A", "Z", "Y"}, order)

	for i := 1; i < len(first); i++ {
		assert.Greater(t, first[i].Line, first[i-1].Line)
	}
}

func TestParser_Duplicates(t *testing.T) {
	p := newTestParser(t)

	line := "01/03/2024 PAGO RD$-100,00 RD$900,00"
	records := p.ParseTransactions(line + "\n" + line)

	assert.Len(t, records, 2)
}

func TestParser_Config(t *testing.T) {
	t.Run("empty marker", func(t *testing.T) {
		_, err := New(Config{CurrencyMarker: "  "}, nil)
		assert.ErrorIs(t, err, ErrEmptyCurrencyMarker)
	})

	t.Run("zero config fields get defaults", func(t *testing.T) {
		p, err := New(Config{CurrencyMarker: "RD$"}, nil)
		require.NoError(t, err)

		records := p.ParseTransactions("15/03/2024 PAGO RD$1.234,56 RD$45.000,00")
		require.Len(t, records, 1)
		assert.True(t, records[0].Amount.Equal(dec("1234.56")))
		assert.Equal(t, time.UTC, records[0].Date.Location())
	})

	t.Run("custom marker is matched literally", func(t *testing.T) {
		p := newTestParser(t, func(c *Config) {
			c.CurrencyMarker = "US$"
			c.NumberFormat = USFormat
		})

		records := p.ParseTransactions(
			"15/03/2024 WIRE OUT US$-1,250.00 US$8,750.00 991\n" +
				"15/03/2024 PAGO RD$1.234,56 RD$45.000,00",
		)
		require.Len(t, records, 1)
		assert.True(t, records[0].Amount.Equal(dec("-1250")))
		assert.True(t, records[0].Balance.Equal(dec("8750")))
		assert.Equal(t, "991", records[0].CheckNumber)
	})

	t.Run("marker with regexp metacharacters", func(t *testing.T) {
		p := newTestParser(t, func(c *Config) { c.CurrencyMarker = "R$.*" })

		assert.Len(t, p.ParseTransactions("15/03/2024 X R$.*1,00 R$.*2,00"), 1)
		assert.Empty(t, p.ParseTransactions("15/03/2024 X R$abc1,00 R$abc2,00"))
	})

	t.Run("detected number format", func(t *testing.T) {
		p := newTestParser(t, func(c *Config) { c.DetectFormat = true })

		result := p.Parse("15/03/2024 POS RD$1,234.56 RD$45,000.00\n16/03/2024 POS RD$-0.50 RD$44,999.50")
		assert.Equal(t, USFormat, result.Format)
		require.Len(t, result.Records, 2)
		assert.True(t, result.Records[0].Amount.Equal(dec("1234.56")))
		assert.True(t, result.Records[1].Balance.Equal(dec("44999.50")))
	})

	t.Run("location", func(t *testing.T) {
		santoDomingo := time.FixedZone("AST", -4*60*60)
		p := newTestParser(t, func(c *Config) { c.Location = santoDomingo })

		records := p.ParseTransactions("15/03/2024 PAGO RD$1,00 RD$2,00")
		require.Len(t, records, 1)
		assert.Equal(t, santoDomingo, records[0].Date.Location())
		assert.Equal(t, 15, records[0].Date.Day())
	})
}

func TestCountDateLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"two lines", "01/01/2024 a\n02/01/2024 b", 2},
		{"only line starts count", "x 01/01/2024\n01/01/2024", 1},
		{"invalid dates still count", "99/99/9999 x\n", 1},
		{"short year", "01/01/24 x", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountDateLines(tt.text))
		})
	}
}

func TestParser_GeneratedLedger(t *testing.T) {
	p := newTestParser(t)
	gen := money.NewTestDataGeneratorWithSeed(7)
	entries := gen.Ledger(money.DOP, money.New(5000000, money.DOP), 200)

	var b strings.Builder
	b.WriteString("BANCO DE RESERVAS\nESTADO DE CUENTA\n")
	for _, e := range entries {
		b.WriteString(formatLedgerLine(e))
		b.WriteString("\n")
	}
	b.WriteString("FIN DEL ESTADO\n")

	records := p.ParseTransactions(b.String())
	require.Len(t, records, len(entries))

	for i, e := range entries {
		r := records[i]
		assert.True(t, r.Date.Equal(e.Date), "entry %d date", i)
		assert.Equal(t, e.Description, r.Description, "entry %d description", i)
		assert.True(t, r.Amount.Equal(e.Amount.ToDecimal()), "entry %d amount %s != %s", i, r.Amount, e.Amount)
		assert.True(t, r.Balance.Equal(e.Balance.ToDecimal()), "entry %d balance", i)
		assert.Equal(t, e.CheckNumber, r.CheckNumber, "entry %d check", i)
	}
}

// formatLedgerLine renders an entry the way a Dominican statement prints it
func formatLedgerLine(e money.LedgerEntry) string {
	line := fmt.Sprintf("%s %s RD$%s RD$%s",
		e.Date.Format("02/01/2006"),
		e.Description,
		formatDominican(e.Amount.ToDecimal()),
		formatDominican(e.Balance.ToDecimal()),
	)
	if e.CheckNumber != "" {
		line += " " + e.CheckNumber
	}
	return line
}

func formatDominican(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteRune('.')
		}
		grouped.WriteRune(r)
	}

	out := grouped.String() + "," + frac
	if d.IsNegative() {
		out = "-" + out
	}
	return out
}

func generateStatementText(lines int) string {
	gen := money.NewTestDataGeneratorWithSeed(int64(lines))
	entries := gen.Ledger(money.DOP, money.New(100000000, money.DOP), lines)

	var b strings.Builder
	for i, e := range entries {
		if i%40 == 0 {
			fmt.Fprintf(&b, "Pagina %d\nFecha Descripcion Monto Balance Cheque\n", i/40+1)
		}
		b.WriteString(formatLedgerLine(e))
		b.WriteString("\n")
	}
	return b.String()
}

func BenchmarkParser_ParseTransactions(b *testing.B) {
	p := newTestParser(b)

	for _, size := range []int{100, 1000, 10000} {
		text := generateStatementText(size)

		b.Run(fmt.Sprintf("%d_lines", size), func(b *testing.B) {
			b.SetBytes(int64(len(text)))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = p.ParseTransactions(text)
			}
		})
	}
}

func BenchmarkCountDateLines(b *testing.B) {
	text := generateStatementText(1000)
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = CountDateLines(text)
	}
}
