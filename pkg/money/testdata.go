package money

import (
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// TestDataGenerator generates realistic statement ledgers using gofakeit.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a new test data generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{
		faker: gofakeit.New(0), // Random seed
	}
}

// NewTestDataGeneratorWithSeed creates a generator with a specific seed for reproducibility.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{
		faker: gofakeit.New(seed),
	}
}

// ============================================================================
// Ledger Generation
// ============================================================================

// LedgerEntry is one generated statement row with its running balance.
type LedgerEntry struct {
	Date        time.Time
	Description string
	Amount      *Money
	Balance     *Money
	CheckNumber string
}

// Ledger generates count consecutive entries starting from the opening balance.
// Dates ascend one to three days apart and the balance never goes negative.
func (g *TestDataGenerator) Ledger(currency string, opening *Money, count int) []LedgerEntry {
	entries := make([]LedgerEntry, 0, count)
	balance := opening
	date := g.faker.DateRange(
		time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	).Truncate(24 * time.Hour)

	for i := 0; i < count; i++ {
		entry := g.Entry(currency)
		if entry.Amount.IsNegative() && balance.Amount()+entry.Amount.Amount() < 0 {
			entry.Amount = entry.Amount.Negate()
		}

		next, err := balance.Add(entry.Amount)
		if err != nil {
			next = balance
		}
		balance = next

		entry.Date = date
		entry.Balance = balance
		entries = append(entries, entry)

		date = date.AddDate(0, 0, g.faker.Number(1, 3))
	}

	return entries
}

// Entry generates a single entry without a date or balance.
func (g *TestDataGenerator) Entry(currency string) LedgerEntry {
	isDebit := g.faker.Number(0, 9) < 7

	var amount *Money
	var description string
	if isDebit {
		amount = g.RandomAmount(currency, 100, 2500000).Negate()
		description = g.DebitDescription()
	} else {
		amount = g.RandomAmount(currency, 50000, 15000000)
		description = g.CreditDescription()
	}

	var check string
	if isDebit && g.faker.Number(0, 4) == 0 {
		check = g.faker.DigitN(5)
	}

	return LedgerEntry{
		Description: description,
		Amount:      amount,
		CheckNumber: check,
	}
}

// RandomAmount generates a random Money value within a cent range.
func (g *TestDataGenerator) RandomAmount(currency string, minCents, maxCents int64) *Money {
	if minCents > maxCents {
		minCents, maxCents = maxCents, minCents
	}
	cents := g.faker.Int64() % (maxCents - minCents + 1)
	if cents < 0 {
		cents = -cents
	}
	return New(minCents+cents, currency)
}

// ============================================================================
// Description Generation
// ============================================================================

var debitDescriptions = []string{
	"PAGO SERVICIO",
	"RETIRO CAJERO",
	"COMPRA POS",
	"TRANSFERENCIA ENVIADA",
	"PAGO TARJETA CREDITO",
	"CARGO MANTENIMIENTO",
	"CHEQUE PAGADO",
	"COMISION TRANSFERENCIA",
	"PAGO PRESTAMO",
	"IMPUESTO DGII 0.15%",
}

var creditDescriptions = []string{
	"DEPOSITO EFECTIVO",
	"TRANSFERENCIA RECIBIDA",
	"PAGO NOMINA",
	"INTERESES GANADOS",
	"DEPOSITO CHEQUE",
	"REVERSO CARGO",
}

// DebitDescription returns a random debit narrative, sometimes suffixed with a merchant.
func (g *TestDataGenerator) DebitDescription() string {
	desc := debitDescriptions[g.faker.Number(0, len(debitDescriptions)-1)]
	if g.faker.Bool() {
		desc += " " + strings.ToUpper(g.faker.Company())
	}
	return desc
}

// CreditDescription returns a random credit narrative.
func (g *TestDataGenerator) CreditDescription() string {
	return creditDescriptions[g.faker.Number(0, len(creditDescriptions)-1)]
}
