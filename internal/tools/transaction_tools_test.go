package tools

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/camppoia/leozera/internal/database"
	"github.com/camppoia/leozera/internal/dates"
	"github.com/camppoia/leozera/internal/transactions"
	"github.com/camppoia/leozera/internal/users"
)

type fakeCategories struct {
	names  []string
	groups []string
	err    error
}

func (f *fakeCategories) Categories(_ context.Context, _ string, groups []string) ([]string, error) {
	f.groups = groups
	return f.names, f.err
}

type fakeChooser struct {
	answer      string
	err         error
	description string
	options     []string
}

func (f *fakeChooser) Choose(_ context.Context, description string, _ transactions.Type, options []string) (string, error) {
	f.description, f.options = description, options
	return f.answer, f.err
}

type transactionFixture struct {
	store    *transactions.Store
	registry *Registry
	chooser  *fakeChooser
	cats     *fakeCategories
}

func newTransactionFixture(t *testing.T) *transactionFixture {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := transactions.NewStore(db, brt)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	f := &transactionFixture{
		store:   store,
		chooser: &fakeChooser{answer: "Alimentação"},
		cats:    &fakeCategories{names: []string{"Alimentação", "Lazer", "Outros"}},
	}
	f.registry = NewRegistry()
	NewTransactionTools(store, f.cats, f.chooser, dates.NewResolver(brt, fixedNow), nil).Register(f.registry)
	return f
}

func (f *transactionFixture) run(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	out, err := f.registry.Execute(context.Background(), name, args, Caller{UserID: "u1", Status: "ativo", Plan: "mensal"})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func (f *transactionFixture) add(t *testing.T, typ transactions.Type, cat, desc string, v float64, when time.Time) {
	t.Helper()
	tx := &transactions.Transaction{UserID: "u1", Type: typ, Category: cat, Description: desc, Value: v, CreatedAt: when}
	if err := f.store.Create(context.Background(), tx); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func (f *transactionFixture) seedJanuary(t *testing.T) {
	t.Helper()
	jan := func(d, h int) time.Time { return time.Date(2026, 1, d, h, 0, 0, 0, brt) }
	f.add(t, transactions.Expense, "Alimentação", "almoço", 30, jan(2, 12))
	f.add(t, transactions.Income, "Salário", "salário", 3000, jan(3, 9))
	f.add(t, transactions.Expense, "Alimentação", "jantar", 50, jan(5, 20))
	f.add(t, transactions.Expense, "Lazer", "cinema", 40, jan(5, 21))
	f.add(t, transactions.Expense, "Lazer", "show", 200, time.Date(2025, 12, 20, 22, 0, 0, 0, brt))
}

func TestRecordTransaction_ChoosesCategory(t *testing.T) {
	f := newTransactionFixture(t)

	out := f.run(t, "cadastrar_transacao", map[string]any{"valor": "30,50", "tipo": "expense", "descricao": "Almoço no restaurante"})
	if !strings.HasPrefix(out, "✅ 💸 Transação cadastrada com sucesso!") {
		t.Fatalf("reply = %q", out)
	}
	for _, want := range []string{"• Tipo: Gasto", "• Valor: R$ 30.50", "• Categoria: Alimentação"} {
		if !strings.Contains(out, want) {
			t.Errorf("reply missing %q:\n%s", want, out)
		}
	}
	if f.chooser.description != "Almoço no restaurante" || len(f.chooser.options) != 3 {
		t.Errorf("chooser saw %q with %v", f.chooser.description, f.chooser.options)
	}

	list, _ := f.store.List(context.Background(), transactions.Filter{UserID: "u1"})
	if len(list) != 1 || list[0].Category != "Alimentação" || list[0].Value != 30.5 {
		t.Errorf("stored = %+v", list)
	}
}

func TestRecordTransaction_IncomeUsesIncomeGroups(t *testing.T) {
	f := newTransactionFixture(t)
	f.chooser.answer = "Salário"

	out := f.run(t, "cadastrar_transacao", map[string]any{"valor": float64(5000), "tipo": "income", "descricao": "Salário PM"})
	if !strings.HasPrefix(out, "✅ 💰 Transação cadastrada") {
		t.Fatalf("reply = %q", out)
	}
	if strings.Join(f.cats.groups, ",") != strings.Join(users.IncomeGroups, ",") {
		t.Errorf("category groups = %v, want %v", f.cats.groups, users.IncomeGroups)
	}
}

func TestRecordTransaction_CategoryFallback(t *testing.T) {
	tests := []struct {
		name    string
		chooser error
		cats    error
	}{
		{"chooser error", errors.New("model down"), nil},
		{"category load error", nil, errors.New("db locked")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTransactionFixture(t)
			f.chooser.err = tt.chooser
			f.cats.err = tt.cats
			out := f.run(t, "cadastrar_transacao", map[string]any{"valor": 10, "tipo": "expense", "descricao": "coisa"})
			if !strings.Contains(out, "• Categoria: Outros") {
				t.Errorf("reply = %q, want category Outros", out)
			}
		})
	}
}

func TestRecordTransaction_ExplicitCategorySkipsChooser(t *testing.T) {
	f := newTransactionFixture(t)
	out := f.run(t, "cadastrar_transacao", map[string]any{"valor": 12, "tipo": "expense", "descricao": "uber", "categoria": "Transporte"})
	if !strings.Contains(out, "• Categoria: Transporte") {
		t.Errorf("reply = %q", out)
	}
	if f.chooser.description != "" {
		t.Error("chooser consulted despite explicit category")
	}
}

func TestRecordTransaction_Validation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"bad type", map[string]any{"valor": 10, "tipo": "transfer", "descricao": "x"}, "Tipo de transação inválido"},
		{"zero", map[string]any{"valor": 0, "tipo": "expense", "descricao": "x"}, "O valor deve ser maior que zero"},
		{"negative", map[string]any{"valor": "-5", "tipo": "expense", "descricao": "x"}, "O valor deve ser maior que zero"},
		{"missing description", map[string]any{"valor": 25, "tipo": "expense"}, "Para cadastrar seu gasto de R$ 25.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTransactionFixture(t)
			out := f.run(t, "cadastrar_transacao", tt.args)
			if !strings.Contains(out, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", out, tt.want)
			}
			list, _ := f.store.List(context.Background(), transactions.Filter{UserID: "u1"})
			if len(list) != 0 {
				t.Errorf("transactions written = %d, want 0", len(list))
			}
		})
	}
}

func TestReport_CurrentMonth(t *testing.T) {
	f := newTransactionFixture(t)
	f.seedJanuary(t)

	out := f.run(t, "gerar_relatorio", map[string]any{"periodo": "mês atual"})
	for _, want := range []string{
		"📊 *Relatório Financeiro - Mês atual*",
		"📅 *Período:* 01/01/2026 a 10/01/2026",
		"• Total de Entradas: R$ 3000.00",
		"• Total de Gastos: R$ 120.00",
		"• Saldo: R$ 2880.00",
		"💸 *Maior Gasto:*\n• R$ 50.00 - jantar\n  Categoria: Alimentação\n  Data: 05/01/2026 20:00",
		"📆 *Dia com Mais Gasto:*\n• 05/01/2026 - R$ 90.00\n  Maior transação: jantar - R$ 50.00",
		"🏷️ *Categoria com Maior Gasto:*\n• Alimentação - R$ 80.00",
		"🕐 *Horário com Maior Gasto:*\n• 20 horas - R$ 50.00",
		"📈 Total de transações analisadas: 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestReport_PreviousMonthAndEmpty(t *testing.T) {
	f := newTransactionFixture(t)
	f.seedJanuary(t)

	out := f.run(t, "gerar_relatorio", map[string]any{"periodo": "mês passado"})
	if !strings.Contains(out, "Mês de dezembro/2025") || !strings.Contains(out, "Total de transações analisadas: 1") {
		t.Errorf("previous month report:\n%s", out)
	}

	out = f.run(t, "gerar_relatorio", map[string]any{"periodo": "hoje", "tipo": "expense"})
	want := "📊 *Relatório de gastos - Hoje*\n\n📅 Período: 10/01/2026 a 10/01/2026\n\nℹ️ Nenhuma transação encontrada neste período."
	if out != want {
		t.Errorf("empty report = %q, want %q", out, want)
	}
}

func TestReport_IncomeOnlyHasNoSpendingRankings(t *testing.T) {
	f := newTransactionFixture(t)
	f.seedJanuary(t)

	out := f.run(t, "gerar_relatorio", map[string]any{"tipo": "income"})
	if strings.Contains(out, "Dia com Mais Gasto") || strings.Contains(out, "Maior Gasto") {
		t.Errorf("income report contains spending sections:\n%s", out)
	}
	if !strings.Contains(out, "💰 *Maior Entrada:*\n• R$ 3000.00 - salário") {
		t.Errorf("income report:\n%s", out)
	}
}

func TestCategorySpend(t *testing.T) {
	f := newTransactionFixture(t)
	f.seedJanuary(t)

	out := f.run(t, "consultar_gasto_categoria", map[string]any{"categoria": "alimentação"})
	for _, want := range []string{
		"💰 *Gastos com alimentação - Mês atual*",
		"💵 *Total gasto:* R$ 80.00",
		"📊 *Número de transações:* 2",
		"📈 *Média por transação:* R$ 40.00",
		"• R$ 50.00 - jantar\n  Data: 05/01/2026 20:00",
		"1. R$ 50.00 - jantar (05/01/2026)\n2. R$ 30.00 - almoço (02/01/2026)\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("category spend missing %q\n%s", want, out)
		}
	}

	out = f.run(t, "consultar_gasto_categoria", map[string]any{"categoria": "Saúde", "periodo": "semana"})
	want := "ℹ️ Não foram encontrados registros de gasto com a categoria *Saúde* no período de última semana (03/01/2026 a 10/01/2026)."
	if out != want {
		t.Errorf("empty category = %q, want %q", out, want)
	}
}

func TestCategorySpend_ListsOnlyFewTransactions(t *testing.T) {
	f := newTransactionFixture(t)
	for d := 1; d <= 6; d++ {
		f.add(t, transactions.Expense, "Transporte", "uber", 10, time.Date(2026, 1, d, 8, 0, 0, 0, brt))
	}
	out := f.run(t, "consultar_gasto_categoria", map[string]any{"categoria": "Transporte"})
	if strings.Contains(out, "📋 *Transações:*") {
		t.Errorf("listing shown for 6 transactions:\n%s", out)
	}
	if !strings.Contains(out, "📊 *Número de transações:* 6") {
		t.Errorf("count line missing:\n%s", out)
	}
}
