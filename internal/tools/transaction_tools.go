package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/camppoia/leozera/internal/dates"
	"github.com/camppoia/leozera/internal/transactions"
	"github.com/camppoia/leozera/internal/users"
)

const timestampLayout = "02/01/2006 15:04"

// TransactionStore is the subset of the transaction store the finance
// tools need.
type TransactionStore interface {
	Create(ctx context.Context, tx *transactions.Transaction) error
	List(ctx context.Context, f transactions.Filter) ([]*transactions.Transaction, error)
}

// CategorySource returns a user's category names within groups.
type CategorySource interface {
	Categories(ctx context.Context, userID string, groups []string) ([]string, error)
}

// TransactionTools implements recording and reporting of income and
// expenses.
type TransactionTools struct {
	store      TransactionStore
	categories CategorySource
	chooser    CategoryChooser
	dates      *dates.Resolver
	logger     *slog.Logger
}

// NewTransactionTools creates the finance tools. chooser may be nil, in
// which case uncategorised transactions go to "Outros".
func NewTransactionTools(store TransactionStore, categories CategorySource, chooser CategoryChooser, resolver *dates.Resolver, logger *slog.Logger) *TransactionTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionTools{
		store:      store,
		categories: categories,
		chooser:    chooser,
		dates:      resolver,
		logger:     logger,
	}
}

// Register adds the finance tools to r.
func (t *TransactionTools) Register(r *Registry) {
	r.Register(&Func{
		ToolName: "cadastrar_transacao",
		Desc: "Cadastra uma transação financeira (gasto ou entrada). " +
			"Se a descrição não for informada, peça ao usuário. A categoria é escolhida automaticamente quando omitida.",
		Params: object([]string{"valor", "tipo"}, map[string]any{
			"valor":     numberProp("Valor positivo da transação (ex: 20.0 para R$ 20,00)"),
			"tipo":      enumProp("expense para gasto, income para entrada", "expense", "income"),
			"descricao": stringProp("Descrição da transação"),
			"categoria": stringProp("Categoria da transação"),
		}),
		HandlerFunc: t.record,
	})

	r.Register(&Func{
		ToolName: "gerar_relatorio",
		Desc:     "Gera um relatório das transações do usuário em um período (última semana, mês atual, mês passado, hoje).",
		Params: object(nil, map[string]any{
			"periodo": stringProp("Período do relatório (ex: última semana, mês atual, mês passado, hoje)"),
			"tipo":    enumProp("Filtra por gastos (expense) ou entradas (income); omita para ambos", "expense", "income"),
		}),
		HandlerFunc: t.report,
	})

	r.Register(&Func{
		ToolName: "consultar_gasto_categoria",
		Desc:     "Consulta o total gasto em uma categoria em um período. Exemplo: \"Quanto gastei com Alimentação mês passado?\".",
		Params: object([]string{"categoria"}, map[string]any{
			"categoria": stringProp("Nome da categoria"),
			"periodo":   stringProp("Período da consulta (ex: mês passado, última semana, hoje)"),
		}),
		HandlerFunc: t.categorySpend,
	})
}

func (t *TransactionTools) record(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	typ, ok := transactions.ParseType(stringArg(args, "tipo"))
	if !ok {
		return "❌ Erro: Tipo de transação inválido. Use 'expense' para gasto ou 'income' para entrada.", nil
	}
	valor, ok := floatArg(args, "valor")
	if !ok || !(valor > 0) {
		return "❌ Erro: O valor deve ser maior que zero.", nil
	}
	if caller.UserID == "" {
		return notRegistered("registrar transações"), nil
	}

	descricao := stringArg(args, "descricao")
	if descricao == "" {
		return fmt.Sprintf("💬 Para cadastrar seu %s de %s, preciso de mais uma informação:\n\n"+
			"Por favor, informe a descrição desta transação.\n"+
			"Exemplo: 'Compra de cigarro', 'Salário PM', 'Almoço no restaurante', etc.",
			typ.Label(), money(valor)), nil
	}

	categoria := stringArg(args, "categoria")
	if categoria == "" {
		categoria = t.chooseCategory(ctx, caller.UserID, descricao, typ)
	}

	tx := &transactions.Transaction{
		UserID:      caller.UserID,
		Type:        typ,
		Category:    categoria,
		Description: descricao,
		Value:       valor,
	}
	log := callLogger(ctx, t.logger)
	if err := t.store.Create(ctx, tx); err != nil {
		log.Error("create transaction failed", "user_id", caller.UserID, "error", err)
		return fmt.Sprintf("❌ Erro ao salvar transação no banco de dados: %v", err), nil
	}
	log.Info("transaction recorded", "user_id", caller.UserID, "type", typ, "category", tx.Category)

	emoji := "💰"
	if typ == transactions.Expense {
		emoji = "💸"
	}
	return fmt.Sprintf("✅ %s Transação cadastrada com sucesso!\n\n"+
		"📋 *Detalhes:*\n"+
		"• Tipo: %s\n"+
		"• Valor: %s\n"+
		"• Descrição: %s\n"+
		"• Categoria: %s\n"+
		"• Data: %s\n\n"+
		"A transação já está disponível no seu dashboard! 📊",
		emoji, capitalize(typ.Label()), money(valor), tx.Description, tx.Category,
		tx.CreatedAt.Format(timestampLayout)), nil
}

// chooseCategory picks one of the user's categories for the
// transaction, falling back to "Outros" on any failure.
func (t *TransactionTools) chooseCategory(ctx context.Context, userID, description string, typ transactions.Type) string {
	if t.categories == nil || t.chooser == nil {
		return DefaultCategory
	}
	groups := users.ExpenseGroups
	if typ == transactions.Income {
		groups = users.IncomeGroups
	}
	options, err := t.categories.Categories(ctx, userID, groups)
	if err != nil {
		t.logger.Warn("load categories failed", "user_id", userID, "error", err)
		return DefaultCategory
	}
	if len(options) == 0 {
		return DefaultCategory
	}
	chosen, err := t.chooser.Choose(ctx, description, typ, options)
	if err != nil {
		t.logger.Warn("category choice failed", "user_id", userID, "error", err)
		return DefaultCategory
	}
	return chosen
}

func (t *TransactionTools) report(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	if caller.UserID == "" {
		return notRegistered("gerar relatórios"), nil
	}

	win := t.dates.ReportWindow(stringArg(args, "periodo"))
	filter := transactions.Filter{UserID: caller.UserID, From: win.Start, To: win.End}
	typ, typed := transactions.ParseType(stringArg(args, "tipo"))
	if typed {
		filter.Type = typ
	}

	txs, err := t.store.List(ctx, filter)
	if err != nil {
		t.logger.Error("list transactions failed", "user_id", caller.UserID, "error", err)
		return fmt.Sprintf("❌ Erro ao gerar relatório: %v", err), nil
	}

	from, to := dates.FormatDate(win.Start), dates.FormatDate(win.End)
	if len(txs) == 0 {
		title := "Relatório"
		if typed {
			title = "Relatório de " + typ.Label() + "s"
		}
		return fmt.Sprintf("📊 *%s - %s*\n\n📅 Período: %s a %s\n\nℹ️ Nenhuma transação encontrada neste período.",
			title, capitalize(win.Label), from, to), nil
	}

	s := transactions.Summarize(txs)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Relatório Financeiro - %s*\n\n", capitalize(win.Label))
	fmt.Fprintf(&b, "📅 *Período:* %s a %s\n\n", from, to)
	b.WriteString("💰 *Totais:*\n")
	fmt.Fprintf(&b, "• Total de Entradas: %s\n", money(s.TotalIncome))
	fmt.Fprintf(&b, "• Total de Gastos: %s\n", money(s.TotalExpense))
	fmt.Fprintf(&b, "• Saldo: %s\n\n", money(s.Balance()))

	writeLargest := func(heading string, tx *transactions.Transaction) {
		if tx == nil {
			return
		}
		fmt.Fprintf(&b, "%s\n", heading)
		fmt.Fprintf(&b, "• %s - %s\n", money(tx.Value), orNA(tx.Description))
		fmt.Fprintf(&b, "  Categoria: %s\n", orNA(tx.Category))
		fmt.Fprintf(&b, "  Data: %s\n\n", tx.CreatedAt.Format(timestampLayout))
	}
	writeLargest("💸 *Maior Gasto:*", s.LargestExpense)
	writeLargest("💰 *Maior Entrada:*", s.LargestIncome)

	if s.TopDay != nil {
		b.WriteString("📆 *Dia com Mais Gasto:*\n")
		fmt.Fprintf(&b, "• %s - %s\n", dates.FormatDate(s.TopDay.Day), money(s.TopDay.Total))
		if tx := s.TopDay.Largest; tx != nil {
			fmt.Fprintf(&b, "  Maior transação: %s - %s\n", orNA(tx.Description), money(tx.Value))
		}
		b.WriteString("\n")
	}
	if s.TopCategory != nil {
		b.WriteString("🏷️ *Categoria com Maior Gasto:*\n")
		fmt.Fprintf(&b, "• %s - %s\n\n", s.TopCategory.Key, money(s.TopCategory.Total))
	}
	if s.TopHour != nil {
		b.WriteString("🕐 *Horário com Maior Gasto:*\n")
		fmt.Fprintf(&b, "• %d horas - %s\n\n", s.TopHour.Key, money(s.TopHour.Total))
	}
	fmt.Fprintf(&b, "📈 Total de transações analisadas: %d\n", s.Count)
	return b.String(), nil
}

func (t *TransactionTools) categorySpend(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	categoria := stringArg(args, "categoria")
	if categoria == "" {
		return "❌ Erro: Por favor, informe a categoria que deseja consultar.", nil
	}
	if caller.UserID == "" {
		return notRegistered("consultar gastos"), nil
	}

	win := t.dates.ReportWindow(stringArg(args, "periodo"))
	txs, err := t.store.List(ctx, transactions.Filter{
		UserID:   caller.UserID,
		From:     win.Start,
		To:       win.End,
		Type:     transactions.Expense,
		Category: categoria,
	})
	if err != nil {
		t.logger.Error("list category spend failed", "user_id", caller.UserID, "category", categoria, "error", err)
		return fmt.Sprintf("❌ Erro ao consultar gastos para a categoria %s: %v", categoria, err), nil
	}

	from, to := dates.FormatDate(win.Start), dates.FormatDate(win.End)
	if len(txs) == 0 {
		return fmt.Sprintf("ℹ️ Não foram encontrados registros de gasto com a categoria *%s* no período de %s (%s a %s).",
			categoria, win.Label, from, to), nil
	}

	c := transactions.SpendByCategory(txs)

	var b strings.Builder
	fmt.Fprintf(&b, "💰 *Gastos com %s - %s*\n\n", categoria, capitalize(win.Label))
	fmt.Fprintf(&b, "📅 *Período:* %s a %s\n\n", from, to)
	fmt.Fprintf(&b, "💵 *Total gasto:* %s\n", money(c.Total))
	fmt.Fprintf(&b, "📊 *Número de transações:* %d\n", c.Count)
	fmt.Fprintf(&b, "📈 *Média por transação:* %s\n\n", money(c.Average()))
	if c.Largest != nil {
		b.WriteString("💸 *Maior transação:*\n")
		fmt.Fprintf(&b, "• %s - %s\n", money(c.Largest.Value), orNA(c.Largest.Description))
		fmt.Fprintf(&b, "  Data: %s\n\n", c.Largest.CreatedAt.Format(timestampLayout))
	}
	if c.Count <= 5 {
		b.WriteString("📋 *Transações:*\n")
		for i, tx := range c.Transactions {
			fmt.Fprintf(&b, "%d. %s - %s (%s)\n", i+1, money(tx.Value), orNA(tx.Description), dates.FormatDate(tx.CreatedAt))
		}
	}
	return b.String(), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
