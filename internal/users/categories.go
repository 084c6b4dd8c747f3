package users

import (
	"context"
	"fmt"
)

// Category groups. Expense groups and income groups are disjoint.
var (
	ExpenseGroups = []string{"alimentacao", "transporte", "saude", "lazer", "educacao", "habitacao", "outros"}
	IncomeGroups  = []string{"receita", "entrada", "investimento"}
)

// DefaultCategories is the starter set given to new users.
var DefaultCategories = map[string][]string{
	"receita":      {"Salário", "Aluguel Recebido", "Pensão", "Freelancer", "Distribuição Resultados", "Outras Receitas"},
	"entrada":      {"Transferência de contas", "Reembolsos e Adiantamentos", "Variação Cambial"},
	"investimento": {"Aportes", "Resgates"},
	"alimentacao":  {"Supermercado", "Almoços fora de casa", "Delivery", "Outros Alimentação"},
	"transporte": {"Prestação carro", "Seguro do carro", "IPVA", "Combustível", "Estacionamentos", "Lavagem",
		"Manutenção", "Transporte público", "Táxi/Uber", "Pedágios", "Multas", "Outros Transportes"},
	"saude": {"Médicos, dentistas", "Farmácia", "Medicamentos", "Atividades físicas", "Estética",
		"Outros Saúde e Bem Estar"},
	"lazer":    {"Festas", "Jantares", "Cinema", "Mensalidade de clubes", "Viagens", "Futebol", "Outros Lazer"},
	"educacao": {"Colégio", "Faculdade", "Livros", "Cursos", "Apps e Gadgets"},
	"habitacao": {"Condomínio", "Aluguel", "Prestação da casa", "IPTU", "Água", "Luz", "Telefone", "TV", "Gás",
		"Empregados domésticos", "Manutenções", "Outros"},
	"outros": {"Compras Diversas", "Roupas", "Seguro de Vida", "Telefone", "Presentes", "Tarifas bancárias",
		"Doações", "Ajuda familiar", "Imprevistos", "Taxas", "Impostos", "Outros"},
}

// AddCategories stores names under group for userID. Existing entries
// are ignored.
func (s *Store) AddCategories(ctx context.Context, userID, group string, names ...string) error {
	for _, n := range names {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_categories (user_id, grupo, nome) VALUES (?, ?, ?)
			 ON CONFLICT (user_id, grupo, nome) DO NOTHING`,
			userID, group, n,
		)
		if err != nil {
			return fmt.Errorf("add category %s/%s: %w", group, n, err)
		}
	}
	return nil
}

// SeedDefaultCategories gives userID the [DefaultCategories].
func (s *Store) SeedDefaultCategories(ctx context.Context, userID string) error {
	for _, group := range append(append([]string{}, IncomeGroups...), ExpenseGroups...) {
		if err := s.AddCategories(ctx, userID, group, DefaultCategories[group]...); err != nil {
			return err
		}
	}
	return nil
}

// Categories returns the category names userID has in the given groups,
// in group order then name order. Duplicate names across groups are
// returned once.
func (s *Store) Categories(ctx context.Context, userID string, groups []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		rows, err := s.db.QueryContext(ctx,
			`SELECT nome FROM user_categories WHERE user_id = ? AND grupo = ? ORDER BY nome`,
			userID, g,
		)
		if err != nil {
			return nil, fmt.Errorf("list categories %s: %w", g, err)
		}
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan category: %w", err)
			}
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
