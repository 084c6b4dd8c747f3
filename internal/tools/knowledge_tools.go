package tools

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const (
	knowledgeResults  = 3
	knowledgeMaxChars = 400
)

// KnowledgeSearcher returns the support-material passages most similar
// to query.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// RegisterKnowledgeTool adds consultar_material_de_apoio backed by s.
func RegisterKnowledgeTool(r *Registry, s KnowledgeSearcher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.Register(&Func{
		ToolName: "consultar_material_de_apoio",
		Desc:     "Consulta o material de apoio sobre o Leozera (planos, funcionalidades, dúvidas frequentes).",
		Params: object([]string{"pergunta"}, map[string]any{
			"pergunta": stringProp("Pergunta do usuário"),
		}),
		HandlerFunc: func(ctx context.Context, args map[string]any, _ Caller) (string, error) {
			docs, err := s.Search(ctx, stringArg(args, "pergunta"), knowledgeResults)
			if err != nil {
				logger.Error("knowledge search failed", "error", err)
				return "Erro ao buscar informações: " + err.Error(), nil
			}
			if len(docs) == 0 {
				return "Nenhuma informação relevante encontrada sobre este assunto.", nil
			}
			parts := make([]string, len(docs))
			for i, d := range docs {
				parts[i] = truncateRunes(d, knowledgeMaxChars)
			}
			return strings.Join(parts, "\n\n"), nil
		},
	})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
