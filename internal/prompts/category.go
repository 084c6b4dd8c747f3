package prompts

import (
	"fmt"
	"strings"
)

// categoryTemplate asks the model to pick one category for a transaction.
// Format verbs: (1) description, (2) type, (3) type label, (4) bullet list.
const categoryTemplate = `Você é um assistente financeiro especializado em categorizar transações.

Com base na descrição da transação, escolha a categoria MAIS ADEQUADA da lista abaixo.

DESCRIÇÃO DA TRANSAÇÃO: "%s"
TIPO: %s (%s)

CATEGORIAS DISPONÍVEIS:
%s
INSTRUÇÕES:
- Escolha APENAS UMA categoria da lista acima
- A categoria deve ser o nome EXATO de uma das opções listadas
- Se nenhuma categoria se encaixar perfeitamente, escolha "Outros"
- Responda APENAS com o nome da categoria, sem explicações ou pontuações extras

CATEGORIA ESCOLHIDA:`

// CategoryPrompt returns the categorisation prompt for a transaction of
// the given type over options.
func CategoryPrompt(description, typ, typeLabel string, options []string) string {
	var list strings.Builder
	for _, o := range options {
		fmt.Fprintf(&list, "- %s\n", o)
	}
	return fmt.Sprintf(categoryTemplate, description, typ, typeLabel, list.String())
}
