package prompts

import "fmt"

// Fixed conversation replies.
const (
	// AskEmail requests the account email from a sender whose phone
	// could not be read from the chat id.
	AskEmail = "Para continuar 😊\n\nInforme por favor seu *email* cadastrado:"

	// InvalidEmail re-prompts after a message that is not email-like.
	InvalidEmail = "Esse email não parece válido 😕\nPode tentar novamente?"

	// PlanExpired ends a turn for a user whose plan has lapsed.
	PlanExpired = "Seu período de teste expirou. 😔\n\n" +
		"Para continuar usando o Leozera com acesso completo (controle financeiro, agenda, lembretes e assistente com IA), " +
		"assine um dos planos disponíveis.\n\n" +
		"Em breve você poderá renovar pelo nosso site ou pelo WhatsApp. Qualquer dúvida, estamos à disposição! 🚀"

	// ToolNeedsRegistration replaces a tool result for an unidentified
	// user.
	ToolNeedsRegistration = "🔒 Para utilizar essa funcionalidade é necessário cadastro.\n" +
		"Posso te explicar como funciona ou enviar o link para se registrar."

	// ToolNeedsPlan replaces a tool result for a user without a plan.
	ToolNeedsPlan = "Para usar essa funcionalidade é necessário ter um plano ativo. " +
		"Seu período de teste terminou. Escolha um dos planos disponíveis para continuar usando o Leozera."

	// TryAgain is sent when the model is unavailable or a turn runs
	// out of tool rounds.
	TryAgain = "Desculpe, tive um problema para responder agora 😕\nPode tentar novamente em instantes?"

	// EmptyReply stands in when the model ran tools but wrote nothing.
	EmptyReply = "Pronto! ✅ Processei seu pedido. Se precisar de mais alguma coisa, é só falar."
)

// Registration greets an unknown phone number with the sign-up link.
func Registration(link string) string {
	return "Olá! 😊\n\n" +
		"Você ainda não está cadastrado em nosso sistema.\n\n" +
		"Para usar o assistente, faça seu cadastro no link abaixo:\n" +
		link + "\n\n" +
		"Depois disso, é só voltar aqui! 🚀"
}

// EmailNotRegistered tells the sender the email has no account.
func EmailNotRegistered(email, link string) string {
	return fmt.Sprintf("O email *%s* não está cadastrado.\n\nFinalize seu cadastro aqui:\n%s", email, link)
}
