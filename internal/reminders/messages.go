package reminders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func twelveHourReminder(title, day, start string) string {
	return "🔔 Lembrete!\n" +
		"Em 12 horas você tem o compromisso:\n\n" +
		fmt.Sprintf("📅 %s\n", title) +
		fmt.Sprintf("🕒 %s às %s", day, start)
}

func oneHourReminder(title, start string) string {
	return "🔔 Lembrete!\n" +
		"Seu compromisso começa em 1 hora:\n\n" +
		fmt.Sprintf("📅 %s\n", title) +
		fmt.Sprintf("🕒 %s", start)
}

func confirmationRequest(title, day, start, code string) string {
	return "Você confirma este compromisso?\n\n" +
		fmt.Sprintf("📅 %s\n", title) +
		fmt.Sprintf("🕒 %s às %s\n\n", day, start) +
		"Responda:\n" +
		fmt.Sprintf("CONFIRMAR %s\n", code) +
		"ou\n" +
		fmt.Sprintf("CANCELAR %s", code)
}

func trialExpired(plansLink string) string {
	return "⏳ Seu período de teste gratuito terminou.\n\n" +
		"Espero que você tenha aproveitado esses 7 dias para conhecer tudo que posso fazer por você 😉\n\n" +
		"Para continuar utilizando todas as funcionalidades do Leozera, escolha um dos planos disponíveis:\n\n" +
		fmt.Sprintf("👉 %s\n\n", plansLink) +
		"Se precisar de ajuda, estou aqui pra você."
}

// codeLength is the size of a confirmation code in hex digits.
const codeLength = 6

// newCode returns a fresh lowercase hex confirmation code taken from
// the random bits of a version 4 UUID.
func newCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:codeLength]
}
