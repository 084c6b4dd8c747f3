package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/camppoia/leozera/internal/appointments"
	"github.com/camppoia/leozera/internal/dates"
)

// AppointmentStore is the subset of the appointment store the
// appointment tools need.
type AppointmentStore interface {
	Create(ctx context.Context, a *appointments.Appointment) error
	FindBySlot(ctx context.Context, userID string, day time.Time, start, end string) (*appointments.Appointment, error)
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]*appointments.Appointment, error)
	Delete(ctx context.Context, id string) error
	FindPendingByCode(ctx context.Context, userID, code string) (*appointments.Appointment, error)
	Confirm(ctx context.Context, id string) (bool, error)
	CancelPending(ctx context.Context, id string) (bool, error)
}

// Messages shared by the appointment tools.
const (
	msgInvalidCode   = "❌ Código inválido ou já processado."
	msgInvalidAction = "❌ Ação inválida. Use confirmar ou cancelar."
	msgConfirmed     = "✅ Compromisso confirmado com sucesso!"
	msgCancelled     = "❌ Compromisso cancelado com sucesso."
	msgPastDate      = "❌ Erro: Não é possível criar compromissos para datas passadas."
	msgEndNotAfter   = "❌ Erro: O horário de término deve ser posterior ao horário de início."
)

// AppointmentTools implements the calendar tools.
type AppointmentTools struct {
	store  AppointmentStore
	dates  *dates.Resolver
	logger *slog.Logger
}

// NewAppointmentTools creates the calendar tools over store.
func NewAppointmentTools(store AppointmentStore, resolver *dates.Resolver, logger *slog.Logger) *AppointmentTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppointmentTools{store: store, dates: resolver, logger: logger}
}

// Register adds the calendar tools to r.
func (t *AppointmentTools) Register(r *Registry) {
	r.Register(&Func{
		ToolName: "criar_compromisso",
		Desc: "Cria um novo compromisso na agenda do usuário, com horário de início e término. " +
			"Se o usuário não informar o horário de término, pergunte antes de agendar. " +
			"Exemplo: \"Agende uma reunião amanhã das 14h às 16h\".",
		Params: object([]string{"descricao", "data", "hora_inicio"}, map[string]any{
			"descricao":   stringProp("Descrição do compromisso"),
			"data":        stringProp("Data no formato DD/MM/YYYY ou YYYY-MM-DD, ou termos como amanhã, quarta que vem"),
			"hora_inicio": stringProp("Horário de início no formato HH:MM"),
			"hora_fim":    stringProp("Horário de término no formato HH:MM"),
			"titulo":      stringProp("Título do compromisso; se omitido, usa a descrição"),
		}),
		HandlerFunc: t.create,
	})

	r.Register(&Func{
		ToolName: "pesquisar_compromissos",
		Desc: "Lista os compromissos do usuário em um período. " +
			"Exemplo: \"Quais meus compromissos na próxima semana?\".",
		Params: object(nil, map[string]any{
			"periodo": stringProp("Período (ex: hoje, amanhã, próxima semana, esta semana, próximos 15 dias, próximo mês, sexta)"),
		}),
		HandlerFunc: t.search,
	})

	r.Register(&Func{
		ToolName: "cancelar_compromisso",
		Desc:     "Cancela (remove) um compromisso identificado pela data e horário de início.",
		Params: object([]string{"data", "hora_inicio"}, map[string]any{
			"data":        stringProp("Data no formato DD/MM/YYYY ou YYYY-MM-DD"),
			"hora_inicio": stringProp("Horário de início no formato HH:MM"),
			"hora_fim":    stringProp("Horário de término no formato HH:MM, para maior precisão"),
		}),
		HandlerFunc: t.cancel,
	})

	r.Register(&Func{
		ToolName: "confirmar_compromisso",
		Desc: "Confirma ou cancela um compromisso usando o código recebido no lembrete. " +
			"Use quando o usuário enviar CONFIRMAR <codigo> ou CANCELAR <codigo>.",
		Params: object([]string{"codigo", "acao"}, map[string]any{
			"codigo": stringProp("Código do lembrete (ex: a1b2c3)"),
			"acao":   enumProp("Ação a executar", "confirmar", "cancelar"),
		}),
		HandlerFunc: t.confirm,
	})
}

func notRegistered(action string) string {
	return "❌ Erro: Usuário não encontrado no sistema. " +
		"Por favor, faça o cadastro primeiro antes de " + action + "."
}

func (t *AppointmentTools) create(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	descricao := stringArg(args, "descricao")
	data := stringArg(args, "data")
	horaInicio := stringArg(args, "hora_inicio")
	horaFim := stringArg(args, "hora_fim")

	if horaFim == "" {
		return "ℹ️ Para finalizar o agendamento, preciso saber o horário de término.\n\n" +
			"Você informou:\n" +
			"• Data: " + data + "\n" +
			"• Horário de início: " + horaInicio + "\n" +
			"• Descrição: " + descricao + "\n\n" +
			"⏰ Qual o horário de término? (formato HH:MM, ex: 12:00)", nil
	}
	if caller.UserID == "" {
		return notRegistered("agendar compromissos"), nil
	}

	day, ok := t.dates.ParseDate(data)
	if !ok {
		return "❌ Erro: Formato de data inválido. Use DD/MM/YYYY, YYYY-MM-DD ou termos como amanhã, quarta que vem.", nil
	}
	if day.Before(t.dates.Today()) {
		return msgPastDate, nil
	}

	start, err := dates.ParseClock(horaInicio)
	if err != nil {
		return "❌ Erro: Formato de horário de início inválido. Use HH:MM (ex: 14:30).", nil
	}
	end, err := dates.ParseClock(horaFim)
	if err != nil {
		return "❌ Erro: Formato de horário de término inválido. Use HH:MM (ex: 16:30).", nil
	}
	if end <= start {
		return msgEndNotAfter, nil
	}

	titulo := stringArg(args, "titulo")
	if titulo == "" {
		titulo = descricao
	}
	dataFmt := dates.FormatDate(day)

	// Best-effort: a concurrent create for the same slot can still slip
	// between this lookup and the insert.
	existing, err := t.store.FindBySlot(ctx, caller.UserID, day, start.String(), "")
	if err != nil {
		t.logger.Warn("slot check failed", "user_id", caller.UserID, "error", err)
	} else if existing != nil {
		return fmt.Sprintf("⚠️ Já existe um compromisso agendado para %s às %s.\n\n"+
			"Por favor, escolha outro horário ou cancele o compromisso existente primeiro.", dataFmt, start), nil
	}

	appt := &appointments.Appointment{
		UserID:      caller.UserID,
		Date:        day,
		StartTime:   start.String(),
		EndTime:     end.String(),
		Title:       titulo,
		Description: descricao,
	}
	log := callLogger(ctx, t.logger)
	if err := t.store.Create(ctx, appt); err != nil {
		log.Error("create appointment failed", "user_id", caller.UserID, "error", err)
		return fmt.Sprintf("❌ Erro ao salvar compromisso no banco de dados: %v", err), nil
	}
	log.Info("appointment created", "user_id", caller.UserID, "appointment_id", appt.ID, "date", dataFmt)

	return fmt.Sprintf("✅ 📅 Compromisso agendado com sucesso!\n\n"+
		"📋 *Detalhes:*\n"+
		"• Título: %s\n"+
		"• Descrição: %s\n"+
		"• Data: %s\n"+
		"• Horário: %s até %s\n\n"+
		"Seu compromisso para %s das %s até %s foi agendado com sucesso! 🎉",
		titulo, descricao, dataFmt, start, end, dataFmt, start, end), nil
}

var statusGlyphs = map[appointments.Status]string{
	appointments.StatusPending:   "⏳",
	appointments.StatusConfirmed: "✅",
	appointments.StatusDone:      "✔️",
	appointments.StatusCancelled: "❌",
}

func statusGlyph(s appointments.Status) string {
	if g, ok := statusGlyphs[s]; ok {
		return g
	}
	return "📌"
}

func (t *AppointmentTools) search(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	if caller.UserID == "" {
		return notRegistered("pesquisar compromissos"), nil
	}

	periodo := stringArg(args, "periodo")
	rng, ok := t.dates.ResolvePeriod(periodo)
	label := periodo
	if !ok {
		today := t.dates.Today()
		rng = dates.Range{Start: today, End: today.AddDate(0, 0, 30)}
		label = "próximo mês"
	}

	list, err := t.store.ListRange(ctx, caller.UserID, rng.Start, rng.End)
	if err != nil {
		t.logger.Error("list appointments failed", "user_id", caller.UserID, "error", err)
		return fmt.Sprintf("❌ Erro ao pesquisar compromissos: %v", err), nil
	}

	from, to := dates.FormatDate(rng.Start), dates.FormatDate(rng.End)
	if len(list) == 0 {
		return fmt.Sprintf("ℹ️ Você não tem compromissos agendados para o período solicitado (%s).\n\n"+
			"📅 Período: %s a %s", label, from, to), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 *Seus Compromissos - %s*\n\n", capitalize(label))
	fmt.Fprintf(&b, "📆 *Período:* %s a %s\n", from, to)
	fmt.Fprintf(&b, "📊 *Total:* %d compromisso(s)\n\n", len(list))

	var current string
	n := 0
	for _, a := range list {
		day := dates.FormatDate(a.Date)
		if day != current {
			current, n = day, 0
			fmt.Fprintf(&b, "📆 *%s*\n", day)
		}
		n++
		horario := a.StartTime
		if a.EndTime != "" {
			horario = a.StartTime + " até " + a.EndTime
		}
		title := a.DisplayTitle()
		fmt.Fprintf(&b, "  %d. %s *%s* - %s\n", n, statusGlyph(a.Status), horario, title)
		if a.Description != "" && a.Description != title {
			fmt.Fprintf(&b, "     📝 %s\n", a.Description)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (t *AppointmentTools) cancel(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	if caller.UserID == "" {
		return notRegistered("cancelar compromissos"), nil
	}

	day, ok := t.dates.ParseLiteralDate(stringArg(args, "data"))
	if !ok {
		return "❌ Erro: Formato de data inválido. Use DD/MM/YYYY ou YYYY-MM-DD.", nil
	}
	start, err := dates.ParseClock(stringArg(args, "hora_inicio"))
	if err != nil {
		return "❌ Erro: Formato de horário de início inválido. Use HH:MM (ex: 10:00).", nil
	}
	var end string
	if raw := stringArg(args, "hora_fim"); raw != "" {
		c, err := dates.ParseClock(raw)
		if err != nil {
			return "❌ Erro: Formato de horário de término inválido. Use HH:MM (ex: 12:00).", nil
		}
		end = c.String()
	}

	dataFmt := dates.FormatDate(day)
	var appt *appointments.Appointment
	if end != "" {
		appt, err = t.store.FindBySlot(ctx, caller.UserID, day, start.String(), end)
	}
	if err == nil && appt == nil {
		appt, err = t.store.FindBySlot(ctx, caller.UserID, day, start.String(), "")
	}
	if err != nil {
		t.logger.Error("find appointment failed", "user_id", caller.UserID, "error", err)
		return fmt.Sprintf("❌ Erro ao cancelar compromisso: %v", err), nil
	}
	if appt == nil {
		if end != "" {
			return fmt.Sprintf("❌ Não encontramos um compromisso agendado para %s das %s até %s.\n\n"+
				"Verifique se a data e os horários estão corretos.", dataFmt, start, end), nil
		}
		return fmt.Sprintf("❌ Não encontramos um compromisso agendado para %s às %s.\n\n"+
			"Verifique se a data e o horário estão corretos. "+
			"Se o compromisso tiver horário de término, informe também para maior precisão.", dataFmt, start), nil
	}

	if err := t.store.Delete(ctx, appt.ID); err != nil {
		t.logger.Error("delete appointment failed", "appointment_id", appt.ID, "error", err)
		return "❌ Erro: Não foi possível cancelar o compromisso. Tente novamente.", nil
	}
	t.logger.Info("appointment cancelled", "user_id", caller.UserID, "appointment_id", appt.ID)

	if end == "" {
		end = appt.EndTime
	}
	desc := appt.Description
	if desc == "" {
		desc = "N/A"
	}
	if end != "" {
		return fmt.Sprintf("✅ Compromisso cancelado com sucesso!\n\n"+
			"📋 *Detalhes do compromisso cancelado:*\n"+
			"• Data: %s\n"+
			"• Horário: %s até %s\n"+
			"• Descrição: %s\n\n"+
			"Seu compromisso para %s das %s até %s foi cancelado com sucesso! ✅",
			dataFmt, start, end, desc, dataFmt, start, end), nil
	}
	return fmt.Sprintf("✅ Compromisso cancelado com sucesso!\n\n"+
		"📋 *Detalhes do compromisso cancelado:*\n"+
		"• Data: %s\n"+
		"• Horário: %s\n"+
		"• Descrição: %s\n\n"+
		"Seu compromisso para %s às %s foi cancelado com sucesso! ✅",
		dataFmt, start, desc, dataFmt, start), nil
}

// confirm answers CONFIRMAR/CANCELAR replies. Every lookup miss yields
// the same message so codes belonging to other users are not revealed.
func (t *AppointmentTools) confirm(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	code := stringArg(args, "codigo")
	action := strings.ToLower(stringArg(args, "acao"))
	if code == "" {
		return msgInvalidCode, nil
	}
	if action != "confirmar" && action != "cancelar" {
		return msgInvalidAction, nil
	}
	if caller.UserID == "" {
		return msgInvalidCode, nil
	}

	appt, err := t.store.FindPendingByCode(ctx, caller.UserID, code)
	if err != nil {
		t.logger.Error("confirmation lookup failed", "user_id", caller.UserID, "error", err)
		return msgInvalidCode, nil
	}
	if appt == nil {
		return msgInvalidCode, nil
	}

	var applied bool
	if action == "confirmar" {
		applied, err = t.store.Confirm(ctx, appt.ID)
	} else {
		applied, err = t.store.CancelPending(ctx, appt.ID)
	}
	if err != nil {
		t.logger.Error("confirmation update failed", "appointment_id", appt.ID, "action", action, "error", err)
		return msgInvalidCode, nil
	}
	if !applied {
		return msgInvalidCode, nil
	}
	t.logger.Info("appointment confirmation answered", "appointment_id", appt.ID, "action", action)

	if action == "confirmar" {
		return msgConfirmed, nil
	}
	return msgCancelled, nil
}

// capitalize upper-cases the first rune of s.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
