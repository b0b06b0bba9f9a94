package chatbot

import "gitlab.com/dubbox/api/wa-campaign-engine/internal/model"

// Reply texts sent by the conversation engine. All user-facing copy lives
// here so the flow logic in engine.go stays readable.

const welcomeText = "Olá! 👋 Eu sou o *SIM Social*, o assistente virtual da Secretaria de Desenvolvimento Social (SEDES-DF).\n\nPara facilitar, ouça o áudio a seguir com um resumo do que eu posso fazer por você! 👇"

const clarificationText = "Desculpe, não entendi muito bem. Você poderia me dizer de outra forma como posso te ajudar?"

const locationPromptText = "Claro! Para agendamentos ou atualizações no CRAS, preciso saber onde você está. Por favor, me envie sua localização pelo anexo do WhatsApp ou digite seu CEP."

const locationRepromptText = "Consegui te ajudar com sua outra dúvida? 😊 Voltando ao nosso agendamento, você poderia me informar o seu CEP, por favor?"

const appointmentConfirmedText = "Agendamento confirmado! ✅ Lembre-se de levar um documento com foto e comprovante de residência. Se precisar de mais alguma coisa, é só chamar!"

const appointmentDeclinedText = "Tudo bem, o agendamento não foi confirmado. Se quiser tentar outra data ou horário, é só me pedir. 😉"

const humanHandoffText = "Certo! Vou te transferir para um de nossos atendentes. Aguarde um momento que logo alguém continua o seu atendimento. 🧑‍💼"

// affirmations is the fixed vocabulary accepted as a "yes" while waiting for
// appointment confirmation. Matching is case and whitespace insensitive.
var affirmations = map[string]struct{}{
	"sim":            {},
	"s":              {},
	"pode":           {},
	"confirma":       {},
	"confirmo":       {},
	"ok":             {},
	"pode sim":       {},
	"pode confirmar": {},
	"claro":          {},
	"com certeza":    {},
}

// mediaAcknowledgements maps content-less inbound message types to a short
// acknowledgement. Types absent here fall through to a clarification request.
var mediaAcknowledgements = map[model.MessageType]string{
	model.TypeImage:    "Recebi sua imagem! 👍",
	model.TypeVideo:    "Vídeo recebido! Vou dar uma olhada. 🎬",
	model.TypeSticker:  "Adorei o sticker! 😄",
	model.TypeAudio:    "Recebi seu áudio, mas não consegui entender. Poderia gravar novamente ou, se preferir, digitar sua dúvida?",
	model.TypeDocument: "Recebi seu documento, obrigado!",
}

// closingMessages are picked at random when the idle sweeper shuts a
// conversation down.
var closingMessages = []string{
	"Oi! Parece que ficamos um tempinho sem bater papo. Vou fechar o chat por enquanto para manter tudo organizado. Se precisar, é só chamar! 😊",
	"Olá! Notei que deu uma pausa por aqui, então vou encerrar a conversa por ora. Quando quiser, é só chamar e a gente continua! 👋",
	"E aí! Já faz um tempinho sem mensagens, então vou pausar esta conversa. Qualquer coisa, é só me chamar, tá? Até logo! 😉",
	"Oi! Vou encerrar por enquanto para manter a casa em ordem. Se surgir qualquer dúvida, manda mensagem e voltamos a falar! ✨",
}

// piiTypeNames maps classifier PII labels to the name used in the refusal
// message.
var piiTypeNames = map[string]string{
	"cpf": "CPF",
	"rg":  "RG",
	"cnh": "CNH",
}

func piiRefusalText(piiType string) string {
	name, ok := piiTypeNames[piiType]
	if !ok {
		name = "documento pessoal"
	}
	return "Para sua segurança, não posso tratar dados como " + name + " por aqui. Por favor, dirija-se a uma unidade de atendimento do CRAS para prosseguir com sua solicitação."
}
