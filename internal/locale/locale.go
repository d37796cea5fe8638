// Package locale holds the user-facing string tables for the support flow.
// Lookups fall back to English for languages or keys with no entry.
package locale

import "fmt"

const fallback = "en"

var tables = map[string]map[string]string{
	"en": {
		"choose_lang":                 "Please choose your language:",
		"hello":                       "Hello! How can we help you?",
		"press_support":               "Please press the \"Support\" button first to start a chat.",
		"waiting_question":            "Please describe your question and we will connect you with an operator.",
		"request_sent":                "Your request has been sent to support. An operator will join shortly.",
		"already_active":              "You already have an open support chat.",
		"operator_joined":             "Operator %s has joined the chat.",
		"chat_ended_by_user":          "The chat has been closed. Thank you for contacting us!",
		"chat_ended_by_operator":      "Operator %s has closed the chat. Thank you for contacting us!",
		"chat_timeout":                "The chat was closed due to inactivity.",
		"no_chat_to_end":              "You have no active chat to end.",
		"support_button":              "Support",
		"end_chat_button":             "End chat",
		"claim_button":                "Reply",
		"claimed_button":              "Accepted by %s",
		"media_forwarded":             "Your file has been forwarded to the operator.",
		"operator_welcome":            "Operator mode: you will be notified of new support requests.",
		"operator_ack":                "You are connected to the chat. Messages you send will be relayed to the user.",
		"operator_chat_ended":         "The chat has been closed and archived.",
		"operator_chat_ended_by_user": "The user has ended the chat.",
		"operator_no_active_chat":     "You have no active chat. Wait for a request notification.",
		"not_an_operator":             "You are not an operator.",
		"request_not_found":           "This request no longer exists.",
		"already_claimed_by":          "This request was already accepted by %s.",
		"operator_busy":               "Finish your current chat before accepting a new request.",
		"claim_ack":                   "You are connected to the chat!",
		"pending_reminder":            "There is an unhandled support request. Check your notifications.",
		"new_request_header":          "New support request from %s (ID: %d):",
		"closed_chat_caption":         "Closed chat with %s (ID: %d)",
		"translation_label":           "Translation",
		"admin_only":                  "This command is available to the administrator only.",
		"no_users":                    "No users found.",
	},
	"ru": {
		"choose_lang":                 "Пожалуйста, выберите язык:",
		"hello":                       "Здравствуйте! Чем мы можем помочь?",
		"press_support":               "Пожалуйста, сначала нажмите кнопку «Поддержка», чтобы начать чат.",
		"waiting_question":            "Опишите ваш вопрос, и мы соединим вас с оператором.",
		"request_sent":                "Ваш запрос отправлен в поддержку. Оператор скоро подключится.",
		"already_active":              "У вас уже есть открытый чат с поддержкой.",
		"operator_joined":             "Оператор %s подключился к чату.",
		"chat_ended_by_user":          "Чат завершён. Спасибо за обращение!",
		"chat_ended_by_operator":      "Оператор %s завершил чат. Спасибо за обращение!",
		"chat_timeout":                "Чат закрыт из-за отсутствия активности.",
		"no_chat_to_end":              "У вас нет активного чата.",
		"support_button":              "Поддержка",
		"end_chat_button":             "Завершить чат",
		"claim_button":                "Ответить",
		"claimed_button":              "Принял %s",
		"media_forwarded":             "Ваш файл передан оператору.",
		"operator_welcome":            "Режим оператора: вы будете получать уведомления о новых запросах.",
		"operator_ack":                "Вы подключены к чату. Ваши сообщения будут пересланы пользователю.",
		"operator_chat_ended":         "Чат завершён и передан в архив.",
		"operator_chat_ended_by_user": "Пользователь завершил чат.",
		"operator_no_active_chat":     "У вас нет активного чата. Дождитесь уведомления о запросе.",
		"not_an_operator":             "Вы не оператор.",
		"request_not_found":           "Этот запрос больше не существует.",
		"already_claimed_by":          "Этот запрос уже принял %s.",
		"operator_busy":               "Завершите текущий чат, прежде чем принять новый запрос.",
		"claim_ack":                   "Вы подключились к чату!",
		"pending_reminder":            "Есть необработанный запрос! Проверьте уведомления.",
		"new_request_header":          "Новый запрос в поддержку от %s (ID: %d):",
		"closed_chat_caption":         "Завершённый чат с %s (ID: %d)",
		"translation_label":           "Перевод",
		"admin_only":                  "Эта команда доступна только администратору.",
		"no_users":                    "Пользователей не найдено.",
	},
	"uk": {
		"choose_lang":            "Будь ласка, оберіть мову:",
		"hello":                  "Вітаємо! Чим ми можемо допомогти?",
		"press_support":          "Будь ласка, спочатку натисніть кнопку «Підтримка», щоб почати чат.",
		"waiting_question":       "Опишіть ваше питання, і ми з'єднаємо вас з оператором.",
		"request_sent":           "Ваш запит надіслано в підтримку. Оператор скоро приєднається.",
		"already_active":         "У вас вже є відкритий чат з підтримкою.",
		"operator_joined":        "Оператор %s приєднався до чату.",
		"chat_ended_by_user":     "Чат завершено. Дякуємо за звернення!",
		"chat_ended_by_operator": "Оператор %s завершив чат. Дякуємо за звернення!",
		"chat_timeout":           "Чат закрито через відсутність активності.",
		"no_chat_to_end":         "У вас немає активного чату.",
		"support_button":         "Підтримка",
		"end_chat_button":        "Завершити чат",
		"media_forwarded":        "Ваш файл передано оператору.",
	},
	"tr": {
		"choose_lang":            "Lütfen dilinizi seçin:",
		"hello":                  "Merhaba! Size nasıl yardımcı olabiliriz?",
		"press_support":          "Sohbeti başlatmak için lütfen önce \"Destek\" düğmesine basın.",
		"waiting_question":       "Lütfen sorunuzu açıklayın, sizi bir operatöre bağlayacağız.",
		"request_sent":           "Talebiniz desteğe iletildi. Bir operatör kısa süre içinde katılacak.",
		"already_active":         "Zaten açık bir destek sohbetiniz var.",
		"operator_joined":        "Operatör %s sohbete katıldı.",
		"chat_ended_by_user":     "Sohbet kapatıldı. Bize ulaştığınız için teşekkürler!",
		"chat_ended_by_operator": "Operatör %s sohbeti kapattı. Bize ulaştığınız için teşekkürler!",
		"chat_timeout":           "Sohbet, etkinlik olmadığı için kapatıldı.",
		"no_chat_to_end":         "Sonlandırılacak aktif bir sohbetiniz yok.",
		"support_button":         "Destek",
		"end_chat_button":        "Sohbeti bitir",
		"media_forwarded":        "Dosyanız operatöre iletildi.",
	},
	"es": {
		"choose_lang":            "Por favor, elige tu idioma:",
		"hello":                  "¡Hola! ¿En qué podemos ayudarte?",
		"press_support":          "Primero pulsa el botón \"Soporte\" para iniciar un chat.",
		"waiting_question":       "Describe tu pregunta y te conectaremos con un operador.",
		"request_sent":           "Tu solicitud fue enviada a soporte. Un operador se unirá en breve.",
		"already_active":         "Ya tienes un chat de soporte abierto.",
		"operator_joined":        "El operador %s se ha unido al chat.",
		"chat_ended_by_user":     "El chat ha sido cerrado. ¡Gracias por contactarnos!",
		"chat_ended_by_operator": "El operador %s ha cerrado el chat. ¡Gracias por contactarnos!",
		"chat_timeout":           "El chat se cerró por inactividad.",
		"no_chat_to_end":         "No tienes ningún chat activo.",
		"support_button":         "Soporte",
		"end_chat_button":        "Terminar chat",
		"media_forwarded":        "Tu archivo fue reenviado al operador.",
	},
}

// T returns the string for key in lang, falling back to English.
func T(lang, key string) string {
	if table, ok := tables[lang]; ok {
		if s, ok := table[key]; ok {
			return s
		}
	}
	if s, ok := tables[fallback][key]; ok {
		return s
	}
	return key
}

// Tf formats the string for key in lang with args.
func Tf(lang, key string, args ...any) string {
	return fmt.Sprintf(T(lang, key), args...)
}

// Supported lists the languages offered in the language menu.
func Supported() []string {
	return []string{"en", "ru", "uk", "tr", "es"}
}
