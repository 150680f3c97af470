package notify

import "sidekick/internal/model"

var messages = map[model.NotificationType]string{
	model.NotifyDrowsy:     "Drowsiness detected. Consider taking a short break or stretching.",
	model.NotifyDistracted: "You seem distracted. Try focusing on one task at a time.",
	model.NotifyOverFocus:  "You have been focused for over 80 minutes. Take a 5-minute break.",
}

func Message(kind model.NotificationType) string {
	return messages[kind]
}
